// SPDX-License-Identifier: MIT
package yuketang

import (
	"context"
	"fmt"
	"net/url"

	xklog "github.com/wenhaoz/ykwatch/internal/log"
)

const videoLeafType = 0

// latestCoursewareID picks the courseware the learn log reports most recently.
// The platform lists the current activity second when more than one exists.
func (c *Client) latestCoursewareID(ctx context.Context, classroomID string) (string, error) {
	u := fmt.Sprintf("%s/v2/api/web/logs/learn/%s?actype=-1&page=0&offset=20&sort=-1",
		c.base, url.PathEscape(classroomID))

	var p struct {
		Data struct {
			Activities []struct {
				CoursewareID string `json:"courseware_id"`
			} `json:"activities"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "learn_logs", u, classroomID, &p); err != nil {
		return "", err
	}

	acts := p.Data.Activities
	if len(acts) > 1 && acts[1].CoursewareID != "" {
		return acts[1].CoursewareID, nil
	}
	for _, a := range acts {
		if a.CoursewareID != "" {
			return a.CoursewareID, nil
		}
	}
	return "", &APIError{Sentinel: ErrBadResponse, Operation: "learn_logs",
		Body: "no activity with a courseware id"}
}

type leafNode struct {
	ID       flexInt64 `json:"id"`
	LeafType flexInt64 `json:"leaf_type"`
}

type sectionNode struct {
	ID       flexInt64  `json:"id"`
	LeafType *flexInt64 `json:"leaf_type"`
	LeafList []leafNode `json:"leaf_list"`
}

// coursewareDetail fetches course identifiers and the chaptered video layout.
func (c *Client) coursewareDetail(ctx context.Context, coursewareID, classroomID string) (CourseInfo, [][]string, error) {
	u := fmt.Sprintf("%s/c27/online_courseware/xty/kls/pub_news/%s/",
		c.base, url.PathEscape(coursewareID))

	var p struct {
		Data struct {
			CourseID    flexInt64 `json:"course_id"`
			SID         flexInt64 `json:"s_id"`
			CShortName  string    `json:"c_short_name"`
			ContentInfo []struct {
				SectionList []struct {
					LeafList []leafNode `json:"leaf_list"`
				} `json:"section_list"`
				LeafList []leafNode `json:"leaf_list"`
			} `json:"content_info"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "courseware_detail", u, classroomID, &p); err != nil {
		return CourseInfo{}, nil, err
	}

	info := CourseInfo{
		CourseID:  int64(p.Data.CourseID),
		SKUID:     int64(p.Data.SID),
		ShortName: p.Data.CShortName,
	}

	chapters := make([][]string, 0, len(p.Data.ContentInfo))
	for _, ch := range p.Data.ContentInfo {
		var ids []string
		if len(ch.SectionList) > 0 {
			for _, sec := range ch.SectionList {
				ids = append(ids, videoLeafIDs(sec.LeafList)...)
			}
		} else {
			ids = videoLeafIDs(ch.LeafList)
		}
		chapters = append(chapters, ids)
	}
	return info, chapters, nil
}

// chapterVideoIDs is the fallback chapter listing. Some course layouts expose
// videos only through this endpoint, so its results are merged with the
// courseware detail per chapter.
func (c *Client) chapterVideoIDs(ctx context.Context, classroomID string, universityID int64) ([][]string, error) {
	q := url.Values{}
	q.Set("cid", classroomID)
	q.Set("term", "latest")
	q.Set("uv_id", fmt.Sprintf("%d", universityID))
	q.Set("classroom_id", classroomID)
	u := c.base + "/mooc-api/v1/lms/learn/course/chapter?" + q.Encode()

	var p struct {
		Data struct {
			CourseChapter []struct {
				SectionLeafList []sectionNode `json:"section_leaf_list"`
			} `json:"course_chapter"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "course_chapter", u, classroomID, &p); err != nil {
		return nil, err
	}

	out := make([][]string, 0, len(p.Data.CourseChapter))
	for _, ch := range p.Data.CourseChapter {
		var ids []string
		for _, sec := range ch.SectionLeafList {
			if len(sec.LeafList) > 0 {
				ids = append(ids, videoLeafIDs(sec.LeafList)...)
				continue
			}
			// Some nodes are themselves leaves (discussions, quizzes); only
			// video leaves count.
			if sec.LeafType != nil && int64(*sec.LeafType) == videoLeafType && sec.ID != 0 {
				ids = append(ids, fmt.Sprintf("%d", int64(sec.ID)))
			}
		}
		out = append(out, ids)
	}
	return out, nil
}

func videoLeafIDs(leaves []leafNode) []string {
	var ids []string
	for _, l := range leaves {
		if int64(l.LeafType) == videoLeafType && l.ID != 0 {
			ids = append(ids, fmt.Sprintf("%d", int64(l.ID)))
		}
	}
	return ids
}

// ResolveWatchables resolves the classroom's current courseware into the flat,
// ordered list of watchable items the session driver consumes. Video ids from
// the fallback chapter endpoint are merged per chapter, deduplicated by id.
func (c *Client) ResolveWatchables(ctx context.Context, classroomID string, universityID int64) (CourseInfo, []Chapter, error) {
	logger := xklog.WithComponentFromContext(ctx, "yuketang")

	cwID, err := c.latestCoursewareID(ctx, classroomID)
	if err != nil {
		return CourseInfo{}, nil, fmt.Errorf("learn logs: %w", err)
	}

	info, primary, err := c.coursewareDetail(ctx, cwID, classroomID)
	if err != nil {
		return CourseInfo{}, nil, fmt.Errorf("courseware %s: %w", cwID, err)
	}

	fallback, err := c.chapterVideoIDs(ctx, classroomID, universityID)
	if err != nil {
		// The fallback listing is best effort; course detail alone is usable.
		logger.Warn().Err(err).
			Str("event", "resolve.chapter_fallback_failed").
			Msg("chapter listing unavailable, using courseware detail only")
		fallback = nil
	}

	chapters := make([]Chapter, 0, len(primary))
	for i, ids := range primary {
		seen := make(map[string]bool, len(ids))
		merged := make([]string, 0, len(ids))
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				merged = append(merged, id)
			}
		}
		if i < len(fallback) {
			for _, id := range fallback[i] {
				if !seen[id] {
					seen[id] = true
					merged = append(merged, id)
				}
			}
		}

		ch := Chapter{Title: fmt.Sprintf("%s chapter %d", info.ShortName, i+1)}
		for j, id := range merged {
			ch.Videos = append(ch.Videos, Item{
				VideoID:     id,
				ClassroomID: classroomID,
				CourseID:    info.CourseID,
				SKUID:       info.SKUID,
				Chapter:     i + 1,
				Index:       j + 1,
			})
		}
		chapters = append(chapters, ch)
	}
	return info, chapters, nil
}
