// SPDX-License-Identifier: MIT
package yuketang

// Item identifies one watchable video leaf within a classroom. The platform
// addresses the same video under several ids; all of them are needed to build
// heartbeat and progress requests.
type Item struct {
	VideoID     string // leaf id as it appears in course content and progress keys
	Title       string
	ClassroomID string
	CourseID    int64 // platform course id ("cid" in progress, "c" in heartbeats)
	SKUID       int64
	Chapter     int // 1-based chapter index, for logging only
	Index       int // 1-based position within the chapter
}

// LeafMeta is the media descriptor returned by the leaf_info endpoint.
type LeafMeta struct {
	LeafID   int64   // numeric leaf id ("v" in heartbeats)
	UserID   int64   // id of the authenticated viewer
	CCID     string  // content id correlating subsequent progress polls
	Duration float64 // seconds; 0 when the platform has not resolved it yet
}

// Progress is the canonical server-side watch record for one video. Both
// observed response shapes (data-nested and top-level keyed) normalize into
// this struct; missing fields stay zero.
type Progress struct {
	WatchLength float64 // seconds credited by the server
	Completed   bool    // server completion flag; informational only
	VideoLength float64 // authoritative duration when present, else 0
}

// Chapter groups the video leaves of one course chapter.
type Chapter struct {
	Title  string
	Videos []Item
}

// CourseInfo carries the identifiers resolved from courseware detail that the
// per-video requests depend on.
type CourseInfo struct {
	CourseID  int64
	SKUID     int64
	ShortName string
}
