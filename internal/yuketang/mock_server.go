// SPDX-License-Identifier: MIT
package yuketang

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// MockVideo is the scripted server-side state for one video.
type MockVideo struct {
	Duration  float64
	Watch     float64
	Completed bool

	// CreditCap bounds how much watch time the server will credit; 0 means
	// the full duration. Models the platform quirk where reported watch
	// length lags or caps below the real duration.
	CreditCap float64

	// RestartLiftsCap makes the server re-measure after it observes the
	// cursor regress to (near) zero: the cap is removed and the watch record
	// reset to the regressed cursor.
	RestartLiftsCap bool

	// HeartbeatFailures makes the next N heartbeat posts fail with a 500.
	HeartbeatFailures int

	// OmitRecord serves a progress response without this video's record.
	OmitRecord bool

	// TopLevel serves the progress record at the top level of the response
	// instead of nested under "data".
	TopLevel bool

	lastCursor float64
	restarted  bool
}

// MockServer provides a configurable Yuketang mock server for testing.
type MockServer struct {
	*httptest.Server
	mu sync.RWMutex

	videos       map[string]*MockVideo
	chapters     [][]string
	coursewareID string
	courseID     int64
	skuID        int64
	userID       int64

	heartbeats    map[string]int
	progressPolls int
}

// NewMockServer creates a mock server with empty course content; use AddVideo
// and SetChapters to script it.
func NewMockServer() *MockServer {
	m := &MockServer{
		videos:       make(map[string]*MockVideo),
		coursewareID: "cw-1",
		courseID:     9001,
		skuID:        4001,
		userID:       777,
		heartbeats:   make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/api/web/logs/learn/", m.handleLearnLogs)
	mux.HandleFunc("/c27/online_courseware/xty/kls/pub_news/", m.handleCourseware)
	mux.HandleFunc("/mooc-api/v1/lms/learn/course/chapter", m.handleChapters)
	mux.HandleFunc("/mooc-api/v1/lms/learn/leaf_info/", m.handleLeafInfo)
	mux.HandleFunc("/video-log/get_video_watch_progress/", m.handleProgress)
	mux.HandleFunc("/video-log/heartbeat/", m.handleHeartbeat)

	m.Server = httptest.NewServer(mux)
	return m
}

// AddVideo registers a video; it also lands in a single default chapter unless
// SetChapters was called.
func (m *MockServer) AddVideo(id string, v MockVideo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vc := v
	m.videos[id] = &vc
	if m.chapters == nil {
		m.chapters = [][]string{{}}
	}
	if len(m.chapters) == 1 {
		m.chapters[0] = append(m.chapters[0], id)
	}
}

// SetChapters overrides the chapter layout served by courseware detail.
func (m *MockServer) SetChapters(chapters [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chapters = chapters
}

// Heartbeats returns how many heartbeat posts were accepted for a video.
func (m *MockServer) Heartbeats(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.heartbeats[id]
}

// ProgressPolls returns the total number of progress requests served.
func (m *MockServer) ProgressPolls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.progressPolls
}

// Video returns a copy of the scripted state for assertions.
func (m *MockServer) Video(id string) MockVideo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.videos[id]; ok {
		return *v
	}
	return MockVideo{}
}

func (m *MockServer) handleLearnLogs(w http.ResponseWriter, _ *http.Request) {
	m.mu.RLock()
	cwID := m.coursewareID
	m.mu.RUnlock()
	writeJSON(w, map[string]any{
		"data": map[string]any{
			"activities": []map[string]any{
				{"courseware_id": cwID},
			},
		},
	})
}

func (m *MockServer) handleCourseware(w http.ResponseWriter, _ *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	content := make([]map[string]any, 0, len(m.chapters))
	for _, ids := range m.chapters {
		leaves := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			leaves = append(leaves, map[string]any{"id": id, "leaf_type": 0})
		}
		content = append(content, map[string]any{"leaf_list": leaves})
	}
	writeJSON(w, map[string]any{
		"data": map[string]any{
			"course_id":    m.courseID,
			"s_id":         m.skuID,
			"c_short_name": "mock course",
			"content_info": content,
		},
	})
}

func (m *MockServer) handleChapters(w http.ResponseWriter, _ *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chapters := make([]map[string]any, 0, len(m.chapters))
	for _, ids := range m.chapters {
		leaves := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			leaves = append(leaves, map[string]any{"id": id, "leaf_type": 0})
		}
		chapters = append(chapters, map[string]any{
			"section_leaf_list": []map[string]any{{"leaf_list": leaves}},
		})
	}
	writeJSON(w, map[string]any{
		"data": map[string]any{"course_chapter": chapters},
	})
}

func (m *MockServer) handleLeafInfo(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	videoID := parts[len(parts)-1]

	m.mu.RLock()
	v, ok := m.videos[videoID]
	var duration float64
	if ok {
		duration = v.Duration
	}
	userID := m.userID
	m.mu.RUnlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	leafID, _ := strconv.ParseInt(videoID, 10, 64)
	writeJSON(w, map[string]any{
		"data": map[string]any{
			"id":      leafID,
			"user_id": userID,
			"content_info": map[string]any{
				"media": map[string]any{
					"ccid":     "cc-" + videoID,
					"duration": duration,
				},
			},
		},
	})
}

func (m *MockServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	videoID := r.URL.Query().Get("video_id")

	m.mu.Lock()
	m.progressPolls++
	v, ok := m.videos[videoID]
	if !ok || v.OmitRecord {
		m.mu.Unlock()
		writeJSON(w, map[string]any{"data": map[string]any{}})
		return
	}
	completed := 0
	if v.Completed {
		completed = 1
	}
	record := map[string]any{
		"watch_length": v.Watch,
		"completed":    completed,
		"video_length": v.Duration,
	}
	topLevel := v.TopLevel
	m.mu.Unlock()

	if topLevel {
		writeJSON(w, map[string]any{videoID: record})
		return
	}
	writeJSON(w, map[string]any{"data": map[string]any{videoID: record}})
}

func (m *MockServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		HeartData []struct {
			Cursor float64 `json:"cp"`
			Page   string  `json:"pg"`
		} `json:"heart_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.HeartData) != 1 {
		http.Error(w, "bad heartbeat", http.StatusBadRequest)
		return
	}
	hb := body.HeartData[0]
	videoID := strings.TrimSuffix(hb.Page, pageSuffix)

	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[videoID]
	if !ok {
		http.Error(w, "unknown video", http.StatusNotFound)
		return
	}
	if v.HeartbeatFailures > 0 {
		v.HeartbeatFailures--
		http.Error(w, "upstream glitch", http.StatusInternalServerError)
		return
	}

	// Re-measure after a restart: the cursor regressing far below its last
	// reported position models the player starting over.
	if v.RestartLiftsCap && !v.restarted && v.lastCursor > hb.Cursor+v.Duration/2 {
		v.restarted = true
		v.CreditCap = 0
		v.Watch = hb.Cursor
	}
	v.lastCursor = hb.Cursor

	limit := v.CreditCap
	if limit <= 0 || (v.restarted && v.RestartLiftsCap) {
		limit = v.Duration
	}
	credit := hb.Cursor
	if credit > limit {
		credit = limit
	}
	if credit > v.Watch {
		v.Watch = credit
	}
	if v.Watch >= v.Duration && v.Duration > 0 {
		v.Completed = true
	}

	m.heartbeats[videoID]++
	writeJSON(w, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Println("mock: encode:", err)
	}
}
