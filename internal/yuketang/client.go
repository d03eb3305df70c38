// SPDX-License-Identifier: MIT

// Package yuketang is the telemetry client for the Yuketang web API. It issues
// the remote operations the engine needs (progress polls, heartbeat reports,
// media metadata) plus the course-content resolution that yields the watchable
// item list. It is pure request/response: no retries, no state; all retry
// policy lives with the caller.
package yuketang

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultTimeout = 10 * time.Second

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Options configures a Client. The cookie header must belong to an already
// authenticated session; establishing one is the caller's responsibility.
type Options struct {
	Timeout    time.Duration // per-request timeout, default 10s
	Cookie     string        // session cookie header value
	UserAgent  string
	HTTPClient *http.Client // optional pre-built client; Timeout is ignored when set
}

// Client talks to the Yuketang API. Construct one explicitly and pass it into
// every component; there is no process-wide instance.
type Client struct {
	base      string
	http      *http.Client
	cookie    string
	userAgent string
}

// New creates a client for the given base URL (e.g. "https://www.yuketang.cn").
func New(base string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Client{
		base:      strings.TrimRight(base, "/"),
		http:      hc,
		cookie:    opts.Cookie,
		userAgent: ua,
	}
}

func (c *Client) newRequest(ctx context.Context, method, rawURL, classroomID string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("xtbz", "ykt")
	req.Header.Set("x-client", "web")
	if classroomID != "" {
		req.Header.Set("classroom-id", classroomID)
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	return req, nil
}

// classify maps a transport error onto the sentinel taxonomy.
func classify(op string, err error) error {
	sentinel := ErrUnavailable
	var netErr interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		sentinel = ErrTimeout
	}
	return &APIError{Sentinel: sentinel, Operation: op, Err: err}
}

// statusError maps a non-2xx response onto the sentinel taxonomy.
func statusError(op string, status int, body []byte) error {
	sentinel := ErrBadResponse
	switch {
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		sentinel = ErrForbidden
	case status >= 500:
		sentinel = ErrUpstream
	}
	snippet := string(body)
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return &APIError{Sentinel: sentinel, Operation: op, Status: status, Body: snippet}
}

// getJSON performs an authenticated GET and decodes the response into v.
func (c *Client) getJSON(ctx context.Context, op, rawURL, classroomID string, v any) error {
	req, err := c.newRequest(ctx, http.MethodGet, rawURL, classroomID, nil)
	if err != nil {
		return &APIError{Sentinel: ErrBadResponse, Operation: op, Err: err}
	}
	res, err := c.http.Do(req)
	if err != nil {
		return classify(op, err)
	}
	defer res.Body.Close() //nolint:errcheck
	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return statusError(op, res.StatusCode, body)
	}
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return &APIError{Sentinel: ErrBadResponse, Operation: op, Status: res.StatusCode, Err: err}
	}
	return nil
}

// LeafInfo fetches the media descriptor for one video leaf.
func (c *Client) LeafInfo(ctx context.Context, classroomID, videoID string) (LeafMeta, error) {
	u := fmt.Sprintf("%s/mooc-api/v1/lms/learn/leaf_info/%s/%s/",
		c.base, url.PathEscape(classroomID), url.PathEscape(videoID))

	var p struct {
		Data struct {
			ID          flexInt64 `json:"id"`
			UserID      flexInt64 `json:"user_id"`
			ContentInfo struct {
				Media struct {
					CCID     string      `json:"ccid"`
					Duration flexFloat64 `json:"duration"`
				} `json:"media"`
			} `json:"content_info"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "leaf_info", u, classroomID, &p); err != nil {
		return LeafMeta{}, err
	}
	return LeafMeta{
		LeafID:   int64(p.Data.ID),
		UserID:   int64(p.Data.UserID),
		CCID:     p.Data.ContentInfo.Media.CCID,
		Duration: float64(p.Data.ContentInfo.Media.Duration),
	}, nil
}

type progressRecord struct {
	WatchLength flexFloat64 `json:"watch_length"`
	Completed   flexInt64   `json:"completed"`
	VideoLength flexFloat64 `json:"video_length"`
}

// WatchProgress fetches the server-side watch record for one video. The
// response keys the record either under "data" or at the top level; both
// shapes normalize into the same Progress. A valid response that lacks the
// video's record yields a zero Progress and no error.
func (c *Client) WatchProgress(ctx context.Context, item Item, userID int64) (Progress, error) {
	q := url.Values{}
	q.Set("cid", fmt.Sprintf("%d", item.CourseID))
	q.Set("user_id", fmt.Sprintf("%d", userID))
	q.Set("classroom_id", item.ClassroomID)
	q.Set("video_type", "video")
	q.Set("vtype", "rate")
	q.Set("video_id", item.VideoID)
	q.Set("snapshot", "1")
	u := c.base + "/video-log/get_video_watch_progress/?" + q.Encode()

	var envelope map[string]json.RawMessage
	if err := c.getJSON(ctx, "watch_progress", u, item.ClassroomID, &envelope); err != nil {
		return Progress{}, err
	}

	raw := extractProgressRecord(envelope, item.VideoID)
	if raw == nil {
		return Progress{}, nil
	}
	var rec progressRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Progress{}, &APIError{Sentinel: ErrBadResponse, Operation: "watch_progress", Err: err}
	}
	return Progress{
		WatchLength: float64(rec.WatchLength),
		Completed:   rec.Completed == 1,
		VideoLength: float64(rec.VideoLength),
	}, nil
}

// extractProgressRecord resolves the two observed response shapes:
// {"data": {"<id>": {...}}} and {"<id>": {...}}.
func extractProgressRecord(envelope map[string]json.RawMessage, videoID string) json.RawMessage {
	if data, ok := envelope["data"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(data, &nested); err == nil {
			if raw, ok := nested[videoID]; ok {
				return raw
			}
		}
	}
	if raw, ok := envelope[videoID]; ok {
		return raw
	}
	return nil
}

// Heartbeat reports one telemetry record. Delivery is judged solely by the
// HTTP status; a non-2xx response returns (false, nil) so the caller's retry
// budget applies uniformly to rejections and transport failures.
func (c *Client) Heartbeat(ctx context.Context, hb HeartbeatPayload) (bool, error) {
	body, err := json.Marshal(map[string][]HeartbeatPayload{"heart_data": {hb}})
	if err != nil {
		return false, &APIError{Sentinel: ErrBadResponse, Operation: "heartbeat", Err: err}
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.base+"/video-log/heartbeat/", hb.ClassroomID, bytes.NewReader(body))
	if err != nil {
		return false, &APIError{Sentinel: ErrBadResponse, Operation: "heartbeat", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return false, classify("heartbeat", err)
	}
	defer res.Body.Close()               //nolint:errcheck
	_, _ = io.Copy(io.Discard, res.Body) // drain for connection reuse
	return res.StatusCode >= 200 && res.StatusCode <= 299, nil
}
