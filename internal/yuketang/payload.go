package yuketang

import (
	"math"
	"math/rand"
	"strconv"
)

// HeartbeatPayload is the immutable telemetry snapshot sent per tick. Field
// names and ordering follow the web player's wire format. The buffer and
// signal-quality style fields are cosmetic: they randomize per tick to resemble
// a real player but carry no meaning for progress crediting.
type HeartbeatPayload struct {
	Interval    int     `json:"i"`
	EventType   string  `json:"et"`
	Platform    string  `json:"p"`
	Node        string  `json:"n"`
	LOB         string  `json:"lob"`
	Cursor      float64 `json:"cp"`
	FramePct    int     `json:"fp"`
	TotalPct    int     `json:"tp"`
	Speed       int     `json:"sp"`
	Timestamp   string  `json:"ts"`
	UserID      int64   `json:"u"`
	UserIP      string  `json:"uip"`
	CourseID    int64   `json:"c"`
	LeafID      int64   `json:"v"`
	SKUID       int64   `json:"skuid"`
	ClassroomID string  `json:"classroomid"`
	CCID        string  `json:"cc"`
	Duration    int     `json:"d"`
	Page        string  `json:"pg"`
	Quality     int     `json:"sq"`
	Type        string  `json:"t"`
	CardsID     int     `json:"cards_id"`
	Slide       int     `json:"slide"`
	VideoURL    string  `json:"v_url"`
}

const pageSuffix = "_x33v"

// NewHeartbeat builds the payload for one tick. duration is the resolved item
// duration (which may differ from meta.Duration when it was adopted from a
// progress poll), cursor the simulated playback position in seconds and
// tsPointer the millisecond timestamp clock.
func NewHeartbeat(item Item, meta LeafMeta, duration, cursor float64, tsPointer int64, rng *rand.Rand) HeartbeatPayload {
	return HeartbeatPayload{
		Interval:    3 + rng.Intn(6),
		EventType:   "heartbeat",
		Platform:    "web",
		Node:        "ali-cdn.xuetangx.com",
		LOB:         "ykt",
		Cursor:      math.Round(cursor*100) / 100,
		FramePct:    80 + rng.Intn(21),
		TotalPct:    100,
		Speed:       4 + rng.Intn(3),
		Timestamp:   strconv.FormatInt(tsPointer, 10),
		UserID:      meta.UserID,
		CourseID:    item.CourseID,
		LeafID:      meta.LeafID,
		SKUID:       item.SKUID,
		ClassroomID: item.ClassroomID,
		CCID:        meta.CCID,
		Duration:    int(duration),
		Page:        item.VideoID + pageSuffix,
		Quality:     8 + rng.Intn(8),
		Type:        "video",
	}
}
