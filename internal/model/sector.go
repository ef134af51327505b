// Package model defines the data structures used throughout the application.
//
// Every type here is also a document shape in the document store, so the
// `json:"..."` tags double as the stored field names. Changing a tag is a
// data migration, not a rename.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Collection names in the document store.
const (
	SectorsCollection = "sectors"
	UsersCollection   = "users"
	StatsCollection   = "stats"
	GlobalStatsID     = "global"
)

// Sector is one claimable cell of the globe.
//
// ID, Position and FaceSides are assigned once when the world is generated
// and never change. The occupant fields, Title, Media and StartTime are
// replaced together by a claim; LikeCount is reset to zero by that same write.
type Sector struct {
	ID             int        `json:"id"`
	OccupantID     string     `json:"occupantId"`
	OccupantName   string     `json:"occupantName"`
	OccupantAvatar string     `json:"occupantAvatar"`
	Title          string     `json:"title"`
	Media          Media      `json:"media"`
	StartTime      int64      `json:"startTime"` // unix milliseconds of the current claim
	LikeCount      int64      `json:"likeCount"`
	Position       [3]float64 `json:"position"`
	FaceSides      int        `json:"faceSides"` // 5 (pentagon) or 6 (hexagon)
}

// DocID is the document id the sector is stored under.
func (s Sector) DocID() string {
	return SectorDocID(s.ID)
}

// SectorDocID formats a sector id as a document id.
func SectorDocID(id int) string {
	return fmt.Sprintf("%d", id)
}

// LikeKey returns the composite key scoping likes to the current reign.
func (s Sector) LikeKey() LikeKey {
	return LikeKey{SectorID: s.ID, StartTime: s.StartTime}
}

// Reign is how long the current occupant has held the sector at now.
func (s Sector) Reign(now time.Time) time.Duration {
	d := now.Sub(time.UnixMilli(s.StartTime))
	if d < 0 {
		return 0
	}
	return d
}

// FormatReign renders a duration the way the globe overlay shows it:
// "1h 2m 3s", or "2m 3s" under an hour.
func FormatReign(d time.Duration) string {
	seconds := int64(d / time.Second)
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	return fmt.Sprintf("%dm %ds", m, s)
}

// LoopPrefix marks a Media value that carries a frame sequence.
const LoopPrefix = "LOOP:"

// Media is either a single image reference or an ordered loop of frames.
//
// WIRE FORMAT:
// A single image is stored as a plain string. A loop is stored as
// "LOOP:" followed by a JSON array of references, which keeps the field a
// single string column for readers that only know about images.
type Media struct {
	Frames []string
}

// SingleMedia wraps one image reference.
func SingleMedia(ref string) Media {
	return Media{Frames: []string{ref}}
}

// LoopMedia wraps an ordered frame sequence.
func LoopMedia(frames []string) Media {
	out := make([]string, len(frames))
	copy(out, frames)
	return Media{Frames: out}
}

// IsLoop reports whether the media replays more than one frame.
func (m Media) IsLoop() bool {
	return len(m.Frames) > 1
}

// IsZero reports whether there is nothing to show.
func (m Media) IsZero() bool {
	return len(m.Frames) == 0
}

// Frame returns frame i modulo the sequence length, so a caller can feed a
// monotonically increasing tick counter straight in.
func (m Media) Frame(i int) string {
	if len(m.Frames) == 0 {
		return ""
	}
	if i < 0 {
		i = -i
	}
	return m.Frames[i%len(m.Frames)]
}

// Encode renders the wire string.
func (m Media) Encode() string {
	switch len(m.Frames) {
	case 0:
		return ""
	case 1:
		return m.Frames[0]
	}
	raw, _ := json.Marshal(m.Frames) // []string cannot fail to marshal
	return LoopPrefix + string(raw)
}

// ParseMedia decodes the wire string. A "LOOP:" value whose payload is not a
// JSON string array falls back to a single reference of the raw value.
func ParseMedia(s string) Media {
	if s == "" {
		return Media{}
	}
	if rest, ok := strings.CutPrefix(s, LoopPrefix); ok {
		var frames []string
		if err := json.Unmarshal([]byte(rest), &frames); err == nil && len(frames) > 0 {
			return Media{Frames: frames}
		}
	}
	return SingleMedia(s)
}

func (m Media) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Encode())
}

func (m *Media) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("media: %w", err)
	}
	*m = ParseMedia(s)
	return nil
}
