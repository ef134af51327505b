package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMediaEncode(t *testing.T) {
	tests := []struct {
		name  string
		media Media
		want  string
	}{
		{"empty", Media{}, ""},
		{"single", SingleMedia("https://picsum.photos/seed/a/800/800"), "https://picsum.photos/seed/a/800/800"},
		{"loop", LoopMedia([]string{"a", "b", "c"}), `LOOP:["a","b","c"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.media.Encode(); got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseMedia(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		wantFrames int
		wantLoop   bool
	}{
		{"empty string", "", 0, false},
		{"plain url", "data:image/jpeg;base64,AAAA", 1, false},
		{"loop", `LOOP:["x","y"]`, 2, true},
		{"broken loop falls back to single", `LOOP:[not json`, 1, false},
		{"empty loop falls back to single", `LOOP:[]`, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ParseMedia(tt.in)
			if len(m.Frames) != tt.wantFrames {
				t.Errorf("len(Frames) = %d, want %d", len(m.Frames), tt.wantFrames)
			}
			if m.IsLoop() != tt.wantLoop {
				t.Errorf("IsLoop() = %v, want %v", m.IsLoop(), tt.wantLoop)
			}
		})
	}
}

func TestMediaFrameCycles(t *testing.T) {
	m := LoopMedia([]string{"a", "b", "c"})
	want := []string{"a", "b", "c", "a", "b"}
	for i, w := range want {
		if got := m.Frame(i); got != w {
			t.Errorf("Frame(%d) = %q, want %q", i, got, w)
		}
	}
	if got := (Media{}).Frame(3); got != "" {
		t.Errorf("empty Frame() = %q, want empty", got)
	}
}

func TestSectorJSONKeepsLoopAsString(t *testing.T) {
	s := Sector{ID: 7, Title: "SETOR", Media: LoopMedia([]string{"f1", "f2"}), FaceSides: 5}

	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if fields["media"] != `LOOP:["f1","f2"]` {
		t.Errorf("media field = %v, want loop string", fields["media"])
	}

	var back Sector
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("Unmarshal(Sector) error = %v", err)
	}
	if !back.Media.IsLoop() || back.Media.Frame(1) != "f2" {
		t.Errorf("decoded media = %+v, want two-frame loop", back.Media)
	}
}

func TestLikeKey(t *testing.T) {
	k := LikeKey{SectorID: 12, StartTime: 1700000000123}
	if k.String() != "12-1700000000123" {
		t.Fatalf("String() = %q", k.String())
	}

	parsed, err := ParseLikeKey(k.String())
	if err != nil {
		t.Fatalf("ParseLikeKey() error = %v", err)
	}
	if parsed != k {
		t.Errorf("ParseLikeKey() = %+v, want %+v", parsed, k)
	}

	for _, bad := range []string{"", "12", "x-1", "1-y"} {
		if _, err := ParseLikeKey(bad); err == nil {
			t.Errorf("ParseLikeKey(%q) should fail", bad)
		}
	}
}

func TestHasLikedIsReignScoped(t *testing.T) {
	p := UserProfile{LikedSectorKeys: []string{"3-100"}}

	if !p.HasLiked(LikeKey{SectorID: 3, StartTime: 100}) {
		t.Error("HasLiked() = false for the liked reign")
	}
	if p.HasLiked(LikeKey{SectorID: 3, StartTime: 200}) {
		t.Error("HasLiked() = true for a later reign of the same sector")
	}
}

func TestFormatReign(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0m 0s"},
		{65 * time.Second, "1m 5s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 2m 3s"},
	}
	for _, tt := range tests {
		if got := FormatReign(tt.d); got != tt.want {
			t.Errorf("FormatReign(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestReignNeverNegative(t *testing.T) {
	now := time.UnixMilli(1000)
	s := Sector{StartTime: 5000}
	if got := s.Reign(now); got != 0 {
		t.Errorf("Reign() = %v, want 0 for a start time in the future", got)
	}
}
