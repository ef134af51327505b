package client

import (
	"github.com/sakif/crono-esfera/internal/model"
)

// Event types pushed to the browser.
const (
	EventState         = "state"         // capture.Snapshot
	EventSectors       = "sectors"       // []SectorView
	EventSelected      = "selected"      // *SectorView, null when nothing is selected
	EventNotifications = "notifications" // []model.Notification
	EventProgress      = "progress"      // Progress
	EventFrame         = "frame"         // data URL of the latest composed frame
	EventProfile       = "profile"       // ProfileView
	EventIntro         = "intro"         // IntroView
	EventStats         = "stats"         // model.GlobalStats
	EventCamera        = "camera"        // CameraRequest
)

// Coalesces reports whether an unsent event of this type is worthless once a
// newer one of the same type exists. Sinks may keep only the latest of these;
// every other event must be delivered.
func Coalesces(eventType string) bool {
	return eventType == EventFrame || eventType == EventProgress
}

// Event is one message to the browser.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Sink delivers events to one browser. Send is called from the session's
// loop and from camera callbacks, so it must be safe for concurrent use and
// must not block.
type Sink interface {
	Send(Event)
}

// Command is one message from the browser. Fields not used by Type are
// left zero.
type Command struct {
	Type     string `json:"type"`
	SectorID int    `json:"sectorId"`
	Mode     string `json:"mode"`
	Filter   string `json:"filter"`
	Title    string `json:"title"`
	Reason   string `json:"reason"`
}

// Commands understood by Session.Dispatch. The camera.* answers are handled
// by the transport, which owns the remote camera.
const (
	CmdSectorSelect   = "sector.select"
	CmdSectorDeselect = "sector.deselect"
	CmdSectorLike     = "sector.like"
	CmdCaptureOpen    = "capture.open"
	CmdCaptureMode    = "capture.mode"
	CmdCaptureFilter  = "capture.filter"
	CmdCaptureSwitch  = "capture.switch"
	CmdCaptureShoot   = "capture.shoot"
	CmdCaptureBack    = "capture.back"
	CmdCaptureClose   = "capture.close"
	CmdCaptureTitle   = "capture.title"
	CmdCaptureConfirm = "capture.confirm"
	CmdIntroDismiss   = "intro.dismiss"
	CmdCameraGranted  = "camera.granted"
	CmdCameraDenied   = "camera.denied"
)

// SectorView is a sector as the globe draws it. Media bodies are not
// included; the page fetches frames from /media/{id}/{frame}.
type SectorView struct {
	ID             int        `json:"id"`
	OccupantID     string     `json:"occupantId"`
	OccupantName   string     `json:"occupantName"`
	OccupantAvatar string     `json:"occupantAvatar"`
	Title          string     `json:"title"`
	StartTime      int64      `json:"startTime"`
	LikeCount      int64      `json:"likeCount"`
	Position       [3]float64 `json:"position"`
	FaceSides      int        `json:"faceSides"`
	Frames         int        `json:"frames"`
	Loop           bool       `json:"loop"`
	Liked          bool       `json:"liked"`
	Own            bool       `json:"own"`
}

// NewSectorView projects s for the viewer with the given profile (nil when
// anonymous or not loaded yet).
func NewSectorView(s model.Sector, uid string, profile *model.UserProfile) SectorView {
	v := SectorView{
		ID:             s.ID,
		OccupantID:     s.OccupantID,
		OccupantName:   s.OccupantName,
		OccupantAvatar: s.OccupantAvatar,
		Title:          s.Title,
		StartTime:      s.StartTime,
		LikeCount:      s.LikeCount,
		Position:       s.Position,
		FaceSides:      s.FaceSides,
		Frames:         len(s.Media.Frames),
		Loop:           s.Media.IsLoop(),
		Own:            uid != "" && s.OccupantID == uid,
	}
	if profile != nil {
		v.Liked = profile.HasLiked(s.LikeKey())
	}
	return v
}

// ProfileView is the signed-in user's panel.
type ProfileView struct {
	SignedIn   bool                `json:"signedIn"`
	UID        string              `json:"uid,omitempty"`
	Name       string              `json:"name,omitempty"`
	Avatar     string              `json:"avatar,omitempty"`
	TotalLikes int64               `json:"totalLikes"`
	Loading    bool                `json:"loading"`
	History    []model.HistoryItem `json:"history"`
}

// Progress is loop recording progress.
type Progress struct {
	Frames  int `json:"frames"`
	Total   int `json:"total"`
	Percent int `json:"percent"`
}

// IntroView tells the page whether to show the intro overlay.
type IntroView struct {
	Open bool `json:"open"`
}

// CameraRequest asks the browser to open or close its camera.
type CameraRequest struct {
	Action string `json:"action"` // "open" or "close"
	Facing string `json:"facing,omitempty"`
}
