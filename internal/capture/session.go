// Package capture drives the claim flow of one client: pick a mode, film
// through a filter, review, title and publish.
//
// STATES:
//
//	mode_select ──SelectMode──▶ camera ──Capture──▶ preview ──Confirm──▶ closed
//	     ▲                        │  ▲                 │
//	     └──────────Back──────────┘  └──────Back───────┘
//
// Close is accepted from every state and always ends in closed; Open starts
// a new flow from closed.
//
// THREADING:
// A Session belongs to one event loop and every method must be called on it.
// Slow work (camera acquisition, publishing) runs on its own goroutine and
// posts its result back to the loop. The camera handle is released on every
// path out of the camera state, including failures and Close.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/crono-esfera/internal/apperror"
	"github.com/sakif/crono-esfera/internal/camera"
	"github.com/sakif/crono-esfera/internal/compositor"
	"github.com/sakif/crono-esfera/internal/media"
	"github.com/sakif/crono-esfera/internal/model"
	"github.com/sakif/crono-esfera/internal/service"
)

// State is a step of the flow.
type State string

const (
	StateModeSelect State = "mode_select"
	StateCamera     State = "camera"
	StatePreview    State = "preview"
	StateClosed     State = "closed"
)

// Mode selects between a still photo and a short loop.
type Mode string

const (
	ModePhoto Mode = "photo"
	ModeLoop  Mode = "loop"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePhoto, ModeLoop:
		return Mode(s), nil
	}
	return "", apperror.ValidationFailed("mode", MsgUnknownMode)
}

// Loop capture parameters.
const (
	LoopFrames         = 20
	LoopSampleInterval = 100 * time.Millisecond
)

// User-facing messages.
const (
	MsgCameraBlocked = "Câmera bloqueada."
	MsgPublishFailed = service.MsgClaimFailed
	MsgUnknownMode   = "Modo de captura inválido."
)

// ErrInvalidState is returned when an operation does not apply to the
// current state. It is a no-op, never a partial change.
var ErrInvalidState = errors.New("capture: operation not valid in current state")

// ErrFrameNotReady is returned by Capture before the first frame was composed.
var ErrFrameNotReady = errors.New("capture: no frame composed yet")

// EventLoop is the part of *eventloop.Loop a session needs.
type EventLoop interface {
	Post(fn func()) bool
	Every(ctx context.Context, interval time.Duration, fn func())
}

// PublishRequest is what Confirm hands to the claim operation.
type PublishRequest struct {
	SectorID int
	Title    string
	Media    model.Media
}

// Publisher performs the claim. It is called off the loop.
type Publisher interface {
	Publish(ctx context.Context, req PublishRequest) error
}

// Snapshot is the externally visible state, pushed to the UI on change.
type Snapshot struct {
	State      State             `json:"state"`
	Mode       Mode              `json:"mode,omitempty"`
	Facing     camera.Facing     `json:"facing"`
	Filter     compositor.Filter `json:"filter"`
	SectorID   int               `json:"sectorId"`
	Title      string            `json:"title"`
	Media      model.Media       `json:"media"`
	Acquiring  bool              `json:"acquiring"`
	Recording  bool              `json:"recording"`
	Progress   int               `json:"progress"`
	Publishing bool              `json:"publishing"`
}

// Config wires a session to its collaborators.
type Config struct {
	Device     camera.Device
	Loop       EventLoop
	Compositor *compositor.Compositor
	Publisher  Publisher
	Logger     *slog.Logger

	// Authenticated reports whether someone is signed in right now.
	Authenticated func() bool
	// Notify pushes a user-facing message.
	Notify func(msg string)
	// OnChange receives the snapshot after every transition.
	OnChange func(Snapshot)
	// OnProgress receives loop recording progress as n of total.
	OnProgress func(n, total int)
	// OnFrame receives every composed preview frame.
	OnFrame func(*image.RGBA)

	FrameInterval  time.Duration // default compositor.DefaultInterval
	SampleInterval time.Duration // default LoopSampleInterval
	AcquireTimeout time.Duration // default 30s
}

type recording struct {
	ctx    context.Context
	cancel context.CancelFunc
	frames []string
}

// Session is one capture flow.
type Session struct {
	cfg Config
	ctx context.Context

	state     State
	mode      Mode
	facing    camera.Facing
	filter    compositor.Filter
	sectorID  int
	title     string
	media     model.Media
	handle    camera.Handle
	task      *compositor.Task
	rec       *recording
	acquiring bool
	acquireID uint64
	// cancelAcquire aborts the acquisition in flight, if any.
	cancelAcquire context.CancelFunc

	publishing bool
}

// New creates a closed session. ctx bounds every goroutine it starts.
func New(ctx context.Context, cfg Config) *Session {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = compositor.DefaultInterval
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = LoopSampleInterval
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.Compositor == nil {
		cfg.Compositor = compositor.New(compositor.DefaultSize)
	}
	if cfg.Notify == nil {
		cfg.Notify = func(string) {}
	}
	if cfg.Authenticated == nil {
		cfg.Authenticated = func() bool { return false }
	}
	return &Session{
		cfg:    cfg,
		ctx:    ctx,
		state:  StateClosed,
		facing: camera.FacingUser,
		filter: compositor.None,
	}
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		State:      s.state,
		Mode:       s.mode,
		Facing:     s.facing,
		Filter:     s.filter,
		SectorID:   s.sectorID,
		Title:      s.title,
		Media:      s.media,
		Acquiring:  s.acquiring,
		Publishing: s.publishing,
	}
	if s.rec != nil {
		snap.Recording = true
		snap.Progress = len(s.rec.frames)
	}
	return snap
}

// State is a shortcut for Snapshot().State.
func (s *Session) State() State { return s.state }

// Open starts a flow for sectorID.
func (s *Session) Open(sectorID int) error {
	if s.state != StateClosed {
		return ErrInvalidState
	}
	s.reset()
	s.sectorID = sectorID
	s.state = StateModeSelect
	s.changed()
	return nil
}

// SelectMode picks photo or loop and asks for the front camera. The state
// becomes camera once the camera is granted; on refusal it stays in
// mode_select and the user is notified.
func (s *Session) SelectMode(m Mode) error {
	if s.state != StateModeSelect || s.acquiring {
		return ErrInvalidState
	}
	s.mode = m
	s.facing = camera.FacingUser
	s.acquire(camera.FacingUser)
	return nil
}

// SetFilter switches the live filter.
func (s *Session) SetFilter(f compositor.Filter) error {
	if s.state != StateCamera || s.rec != nil {
		return ErrInvalidState
	}
	s.filter = f
	if s.task != nil {
		s.task.SetFilter(f)
	}
	s.changed()
	return nil
}

// SwitchFacing re-acquires the camera with the other facing. The filter
// goes back to none.
func (s *Session) SwitchFacing() error {
	if s.state != StateCamera || s.acquiring || s.rec != nil {
		return ErrInvalidState
	}
	s.releaseCamera()
	s.facing = s.facing.Toggle()
	s.filter = compositor.None
	s.acquire(s.facing)
	return nil
}

// Capture takes the photo, or starts recording the loop.
func (s *Session) Capture() error {
	if s.state != StateCamera || s.task == nil || s.rec != nil {
		return ErrInvalidState
	}

	if s.mode == ModePhoto {
		frame, ok := s.task.Last()
		if !ok {
			return ErrFrameNotReady
		}
		ref, err := media.EncodeJPEG(frame, media.PhotoQuality)
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		s.releaseCamera()
		s.media = model.SingleMedia(ref)
		s.state = StatePreview
		s.changed()
		return nil
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.rec = &recording{ctx: ctx, cancel: cancel}
	rec := s.rec
	s.cfg.Loop.Every(ctx, s.cfg.SampleInterval, func() { s.sample(rec) })
	s.progress(0)
	s.changed()
	return nil
}

// sample appends one frame to the recording. Ticks without a composed frame
// do not count.
func (s *Session) sample(rec *recording) {
	if rec.ctx.Err() != nil || s.rec != rec {
		return
	}
	frame, ok := s.task.Last()
	if !ok {
		return
	}
	ref, err := media.EncodeJPEG(frame, media.LoopQuality)
	if err != nil {
		s.cfg.Logger.Error("encoding loop frame", slog.String("error", err.Error()))
		return
	}
	rec.frames = append(rec.frames, ref)
	s.progress(len(rec.frames))

	if len(rec.frames) < LoopFrames {
		return
	}
	frames := rec.frames
	s.releaseCamera() // also ends the recording
	s.media = model.LoopMedia(frames)
	s.state = StatePreview
	s.changed()
}

// SetTitle stores the title typed in preview.
func (s *Session) SetTitle(title string) error {
	if s.state != StatePreview {
		return ErrInvalidState
	}
	s.title = title
	s.changed()
	return nil
}

// Back steps backwards: camera → mode_select (facing back to front), and
// preview → camera with the same facing and the media discarded.
func (s *Session) Back() error {
	switch s.state {
	case StateCamera:
		s.releaseCamera()
		s.abortAcquire()
		s.acquiring = false
		s.facing = camera.FacingUser
		s.state = StateModeSelect
		s.changed()
		return nil
	case StatePreview:
		if s.publishing {
			return ErrInvalidState
		}
		s.media = model.Media{}
		s.acquire(s.facing)
		return nil
	}
	return ErrInvalidState
}

// Close abandons the flow from any state. A loop being recorded is dropped
// without keeping any frame.
func (s *Session) Close() {
	if s.state == StateClosed {
		return
	}
	s.releaseCamera()
	s.abortAcquire()
	s.reset()
	s.state = StateClosed
	s.changed()
}

// Confirm publishes the captured media under the typed title. On success the
// flow closes; on failure it stays in preview and the user is notified.
func (s *Session) Confirm() error {
	if s.state != StatePreview || s.publishing {
		return ErrInvalidState
	}
	if _, err := service.ValidateClaim(s.title, s.media); err != nil {
		return err
	}
	if !s.cfg.Authenticated() {
		return apperror.Unauthenticated(service.MsgClaimNeedsLogin)
	}
	title := strings.TrimSpace(s.title)

	req := PublishRequest{SectorID: s.sectorID, Title: title, Media: s.media}
	s.publishing = true
	s.changed()

	go func() {
		err := s.cfg.Publisher.Publish(s.ctx, req)
		s.cfg.Loop.Post(func() { s.published(req, err) })
	}()
	return nil
}

func (s *Session) published(req PublishRequest, err error) {
	s.publishing = false
	if s.state != StatePreview {
		return
	}
	if err != nil {
		s.cfg.Logger.Error("publishing claim",
			slog.Int("sector", req.SectorID),
			slog.String("error", err.Error()),
		)
		s.cfg.Notify(MsgPublishFailed)
		s.changed()
		return
	}
	s.reset()
	s.state = StateClosed
	s.changed()
}

// =========================================================================
// CAMERA LIFECYCLE
// =========================================================================

// acquire asks the device for facing on a separate goroutine. Starting a new
// acquisition cancels the previous one, and so do Back and Close. A handle
// that still arrives for a superseded acquisition is released immediately.
func (s *Session) acquire(facing camera.Facing) {
	s.abortAcquire()
	id := s.acquireID
	s.acquiring = true
	s.changed()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.AcquireTimeout)
	s.cancelAcquire = cancel

	dev := s.cfg.Device
	go func() {
		defer cancel()
		h, err := dev.Acquire(ctx, facing)
		posted := s.cfg.Loop.Post(func() { s.acquired(id, h, err) })
		if !posted && err == nil {
			dev.Release(h)
		}
	}()
}

func (s *Session) acquired(id uint64, h camera.Handle, err error) {
	if id != s.acquireID {
		if err == nil {
			s.cfg.Device.Release(h)
		}
		return
	}
	s.acquiring = false
	s.cancelAcquire = nil

	if err != nil {
		s.cfg.Logger.Warn("camera acquisition failed", slog.String("error", err.Error()))
		s.cfg.Notify(MsgCameraBlocked)
		if s.state != StateModeSelect {
			// Back from preview or a facing switch that failed.
			s.media = model.Media{}
			s.facing = camera.FacingUser
			s.state = StateModeSelect
		}
		s.changed()
		return
	}

	s.handle = h
	s.filter = compositor.None
	s.task = compositor.StartTask(s.ctx, s.cfg.Loop, s.cfg.FrameInterval, s.cfg.Compositor, h, h.Facing().Mirrored(), s.cfg.OnFrame)
	s.state = StateCamera
	s.changed()
}

// abortAcquire cancels the acquisition in flight and makes sure its result,
// should one still be posted, is ignored.
func (s *Session) abortAcquire() {
	s.acquireID++
	if s.cancelAcquire != nil {
		s.cancelAcquire()
		s.cancelAcquire = nil
	}
}

// releaseCamera stops compositing and any recording and gives the handle
// back. Safe to call when nothing is held.
func (s *Session) releaseCamera() {
	if s.rec != nil {
		s.rec.cancel()
		s.rec = nil
	}
	if s.task != nil {
		s.task.Stop()
		s.task = nil
	}
	if s.handle != nil {
		s.cfg.Device.Release(s.handle)
		s.handle = nil
	}
}

// HoldsCamera reports whether a camera handle is currently held.
func (s *Session) HoldsCamera() bool { return s.handle != nil }

func (s *Session) reset() {
	s.mode = ""
	s.facing = camera.FacingUser
	s.filter = compositor.None
	s.title = ""
	s.media = model.Media{}
	s.acquiring = false
	s.publishing = false
}

func (s *Session) changed() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(s.Snapshot())
	}
}

func (s *Session) progress(n int) {
	if s.cfg.OnProgress != nil {
		s.cfg.OnProgress(n, LoopFrames)
	}
}
