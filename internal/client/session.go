package client

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/crono-esfera/internal/apperror"
	"github.com/sakif/crono-esfera/internal/capture"
	"github.com/sakif/crono-esfera/internal/compositor"
	"github.com/sakif/crono-esfera/internal/eventloop"
	"github.com/sakif/crono-esfera/internal/feedback"
	"github.com/sakif/crono-esfera/internal/history"
	"github.com/sakif/crono-esfera/internal/identity"
	"github.com/sakif/crono-esfera/internal/media"
	"github.com/sakif/crono-esfera/internal/model"
	"github.com/sakif/crono-esfera/internal/notify"
	"github.com/sakif/crono-esfera/internal/repository"
	"github.com/sakif/crono-esfera/internal/service"
)

const noSelection = -1

// MsgSectorNotFound is shown when a command names a sector that does not exist.
const MsgSectorNotFound = "Setor não encontrado."

// closeTimeout bounds how long Close waits for the loop to tear down.
const closeTimeout = 5 * time.Second

// Session is one connected browser. Apart from Dispatch and Close, every
// method runs on the session's loop.
type Session struct {
	hub      *Hub
	deps     Deps
	logger   *slog.Logger
	sink     Sink
	deviceID string

	ctx    context.Context
	cancel context.CancelFunc
	loop   *eventloop.Loop

	watcher *identity.Watcher
	notes   *notify.Queue
	capture *capture.Session

	closeOnce sync.Once
	onClose   func()

	// Loop-owned.
	sectors      []model.Sector
	selected     int
	profile      *model.UserProfile
	history      []model.HistoryItem
	introOpen    bool
	stopSectors  func()
	stopIdentity func()
}

func newSession(parent context.Context, h *Hub, opts ConnectOptions) *Session {
	ctx, cancel := context.WithCancel(parent)
	logger := h.logger.With(slog.String("client", fmt.Sprintf("%p", opts.Sink)))
	loop := eventloop.New(logger)

	s := &Session{
		hub:      h,
		deps:     h.deps,
		logger:   logger,
		sink:     opts.Sink,
		ctx:      ctx,
		cancel:   cancel,
		loop:     loop,
		watcher:  identity.NewWatcher(logger),
		onClose:  opts.OnClose,
		deviceID: opts.DeviceID,
		selected: noSelection,
	}
	s.notes = notify.NewQueue(loop, notify.DefaultTTL, func(items []model.Notification) {
		s.send(EventNotifications, items)
	}, logger)
	s.capture = capture.New(ctx, capture.Config{
		Device:    opts.Device,
		Loop:      loop,
		Publisher: s,
		Logger:    logger,
		Authenticated: func() bool {
			return s.watcher.Current().Identity().Authenticated()
		},
		Notify:     func(msg string) { s.notes.Push(msg) },
		OnChange:   func(snap capture.Snapshot) { s.send(EventState, snap) },
		OnProgress: s.pushProgress,
		OnFrame:    s.pushFrame,
	})
	return s
}

// start runs the loop and queues the initial sync.
func (s *Session) start(opts ConnectOptions) {
	go s.loop.Run(s.ctx)

	s.loop.Post(func() {
		// Set before subscribing so the first replay is already the real
		// identity and not a throwaway anonymous generation.
		s.watcher.Set(opts.Identity)
		s.stopIdentity = s.watcher.OnChange(s.identityChanged)
		s.stopSectors = s.deps.Sectors.OnChange(func(sectors []model.Sector) {
			s.loop.Post(func() { s.sectorsChanged(sectors) })
		})

		s.send(EventState, s.capture.Snapshot())
		s.pushStats()
		s.send(EventNotifications, s.notes.Items())
		if opts.Flash != "" {
			s.notes.Push(opts.Flash)
		}
		s.loadIntro()
	})

	go func() {
		if err := s.deps.Profiles.RecordVisit(s.ctx); err != nil {
			s.logger.Warn("recording visit", slog.String("error", err.Error()))
		}
	}()
}

// Dispatch queues a browser command on the session's loop.
func (s *Session) Dispatch(cmd Command) {
	s.loop.Post(func() { s.handle(cmd) })
}

// Close tears the session down: the capture flow is abandoned (camera
// released), every subscription is stopped and the loop exits. It is safe to
// call more than once but must not be called from the loop itself.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := s.loop.Do(ctx, s.shutdown); err != nil {
			s.logger.Warn("session shutdown did not run on loop", slog.String("error", err.Error()))
		}
		s.cancel()
		<-s.loop.Done()

		s.hub.remove(s)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// Done is closed once the session's loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.loop.Done()
}

func (s *Session) shutdown() {
	s.capture.Close()
	if s.stopSectors != nil {
		s.stopSectors()
	}
	if s.stopIdentity != nil {
		s.stopIdentity()
	}
	s.watcher.Close()
	s.notes.Close()
}

// =========================================================================
// COMMANDS
// =========================================================================

func (s *Session) handle(cmd Command) {
	var err error
	switch cmd.Type {
	case CmdSectorSelect:
		err = s.selectSector(cmd.SectorID)
	case CmdSectorDeselect:
		s.selected = noSelection
		s.send(EventSelected, nil)
	case CmdSectorLike:
		s.like(cmd.SectorID)
	case CmdCaptureOpen:
		err = s.openCapture()
	case CmdCaptureMode:
		var m capture.Mode
		if m, err = capture.ParseMode(cmd.Mode); err == nil {
			err = s.capture.SelectMode(m)
		}
	case CmdCaptureFilter:
		var f compositor.Filter
		if f, err = compositor.Parse(cmd.Filter); err == nil {
			err = s.capture.SetFilter(f)
		}
	case CmdCaptureSwitch:
		err = s.capture.SwitchFacing()
	case CmdCaptureShoot:
		err = s.capture.Capture()
	case CmdCaptureBack:
		err = s.capture.Back()
	case CmdCaptureClose:
		s.capture.Close()
	case CmdCaptureTitle:
		err = s.capture.SetTitle(cmd.Title)
	case CmdCaptureConfirm:
		err = s.capture.Confirm()
	case CmdIntroDismiss:
		s.dismissIntro()
	default:
		err = fmt.Errorf("client: unknown command %q", cmd.Type)
	}
	s.report(cmd, err)
}

// report surfaces rule violations to the user and logs the rest. Commands
// that do not apply to the current state are dropped silently.
func (s *Session) report(cmd Command, err error) {
	if err == nil {
		return
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		s.notes.Push(appErr.Message)
		return
	}
	s.logger.Debug("command ignored", slog.String("type", cmd.Type), slog.String("error", err.Error()))
}

func (s *Session) selectSector(id int) error {
	if _, ok := s.findSector(id); !ok {
		return &apperror.AppError{Err: apperror.ErrNotFound, Message: MsgSectorNotFound, Field: "sectorId"}
	}
	s.selected = id
	s.pushSelected()
	return nil
}

// openCapture starts the claim flow for the selected sector. Occupants
// cannot reclaim their own sector.
func (s *Session) openCapture() error {
	sector, ok := s.findSector(s.selected)
	if !ok {
		return capture.ErrInvalidState
	}
	uid := s.watcher.Current().Identity().UID
	if uid != "" && sector.OccupantID == uid {
		return capture.ErrInvalidState
	}
	return s.capture.Open(sector.ID)
}

// like checks the local liked set first, then runs the transaction off the
// loop and reports the outcome as a notification.
func (s *Session) like(sectorID int) {
	id := s.watcher.Current().Identity()
	if !id.Authenticated() {
		s.notes.Push(service.MsgLikeNeedsLogin)
		return
	}
	if sector, ok := s.findSector(sectorID); ok && s.profile != nil && s.profile.HasLiked(sector.LikeKey()) {
		s.notes.Push(service.MsgLikeDuplicate)
		return
	}

	go func() {
		_, err := s.deps.Actions.Like(s.ctx, id.UID, sectorID)
		s.loop.Post(func() { s.notes.Push(likeMessage(err)) })
	}()
}

func likeMessage(err error) string {
	if err == nil {
		return service.MsgLikeSent
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return service.MsgLikeBackendError
}

// =========================================================================
// PUBLISHING
// =========================================================================

// Publish implements capture.Publisher. It runs off the loop.
//
// After the claim lands, the entry goes into the local history and a
// feedback request is fired without waiting; its text arrives later as a
// notification.
func (s *Session) Publish(ctx context.Context, req capture.PublishRequest) error {
	g := s.watcher.Current()
	id := g.Identity()

	sector, err := s.deps.Actions.Claim(ctx, id, service.ClaimInput{
		SectorID: req.SectorID,
		Title:    req.Title,
		Media:    req.Media,
	})
	if err != nil {
		return err
	}

	item := history.NewItem(sector.ID, sector.Media, sector.Title, sector.StartTime)
	items, herr := s.deps.History.Prepend(ctx, id.UID, item)
	if herr != nil {
		s.logger.Warn("saving history", slog.String("error", herr.Error()))
	}

	s.loop.Post(func() {
		s.selected = noSelection
		s.send(EventSelected, nil)
		if herr == nil {
			g.Guard(func() {
				s.history = items
				s.pushProfile()
			})()
		}
	})

	go func() {
		text := s.deps.Feedback.Generate(s.ctx, feedback.ClaimPrompt(sector.OccupantName, sector.Title), feedback.SystemInstruction)
		s.loop.Post(func() { s.notes.Push(feedback.Notification(text)) })
	}()
	return nil
}

// =========================================================================
// IDENTITY
// =========================================================================

// identityChanged resets the per-user panels and, for a signed-in user,
// ensures the profile exists, loads the local history and subscribes to
// the profile document. Everything started here belongs to g.
func (s *Session) identityChanged(g *identity.Generation) {
	s.profile = nil
	s.history = nil
	s.pushProfile()
	s.pushSectors()

	id := g.Identity()
	if !id.Authenticated() {
		return
	}

	go func() {
		if _, err := s.deps.Profiles.EnsureProfile(s.ctx, id); err != nil {
			s.logger.Warn("ensuring profile", slog.String("uid", id.UID), slog.String("error", err.Error()))
		}

		items, err := s.deps.History.Load(s.ctx, id.UID)
		if err != nil {
			s.logger.Warn("loading history", slog.String("uid", id.UID), slog.String("error", err.Error()))
		}
		s.loop.Post(g.Guard(func() {
			s.history = items
			s.pushProfile()
		}))

		sub, err := s.deps.Store.SubscribeDocument(s.ctx, model.UsersCollection, id.UID, func(doc *repository.Document) {
			var p *model.UserProfile
			if doc != nil {
				p = &model.UserProfile{}
				if err := doc.DataTo(p); err != nil {
					s.logger.Warn("decoding profile", slog.String("error", err.Error()))
					return
				}
			}
			s.loop.Post(g.Guard(func() { s.profileChanged(p) }))
		})
		if err != nil {
			s.logger.Warn("subscribing to profile", slog.String("uid", id.UID), slog.String("error", err.Error()))
			return
		}
		g.Own(sub)
	}()
}

func (s *Session) profileChanged(p *model.UserProfile) {
	s.profile = p
	s.pushProfile()
	s.pushSectors()
}

func (s *Session) signOut() {
	s.watcher.Set(model.Identity{})
	s.notes.Push(service.MsgSignedOut)
}

// =========================================================================
// SECTORS AND INTRO
// =========================================================================

func (s *Session) sectorsChanged(sectors []model.Sector) {
	s.sectors = sectors
	s.pushSectors()
}

func (s *Session) findSector(id int) (model.Sector, bool) {
	for _, sec := range s.sectors {
		if sec.ID == id {
			return sec, true
		}
	}
	return model.Sector{}, false
}

func (s *Session) loadIntro() {
	go func() {
		seen, err := s.deps.History.IntroSeen(s.ctx, s.deviceID)
		if err != nil {
			s.logger.Warn("reading intro flag", slog.String("error", err.Error()))
		}
		s.loop.Post(func() {
			s.introOpen = !seen
			s.send(EventIntro, IntroView{Open: s.introOpen})
		})
	}()
}

func (s *Session) dismissIntro() {
	s.introOpen = false
	s.send(EventIntro, IntroView{Open: false})
	go func() {
		if err := s.deps.History.MarkIntroSeen(s.ctx, s.deviceID); err != nil {
			s.logger.Warn("saving intro flag", slog.String("error", err.Error()))
		}
	}()
}

// =========================================================================
// PUSHING STATE
// =========================================================================

func (s *Session) send(typ string, data any) {
	s.sink.Send(Event{Type: typ, Data: data})
}

func (s *Session) pushSectors() {
	if s.sectors == nil {
		return
	}
	uid := s.watcher.Current().Identity().UID
	views := make([]SectorView, len(s.sectors))
	for i, sec := range s.sectors {
		views[i] = NewSectorView(sec, uid, s.profile)
	}
	s.send(EventSectors, views)
	s.pushSelected()
}

func (s *Session) pushSelected() {
	if s.selected == noSelection {
		return
	}
	sec, ok := s.findSector(s.selected)
	if !ok {
		return
	}
	v := NewSectorView(sec, s.watcher.Current().Identity().UID, s.profile)
	s.send(EventSelected, &v)
}

func (s *Session) pushProfile() {
	id := s.watcher.Current().Identity()
	if !id.Authenticated() {
		s.send(EventProfile, ProfileView{History: []model.HistoryItem{}})
		return
	}
	v := ProfileView{
		SignedIn: true,
		UID:      id.UID,
		Name:     id.ProfileName(),
		Avatar:   id.ProfileAvatar(),
		Loading:  s.profile == nil,
		History:  s.history,
	}
	if s.profile != nil {
		if s.profile.DisplayName != "" {
			v.Name = s.profile.DisplayName
		}
		if s.profile.AvatarRef != "" {
			v.Avatar = s.profile.AvatarRef
		}
		v.TotalLikes = s.profile.TotalLikes
	}
	if v.History == nil {
		v.History = []model.HistoryItem{}
	}
	s.send(EventProfile, v)
}

func (s *Session) pushStats() {
	s.send(EventStats, model.GlobalStats{Visits: s.hub.Visits()})
}

func (s *Session) pushProgress(n, total int) {
	s.send(EventProgress, Progress{Frames: n, Total: total, Percent: n * 100 / total})
}

func (s *Session) pushFrame(img *image.RGBA) {
	ref, err := media.EncodeJPEG(img, media.LoopQuality)
	if err != nil {
		s.logger.Warn("encoding preview frame", slog.String("error", err.Error()))
		return
	}
	s.send(EventFrame, ref)
}
