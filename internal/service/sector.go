// Package service holds the business rules that sit between the transports
// (HTTP handlers, client sessions) and the document store.
//
//	Handler / client session → Service → repository.DocumentStore
//
// Services only see repository interfaces. Every multi-document change runs
// inside one RunTransaction so it lands all together or not at all.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/crono-esfera/internal/apperror"
	"github.com/sakif/crono-esfera/internal/model"
	"github.com/sakif/crono-esfera/internal/repository"
)

// MaxTitleLength bounds a claim title, counted in runes.
const MaxTitleLength = 60

// User-facing outcomes of a like.
const (
	MsgLikeNeedsLogin   = "Faça login para curtir."
	MsgLikeDuplicate    = "Este registro já foi reconhecido."
	MsgLikeSent         = "Reconhecimento enviado com sucesso."
	MsgLikeBackendError = "Erro na sincronização de reconhecimento."
)

// User-facing outcomes of a claim.
const (
	MsgClaimNeedsLogin = "Faça login para conquistar um setor."
	MsgTitleRequired   = "Dê um título ao seu registro."
	MsgTitleTooLong    = "O título pode ter no máximo %d caracteres."
	MsgMediaRequired   = "Nenhuma imagem foi capturada."
	MsgClaimFailed     = "Erro na malha temporal."
)

// ValidateClaim checks title and media before anything is written and
// returns the title as it is stored: trimmed and upper-cased.
func ValidateClaim(title string, m model.Media) (string, error) {
	title = strings.ToUpper(strings.TrimSpace(title))
	if title == "" {
		return "", apperror.ValidationFailed("title", MsgTitleRequired)
	}
	if len([]rune(title)) > MaxTitleLength {
		return "", apperror.ValidationFailed("title", fmt.Sprintf(MsgTitleTooLong, MaxTitleLength))
	}
	if m.IsZero() {
		return "", apperror.ValidationFailed("media", MsgMediaRequired)
	}
	return title, nil
}

// SectorService implements claiming and liking sectors.
type SectorService struct {
	store  repository.DocumentStore
	logger *slog.Logger
	now    func() time.Time
}

func NewSectorService(store repository.DocumentStore, logger *slog.Logger) *SectorService {
	return &SectorService{store: store, logger: logger, now: time.Now}
}

// ClaimInput is a validated-on-entry claim request.
type ClaimInput struct {
	SectorID int
	Title    string
	Media    model.Media
}

// Claim makes claimant the occupant of a sector.
//
// One transaction overwrites occupant, title, media and startTime and resets
// likeCount to zero. The new startTime is strictly later than the previous
// one even if clocks disagree, so the new reign always gets a like key
// nobody has used.
//
// The occupant name and avatar come from the claimant's profile document,
// falling back to the identity itself if the profile is missing.
func (s *SectorService) Claim(ctx context.Context, claimant model.Identity, in ClaimInput) (model.Sector, error) {
	if !claimant.Authenticated() {
		return model.Sector{}, apperror.Unauthenticated(MsgClaimNeedsLogin)
	}
	title, err := ValidateClaim(in.Title, in.Media)
	if err != nil {
		return model.Sector{}, err
	}

	var claimed model.Sector
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		sector, err := getSector(ctx, tx, in.SectorID)
		if err != nil {
			return err
		}

		name, avatar := claimant.ProfileName(), claimant.ProfileAvatar()
		if doc, err := tx.Get(ctx, model.UsersCollection, claimant.UID); err == nil {
			var p model.UserProfile
			if err := doc.DataTo(&p); err == nil {
				if p.DisplayName != "" {
					name = p.DisplayName
				}
				if p.AvatarRef != "" {
					avatar = p.AvatarRef
				}
			}
		} else if !errors.Is(err, apperror.ErrNotFound) {
			return err
		}

		start := s.now().UnixMilli()
		if start <= sector.StartTime {
			start = sector.StartTime + 1
		}

		sector.OccupantID = claimant.UID
		sector.OccupantName = name
		sector.OccupantAvatar = avatar
		sector.Title = title
		sector.Media = in.Media
		sector.StartTime = start
		sector.LikeCount = 0

		claimed = sector
		return tx.Write(ctx, repository.Update(model.SectorsCollection, sector.DocID(), repository.Fields{
			"occupantId":     sector.OccupantID,
			"occupantName":   sector.OccupantName,
			"occupantAvatar": sector.OccupantAvatar,
			"title":          sector.Title,
			"media":          sector.Media.Encode(),
			"startTime":      sector.StartTime,
			"likeCount":      0,
		}))
	})
	if err != nil {
		if isDomainError(err) {
			return model.Sector{}, err
		}
		return model.Sector{}, apperror.BackendWrite(MsgClaimFailed, err)
	}

	s.logger.Info("sector claimed",
		slog.Int("sector", claimed.ID),
		slog.String("uid", claimant.UID),
		slog.Bool("loop", claimed.Media.IsLoop()),
	)
	return claimed, nil
}

// Like records one like from uid on the current reign of a sector.
//
// In one transaction: the sector's likeCount goes up by one, the occupant's
// totalLikes goes up by one (their profile document is created if missing),
// and the reign's key joins the caller's liked set. A second like on the
// same reign is rejected without touching anything.
func (s *SectorService) Like(ctx context.Context, uid string, sectorID int) (model.LikeKey, error) {
	if uid == "" {
		return model.LikeKey{}, apperror.Unauthenticated(MsgLikeNeedsLogin)
	}

	var key model.LikeKey
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		sector, err := getSector(ctx, tx, sectorID)
		if err != nil {
			return err
		}
		key = sector.LikeKey()

		var liker model.UserProfile
		if doc, err := tx.Get(ctx, model.UsersCollection, uid); err == nil {
			if err := doc.DataTo(&liker); err != nil {
				return err
			}
		} else if !errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		if liker.HasLiked(key) {
			return apperror.Duplicate(MsgLikeDuplicate)
		}

		writes := []repository.Write{
			repository.Update(model.SectorsCollection, sector.DocID(), repository.Fields{
				"likeCount": repository.Increment{By: 1},
			}),
		}
		if sector.OccupantID != "" {
			writes = append(writes, repository.Merge(model.UsersCollection, sector.OccupantID, repository.Fields{
				"totalLikes": repository.Increment{By: 1},
			}))
		}
		writes = append(writes, repository.Merge(model.UsersCollection, uid, repository.Fields{
			"likedSectorKeys": repository.ArrayUnion{Values: []string{key.String()}},
		}))

		for _, w := range writes {
			if err := tx.Write(ctx, w); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isDomainError(err) {
			return model.LikeKey{}, err
		}
		return model.LikeKey{}, apperror.BackendWrite(MsgLikeBackendError, err)
	}

	s.logger.Info("sector liked", slog.Int("sector", sectorID), slog.String("key", key.String()), slog.String("uid", uid))
	return key, nil
}

func getSector(ctx context.Context, tx repository.Tx, id int) (model.Sector, error) {
	doc, err := tx.Get(ctx, model.SectorsCollection, model.SectorDocID(id))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return model.Sector{}, apperror.NotFound("sector", model.SectorDocID(id))
		}
		return model.Sector{}, err
	}
	var s model.Sector
	if err := doc.DataTo(&s); err != nil {
		return model.Sector{}, err
	}
	return s, nil
}

// isDomainError reports whether err is a rule violation rather than a
// storage failure.
func isDomainError(err error) bool {
	for _, target := range []error{
		apperror.ErrNotFound,
		apperror.ErrValidation,
		apperror.ErrDuplicate,
		apperror.ErrUnauthenticated,
		apperror.ErrConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
