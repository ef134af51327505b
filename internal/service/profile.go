package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/crono-esfera/internal/apperror"
	"github.com/sakif/crono-esfera/internal/model"
	"github.com/sakif/crono-esfera/internal/repository"
)

// ProfileService manages user profiles and the global counters.
type ProfileService struct {
	store  repository.DocumentStore
	logger *slog.Logger
}

func NewProfileService(store repository.DocumentStore, logger *slog.Logger) *ProfileService {
	return &ProfileService{store: store, logger: logger}
}

// EnsureProfile returns id's profile, creating it on first sight.
//
// Name and avatar are taken from the identity provider only at creation;
// later sign-ins never overwrite them. A profile that exists only because
// someone liked this user's sector (totalLikes merged in, no name yet) is
// completed without losing its counters.
func (s *ProfileService) EnsureProfile(ctx context.Context, id model.Identity) (model.UserProfile, error) {
	if !id.Authenticated() {
		return model.UserProfile{}, apperror.Unauthenticated("Nenhum usuário conectado.")
	}

	var profile model.UserProfile
	created := false
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		doc, err := tx.Get(ctx, model.UsersCollection, id.UID)
		switch {
		case err == nil:
			if err := doc.DataTo(&profile); err != nil {
				return err
			}
			if profile.DisplayName != "" {
				return nil
			}
		case errors.Is(err, apperror.ErrNotFound):
			profile = model.UserProfile{}
		default:
			return err
		}

		profile.DisplayName = id.ProfileName()
		profile.AvatarRef = id.ProfileAvatar()
		if profile.LikedSectorKeys == nil {
			profile.LikedSectorKeys = []string{}
		}
		created = true
		return tx.Write(ctx, repository.Merge(model.UsersCollection, id.UID, repository.Fields{
			"displayName":     profile.DisplayName,
			"avatarRef":       profile.AvatarRef,
			"totalLikes":      repository.Increment{By: 0},
			"maxTimeSeconds":  repository.Increment{By: 0},
			"likedSectorKeys": repository.ArrayUnion{Values: []string{}},
		}))
	})
	if err != nil {
		return model.UserProfile{}, fmt.Errorf("service/profile: ensuring profile %s: %w", id.UID, err)
	}

	if created {
		s.logger.Info("profile created", slog.String("uid", id.UID), slog.String("name", profile.DisplayName))
	}
	return profile, nil
}

// Profile reads uid's profile.
func (s *ProfileService) Profile(ctx context.Context, uid string) (model.UserProfile, error) {
	doc, err := s.store.Get(ctx, model.UsersCollection, uid)
	if err != nil {
		return model.UserProfile{}, fmt.Errorf("service/profile: fetching %s: %w", uid, err)
	}
	var p model.UserProfile
	if err := doc.DataTo(&p); err != nil {
		return model.UserProfile{}, fmt.Errorf("service/profile: %w", err)
	}
	return p, nil
}

// RecordVisit bumps the global visit counter.
func (s *ProfileService) RecordVisit(ctx context.Context) error {
	err := s.store.Commit(ctx, repository.Merge(model.StatsCollection, model.GlobalStatsID, repository.Fields{
		"visits": repository.Increment{By: 1},
	}))
	if err != nil {
		return fmt.Errorf("service/profile: recording visit: %w", err)
	}
	return nil
}

// Stats reads the global counters. Missing counters read as zero.
func (s *ProfileService) Stats(ctx context.Context) (model.GlobalStats, error) {
	doc, err := s.store.Get(ctx, model.StatsCollection, model.GlobalStatsID)
	if errors.Is(err, apperror.ErrNotFound) {
		return model.GlobalStats{}, nil
	}
	if err != nil {
		return model.GlobalStats{}, fmt.Errorf("service/profile: fetching stats: %w", err)
	}
	var st model.GlobalStats
	if err := doc.DataTo(&st); err != nil {
		return model.GlobalStats{}, fmt.Errorf("service/profile: %w", err)
	}
	return st, nil
}
