package service

// AuthService is the business side of sign-in:
//
//	AuthHandler (HTTP) → AuthService → ProfileService (users/{uid})
//	                                 ↘ TokenService (JWT)
//
// It does NOT set cookies or read requests; that is the handler's job.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/crono-esfera/internal/auth"
	"github.com/sakif/crono-esfera/internal/model"
)

// User-facing outcomes of signing in and out.
const (
	MsgSignedIn     = "Conexão estabelecida."
	MsgSignInCancel = "Login cancelado."
	MsgSignInFailed = "Falha na sincronização."
	MsgSignedOut    = "Sessão encerrada."
)

type AuthService struct {
	profiles *ProfileService
	tokens   *auth.TokenService
	logger   *slog.Logger
}

func NewAuthService(profiles *ProfileService, tokens *auth.TokenService, logger *slog.Logger) *AuthService {
	return &AuthService{profiles: profiles, tokens: tokens, logger: logger}
}

// AuthResult bundles what the handler needs to finish the callback.
type AuthResult struct {
	Identity model.Identity
	Profile  model.UserProfile
	Token    string
}

// SignIn completes a provider sign-in: the profile document is created on
// first sight of the uid and a session token is issued.
func (s *AuthService) SignIn(ctx context.Context, id model.Identity) (*AuthResult, error) {
	profile, err := s.profiles.EnsureProfile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	token, err := s.tokens.Generate(id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for %s: %w", id.UID, err)
	}

	s.logger.Info("user signed in", slog.String("uid", id.UID), slog.String("name", profile.DisplayName))
	return &AuthResult{Identity: id, Profile: profile, Token: token}, nil
}

// ValidateToken returns the identity a session token carries.
func (s *AuthService) ValidateToken(tokenStr string) (model.Identity, error) {
	id, err := s.tokens.Validate(tokenStr)
	if err != nil {
		return model.Identity{}, fmt.Errorf("service/auth: %w", err)
	}
	return id, nil
}

// SignInMessage is the notification shown after a sign-in attempt ends
// with err (nil on success).
func SignInMessage(err error) string {
	switch {
	case err == nil:
		return MsgSignedIn
	case errors.Is(err, auth.ErrUserCancelled):
		return MsgSignInCancel
	default:
		return MsgSignInFailed
	}
}
