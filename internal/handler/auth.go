package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rs/xid"
	"github.com/sakif/crono-esfera/internal/auth"
	"github.com/sakif/crono-esfera/internal/model"
	"github.com/sakif/crono-esfera/internal/service"
)

// Cookie names used by the sign-in flow.
const (
	stateCookie = "oauth_state"
	// FlashCookie carries the outcome of the last sign-in to the next
	// websocket connection, which shows it as a notification.
	FlashCookie = "crono_flash"
)

// Flash values. The websocket maps them back to the notification text.
const (
	flashSignedIn  = "ok"
	flashCancelled = "cancelled"
	flashFailed    = "failed"
)

// flashMessage turns a flash cookie value into notification text.
// Unknown values show nothing.
func flashMessage(v string) string {
	switch v {
	case flashSignedIn:
		return service.MsgSignedIn
	case flashCancelled:
		return service.MsgSignInCancel
	case flashFailed:
		return service.MsgSignInFailed
	}
	return ""
}

// OAuthProvider is the identity provider side of sign-in.
type OAuthProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (model.Identity, error)
}

// SignOuter ends every live session of a user.
type SignOuter interface {
	SignOut(uid string)
}

// AuthHandler manages the Google sign-in flow and the session cookie.
//
// HANDLER RESPONSIBILITIES:
//   - HandleGoogleLogin    → redirect the browser to Google's consent page
//   - HandleGoogleCallback → exchange the code, ensure the profile, issue JWT
//   - HandleLogout         → clear the cookie and sign out open tabs
//   - HandleMe             → return the signed-in user's profile
type AuthHandler struct {
	provider OAuthProvider
	auth     *service.AuthService
	profiles *service.ProfileService
	sessions SignOuter
	logger   *slog.Logger
}

func NewAuthHandler(
	provider OAuthProvider,
	authSvc *service.AuthService,
	profiles *service.ProfileService,
	sessions SignOuter,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		provider: provider,
		auth:     authSvc,
		profiles: profiles,
		sessions: sessions,
		logger:   logger,
	}
}

// HandleGoogleLogin redirects the user to Google's authorization page.
//
// HTTP: GET /auth/google/login
//
// CSRF PROTECTION VIA STATE:
// A random state value goes into a short-lived cookie and into the
// authorization URL. The callback only proceeds when both match.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.provider.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback completes the sign-in.
//
// HTTP: GET /auth/google/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Map a provider error (user closed the popup, denied consent)
//  3. Exchange the code for an identity
//  4. Create the profile on first sign-in and issue the session cookie
//  5. Redirect home with a flash cookie describing the outcome
//
// Failures after the state check never show an error page: the visitor is
// sent home and sees "Login cancelado." or "Falha na sincronização.".
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	// --- Step 1: Validate CSRF state ---
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || r.URL.Query().Get("state") != cookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// Single use.
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	result, err := h.complete(r)
	if err != nil {
		h.logger.Info("sign-in did not complete", slog.String("error", err.Error()))
		h.redirectWithFlash(w, r, flashFor(err))
		return
	}

	h.logger.Info("user signed in", slog.String("uid", result.Identity.UID))
	http.SetCookie(w, auth.SessionCookie(result.Token))
	h.redirectWithFlash(w, r, flashSignedIn)
}

// complete runs steps 2 to 4 of the callback.
func (h *AuthHandler) complete(r *http.Request) (*service.AuthResult, error) {
	q := r.URL.Query()
	if err := auth.CallbackError(q.Get("error")); err != nil {
		return nil, err
	}

	id, err := h.provider.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		return nil, err
	}
	return h.auth.SignIn(r.Context(), id)
}

func flashFor(err error) string {
	if service.SignInMessage(err) == service.MsgSignInCancel {
		return flashCancelled
	}
	return flashFailed
}

func (h *AuthHandler) redirectWithFlash(w http.ResponseWriter, r *http.Request, flash string) {
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookie,
		Value:    flash,
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleLogout clears the session cookie and signs out every open tab of
// the user.
//
// HTTP: POST /auth/logout
//
// WHY POST AND NOT GET?
// Logout changes state. A GET could be triggered by prefetching or by a
// cross-site image tag.
//
// Mounted behind OptionalAuth: a visitor without a valid cookie still gets
// the cookie cleared.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		h.sessions.SignOut(id.UID)
	}
	http.SetCookie(w, auth.ClearSessionCookie())
	writeJSON(w, http.StatusOK, map[string]string{"message": service.MsgSignedOut})
}

// meResponse is the signed-in user as the page shows it.
type meResponse struct {
	UID     string            `json:"uid"`
	Profile model.UserProfile `json:"profile"`
}

// HandleMe returns the signed-in user's profile.
//
// HTTP: GET /api/me
// Auth: Required (RequireAuth middleware sets the identity in context)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated", Message: "valid authentication required"})
		return
	}

	profile, err := h.profiles.Profile(r.Context(), id.UID)
	if err != nil {
		h.logger.Error("HandleMe: profile lookup failed", slog.String("uid", id.UID), slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{UID: id.UID, Profile: profile})
}
