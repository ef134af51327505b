package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/crono-esfera/internal/auth"
	"github.com/sakif/crono-esfera/internal/model"
	"github.com/sakif/crono-esfera/internal/service"
)

// fakeProvider stands in for Google.
type fakeProvider struct {
	identity model.Identity
	err      error
}

func (f *fakeProvider) AuthURL(state string) string {
	return "https://accounts.example/auth?state=" + state
}

func (f *fakeProvider) Exchange(_ context.Context, code string) (model.Identity, error) {
	if f.err != nil {
		return model.Identity{}, f.err
	}
	if code != "good-code" {
		return model.Identity{}, fmt.Errorf("%w: bad code", auth.ErrSignInFailed)
	}
	return f.identity, nil
}

type recordingSignOut struct {
	uids []string
}

func (r *recordingSignOut) SignOut(uid string) { r.uids = append(r.uids, uid) }

type authFixture struct {
	handler  *AuthHandler
	provider *fakeProvider
	sessions *recordingSignOut
	tokens   *auth.TokenService
	profiles *service.ProfileService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	logger := discardLogger()
	store := newTestStore(t)
	tokens := newTokens(t)
	profiles := service.NewProfileService(store, logger)
	f := &authFixture{
		provider: &fakeProvider{identity: ana},
		sessions: &recordingSignOut{},
		tokens:   tokens,
		profiles: profiles,
	}
	f.handler = NewAuthHandler(f.provider, service.NewAuthService(profiles, tokens, logger), profiles, f.sessions, logger)
	return f
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func callback(f *authFixture, query string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?"+query, nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "s1"})
	rec := httptest.NewRecorder()
	f.handler.HandleGoogleCallback(rec, req)
	return rec
}

func TestHandleGoogleLogin_SetsStateAndRedirects(t *testing.T) {
	f := newAuthFixture(t)

	rec := httptest.NewRecorder()
	f.handler.HandleGoogleLogin(rec, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	state := cookieNamed(rec, stateCookie)
	require.NotNil(t, state)
	assert.True(t, state.HttpOnly)
	assert.Equal(t, "https://accounts.example/auth?state="+state.Value, rec.Header().Get("Location"))
}

func TestHandleGoogleCallback_StateMismatch(t *testing.T) {
	f := newAuthFixture(t)

	rec := callback(f, "code=good-code&state=other")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, cookieNamed(rec, auth.CookieName))
}

func TestHandleGoogleCallback_Outcomes(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		exchangeErr error
		wantFlash   string
		wantSession bool
	}{
		{"signed in", "code=good-code&state=s1", nil, flashSignedIn, true},
		{"popup closed", "error=access_denied&state=s1", nil, flashCancelled, false},
		{"provider error", "error=server_error&state=s1", nil, flashFailed, false},
		{"bad code", "code=stale&state=s1", nil, flashFailed, false},
		{"exchange down", "code=good-code&state=s1", errors.New("dial tcp: timeout"), flashFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			f.provider.err = tt.exchangeErr

			rec := callback(f, tt.query)

			assert.Equal(t, http.StatusSeeOther, rec.Code)
			assert.Equal(t, "/", rec.Header().Get("Location"))

			flash := cookieNamed(rec, FlashCookie)
			require.NotNil(t, flash)
			assert.Equal(t, tt.wantFlash, flash.Value)

			session := cookieNamed(rec, auth.CookieName)
			if !tt.wantSession {
				assert.Nil(t, session)
				return
			}
			require.NotNil(t, session)
			id, err := f.tokens.Validate(session.Value)
			require.NoError(t, err)
			assert.Equal(t, ana.UID, id.UID)

			profile, err := f.profiles.Profile(context.Background(), ana.UID)
			require.NoError(t, err)
			assert.Equal(t, "ANA", profile.DisplayName)
		})
	}
}

func TestFlashMessage(t *testing.T) {
	assert.Equal(t, service.MsgSignedIn, flashMessage(flashSignedIn))
	assert.Equal(t, service.MsgSignInCancel, flashMessage(flashCancelled))
	assert.Equal(t, service.MsgSignInFailed, flashMessage(flashFailed))
	assert.Empty(t, flashMessage("<script>"))
}

func TestHandleLogout(t *testing.T) {
	f := newAuthFixture(t)

	t.Run("signed in", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		req.AddCookie(sessionCookie(t, f.tokens, ana))
		rec := serve(http.MethodPost, "/auth/logout", f.handler.HandleLogout, req, auth.OptionalAuth(f.tokens))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{ana.UID}, f.sessions.uids)
		cleared := cookieNamed(rec, auth.CookieName)
		require.NotNil(t, cleared)
		assert.Negative(t, cleared.MaxAge)
	})

	t.Run("anonymous", func(t *testing.T) {
		f.sessions.uids = nil
		req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		rec := serve(http.MethodPost, "/auth/logout", f.handler.HandleLogout, req, auth.OptionalAuth(f.tokens))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, f.sessions.uids)
	})
}

func TestHandleMe(t *testing.T) {
	f := newAuthFixture(t)
	_, err := f.profiles.EnsureProfile(context.Background(), ana)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(sessionCookie(t, f.tokens, ana))
	rec := serve(http.MethodGet, "/api/me", f.handler.HandleMe, req, auth.RequireAuth(f.tokens))

	require.Equal(t, http.StatusOK, rec.Code)
	var body meResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ana.UID, body.UID)
	assert.Equal(t, "ANA", body.Profile.DisplayName)
}
