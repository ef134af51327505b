package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeGoogle serves the token and userinfo endpoints.
func fakeGoogle(t *testing.T, user GoogleUser, userStatus int) (*GoogleProvider, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-123",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if userStatus != http.StatusOK {
			w.WriteHeader(userStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(user)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := newGoogleProvider(&oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/auth/google/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.URL + "/auth",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, srv.URL+"/userinfo")
	return p, srv
}

func TestGoogleExchange_ReturnsIdentity(t *testing.T) {
	p, _ := fakeGoogle(t, GoogleUser{Sub: "1234", Name: "Ana", Picture: "https://img/ana.png"}, http.StatusOK)

	id, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)

	assert.Equal(t, "google_1234", id.UID)
	assert.Equal(t, "Ana", id.DisplayName)
	assert.Equal(t, "https://img/ana.png", id.PhotoURL)
}

func TestGoogleExchange_Failures(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		user   GoogleUser
		status int
	}{
		{"bad code", "bad-code", GoogleUser{Sub: "1"}, http.StatusOK},
		{"userinfo error", "good-code", GoogleUser{Sub: "1"}, http.StatusInternalServerError},
		{"no subject", "good-code", GoogleUser{Name: "ghost"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := fakeGoogle(t, tt.user, tt.status)
			_, err := p.Exchange(context.Background(), tt.code)
			assert.ErrorIs(t, err, ErrSignInFailed)
		})
	}
}

func TestGoogleAuthURL_CarriesState(t *testing.T) {
	p, srv := fakeGoogle(t, GoogleUser{}, http.StatusOK)

	u, err := url.Parse(p.AuthURL("state-xyz"))
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/auth", u.Scheme+"://"+u.Host+u.Path)
	assert.Equal(t, "state-xyz", u.Query().Get("state"))
	assert.Equal(t, "client", u.Query().Get("client_id"))
	assert.Equal(t, "select_account", u.Query().Get("prompt"))
}

func TestCallbackError(t *testing.T) {
	assert.NoError(t, CallbackError(""))
	assert.True(t, errors.Is(CallbackError("access_denied"), ErrUserCancelled))

	err := CallbackError("server_error")
	assert.ErrorIs(t, err, ErrSignInFailed)
	assert.NotErrorIs(t, err, ErrUserCancelled)
}
