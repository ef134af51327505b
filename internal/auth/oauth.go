package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/sakif/crono-esfera/internal/model"
)

// GoogleUserInfoURL is the OpenID Connect userinfo endpoint.
const GoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

var (
	// ErrUserCancelled means the user closed or refused the consent screen.
	ErrUserCancelled = errors.New("auth: sign-in cancelled by user")
	// ErrSignInFailed covers every other provider failure.
	ErrSignInFailed = errors.New("auth: sign-in failed")
)

// GoogleUser is the part of the userinfo response we keep.
type GoogleUser struct {
	Sub     string `json:"sub"` // stable Google account id
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Email   string `json:"email"`
}

// Identity converts the profile into the app's identity. The uid is
// namespaced so it can never collide with seeded placeholder occupants.
func (u GoogleUser) Identity() model.Identity {
	return model.Identity{UID: "google_" + u.Sub, DisplayName: u.Name, PhotoURL: u.Picture}
}

// GoogleProvider wraps golang.org/x/oauth2 for the Google Authorization Code
// flow. The code-for-token exchange happens server-to-server with the client
// secret; the access token never reaches the browser.
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

// NewGoogleProvider creates a GoogleProvider.
// callbackURL must match an authorized redirect URI of the OAuth client.
func NewGoogleProvider(clientID, clientSecret, callbackURL string) *GoogleProvider {
	return newGoogleProvider(&oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  callbackURL,
		Scopes:       []string{"openid", "profile", "email"},
		Endpoint:     google.Endpoint,
	}, GoogleUserInfoURL)
}

func newGoogleProvider(cfg *oauth2.Config, userInfoURL string) *GoogleProvider {
	return &GoogleProvider{config: cfg, userInfoURL: userInfoURL}
}

// AuthURL returns the consent URL. state is echoed back on the callback and
// compared against the state cookie (CSRF protection).
func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// CallbackError maps the callback's "error" query parameter.
// An empty parameter means no error.
func CallbackError(param string) error {
	switch param {
	case "":
		return nil
	case "access_denied":
		return ErrUserCancelled
	default:
		return fmt.Errorf("%w: provider returned %q", ErrSignInFailed, param)
	}
}

// Exchange trades the authorization code for the signed-in identity.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (model.Identity, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: exchanging code: %v", ErrSignInFailed, err)
	}

	// Client adds "Authorization: Bearer <token>" to every request.
	client := p.config.Client(ctx, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: %v", ErrSignInFailed, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: calling userinfo: %v", ErrSignInFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Identity{}, fmt.Errorf("%w: userinfo returned status %d", ErrSignInFailed, resp.StatusCode)
	}

	var user GoogleUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return model.Identity{}, fmt.Errorf("%w: decoding userinfo: %v", ErrSignInFailed, err)
	}
	if user.Sub == "" {
		return model.Identity{}, fmt.Errorf("%w: userinfo has no subject", ErrSignInFailed)
	}

	return user.Identity(), nil
}
