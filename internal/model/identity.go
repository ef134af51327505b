package model

import "strings"

// DefaultDisplayName is used when the identity provider gives no name.
const DefaultDisplayName = "VIAJANTE DO TEMPO"

// Identity is who the identity provider says is signed in.
// The zero value is the anonymous visitor.
type Identity struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
}

// Authenticated reports whether a user is signed in.
func (i Identity) Authenticated() bool {
	return i.UID != ""
}

// ProfileName is the upper-cased name stored on first sign-in.
func (i Identity) ProfileName() string {
	name := strings.TrimSpace(i.DisplayName)
	if name == "" {
		return DefaultDisplayName
	}
	return strings.ToUpper(name)
}

// ProfileAvatar is the provider photo or a generated pixel-art avatar.
func (i Identity) ProfileAvatar() string {
	if i.PhotoURL != "" {
		return i.PhotoURL
	}
	return "https://api.dicebear.com/7.x/pixel-art/svg?seed=" + i.UID
}
