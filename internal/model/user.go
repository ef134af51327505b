package model

import (
	"fmt"
	"strconv"
	"strings"
)

// UserProfile is the per-identity document under users/{uid}.
//
// DisplayName and AvatarRef are copied from the identity provider the first
// time the uid is seen and are not re-synced afterwards. TotalLikes counts
// likes received on any sector this user occupied. LikedSectorKeys is the
// set of reigns this user already liked, stored as LikeKey strings.
type UserProfile struct {
	DisplayName     string   `json:"displayName"`
	AvatarRef       string   `json:"avatarRef"`
	TotalLikes      int64    `json:"totalLikes"`
	MaxTimeSeconds  int64    `json:"maxTimeSeconds"`
	LikedSectorKeys []string `json:"likedSectorKeys"`
}

// HasLiked reports whether key is already in the liked set.
func (p UserProfile) HasLiked(key LikeKey) bool {
	k := key.String()
	for _, liked := range p.LikedSectorKeys {
		if liked == k {
			return true
		}
	}
	return false
}

// LikeKey scopes like-uniqueness to one reign of one sector.
// A later claim on the same sector produces a new StartTime and therefore a
// new, likeable key.
type LikeKey struct {
	SectorID  int
	StartTime int64
}

func (k LikeKey) String() string {
	return fmt.Sprintf("%d-%d", k.SectorID, k.StartTime)
}

// ParseLikeKey is the inverse of LikeKey.String.
func ParseLikeKey(s string) (LikeKey, error) {
	idPart, tsPart, ok := strings.Cut(s, "-")
	if !ok {
		return LikeKey{}, fmt.Errorf("like key %q: missing separator", s)
	}
	id, err := strconv.Atoi(idPart)
	if err != nil {
		return LikeKey{}, fmt.Errorf("like key %q: sector id: %w", s, err)
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return LikeKey{}, fmt.Errorf("like key %q: start time: %w", s, err)
	}
	return LikeKey{SectorID: id, StartTime: ts}, nil
}

// GlobalStats is the stats/global document.
type GlobalStats struct {
	Visits int64 `json:"visits"`
}
