package model

import "time"

// AccessToken is a short-lived engine credential scoped to one identity.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// Usable reports whether the token is still valid with the given skew
// subtracted from its expiry, so callers refresh slightly early.
func (t AccessToken) Usable(skew time.Duration) bool {
	if t.Value == "" {
		return false
	}
	return time.Now().Add(skew).Before(t.ExpiresAt)
}
