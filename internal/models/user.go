package models

import "time"

// User represents a bot user together with their entitlement state.
type User struct {
	ID            int64             `json:"id"`
	Username      string            `json:"username,omitempty"`
	FirstName     string            `json:"first_name,omitempty"`
	LastName      string            `json:"last_name,omitempty"`
	JoinedAt      time.Time         `json:"joined_at"`
	Premium       bool              `json:"is_premium"`
	PremiumExpiry *time.Time        `json:"premium_expiry,omitempty"`
	ReferralCount int               `json:"referral_count"`
	Banned        bool              `json:"is_banned"`
	BanReason     string            `json:"ban_reason,omitempty"`
	MessageCount  int               `json:"message_count"`
	LastActivity  time.Time         `json:"last_activity"`
	Settings      map[string]string `json:"settings,omitempty"`
}

// PremiumActive reports whether the user's premium entitlement is active at
// the given instant. A premium flag without an expiry is treated as inactive.
func (u *User) PremiumActive(now time.Time) bool {
	if !u.Premium || u.PremiumExpiry == nil {
		return false
	}
	return u.PremiumExpiry.After(now)
}

// FullName returns the user's display name built from first and last name.
func (u *User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.LastName
	}
}
