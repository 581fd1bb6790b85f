package domain

import "time"

// AuthorizationCodeTTL is the lifetime of an authorization code.
const AuthorizationCodeTTL = 10 * time.Minute

// AuthorizationCode is a single-use grant minted when a user approves a client.
type AuthorizationCode struct {
	Code        string    `bson:"_id"          json:"code"         db:"code"`
	ClientID    string    `bson:"client_id"    json:"client_id"    db:"client_id"`
	UserID      string    `bson:"user_id"      json:"user_id"      db:"user_id"`
	Scopes      []string  `bson:"scope"        json:"scope"        db:"scope"`
	RedirectURI string    `bson:"redirect_uri" json:"redirect_uri" db:"redirect_uri"`
	CreatedAt   time.Time `bson:"created_at"   json:"created_at"   db:"created_at"`
	ExpiresAt   time.Time `bson:"expires_at"   json:"expires_at"   db:"expires_at"`
}

// Expired reports whether the code is past its expiration at now.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
