package domain

import "time"

// TokenTypeBearer is the only access token type issued.
const TokenTypeBearer = "Bearer"

// DefaultAccessTokenTTL is used when no TTL is configured.
const DefaultAccessTokenTTL = 3600 * time.Second

// AccessCode is a persisted bearer token. RefreshToken is stored but no
// grant ever accepts it back.
type AccessCode struct {
	Code         string    `bson:"_id"                     json:"access_token"            db:"code"`
	TokenType    string    `bson:"token_type"              json:"token_type"              db:"code_type"`
	ClientID     string    `bson:"client_id"               json:"client_id"               db:"client_id"`
	UserID       string    `bson:"user_id"                 json:"user_id"                 db:"user_id"`
	Scopes       []string  `bson:"scope"                   json:"scope"                   db:"scope"`
	RefreshToken string    `bson:"refresh_token,omitempty" json:"refresh_token,omitempty" db:"refresh_code"`
	CreatedAt    time.Time `bson:"created_at"              json:"created_at"              db:"created_at"`
	ExpiresAt    time.Time `bson:"expires_at"              json:"expires_at"              db:"expires_at"`
}

// Expired reports whether the token is past its expiration at now.
func (a *AccessCode) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}
