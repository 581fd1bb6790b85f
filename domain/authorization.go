package domain

import "time"

// AuthorizedApplication records that a user consented to a client. There is
// at most one per (UserID, ClientID).
type AuthorizedApplication struct {
	UserID       string    `bson:"user_id"       json:"user_id"       db:"user_id"`
	ClientID     string    `bson:"client_id"     json:"client_id"     db:"client_id"`
	Scopes       []string  `bson:"scope"         json:"scope"         db:"scope"`
	RedirectURI  string    `bson:"redirect_uri"  json:"redirect_uri"  db:"redirect_uri"`
	ResponseType string    `bson:"response_type" json:"response_type" db:"response_type"`
	UpdatedAt    time.Time `bson:"updated_at"    json:"updated_at"    db:"updated_at"`
}

// Matches reports whether the record covers exactly the given request. Scopes
// are compared as sets.
func (a *AuthorizedApplication) Matches(scopes []string, redirectURI, responseType string) bool {
	return a.RedirectURI == redirectURI &&
		a.ResponseType == responseType &&
		SameScopes(a.Scopes, scopes)
}
