package validator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/srus/yith-library-server/cache"
	"github.com/srus/yith-library-server/domain"
)

// RequestValidator implements GrantValidator on top of the client registry
// and the code and token repositories.
type RequestValidator struct {
	clients       ClientRegistry
	codes         domain.AuthorizationCodeRepository
	tokens        domain.AccessCodeRepository
	tokenCache    cache.TokenStore
	defaultScopes []string
	codeTTL       time.Duration
	now           func() time.Time
}

var _ GrantValidator = (*RequestValidator)(nil)

// Option configures a RequestValidator.
type Option func(*RequestValidator)

// WithDefaultScopes sets the scopes granted when a request names none.
func WithDefaultScopes(scopes []string) Option {
	return func(v *RequestValidator) {
		if len(scopes) > 0 {
			v.defaultScopes = append([]string(nil), scopes...)
		}
	}
}

// WithClock sets the time source used for expirations.
func WithClock(now func() time.Time) Option {
	return func(v *RequestValidator) {
		v.now = now
	}
}

// WithTokenCache puts a read-through cache in front of access code lookups.
func WithTokenCache(store cache.TokenStore) Option {
	return func(v *RequestValidator) {
		v.tokenCache = store
	}
}

// WithAuthorizationCodeTTL overrides the ten minute code lifetime.
func WithAuthorizationCodeTTL(ttl time.Duration) Option {
	return func(v *RequestValidator) {
		if ttl > 0 {
			v.codeTTL = ttl
		}
	}
}

// NewRequestValidator creates a RequestValidator.
func NewRequestValidator(
	clients ClientRegistry,
	codes domain.AuthorizationCodeRepository,
	tokens domain.AccessCodeRepository,
	opts ...Option,
) *RequestValidator {
	v := &RequestValidator{
		clients:       clients,
		codes:         codes,
		tokens:        tokens,
		defaultScopes: []string{domain.ScopeReadPasswords},
		codeTTL:       domain.AuthorizationCodeTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *RequestValidator) clientFor(ctx context.Context, clientID string, req *Request) bool {
	if req.Client != nil && req.Client.ID == clientID {
		return true
	}
	c, err := v.clients.GetClient(ctx, clientID)
	if err != nil {
		return false
	}
	req.Client = c
	req.ClientID = c.ID
	return true
}

// ValidateClientID checks the client exists and attaches it to req.
func (v *RequestValidator) ValidateClientID(ctx context.Context, clientID string, req *Request) bool {
	req.Client = nil
	result := clientID != "" && v.clientFor(ctx, clientID, req)
	log.Debug().Str("client_id", clientID).Bool("result", result).Msg("Validating client id")
	return result
}

// ValidateRedirectURI requires redirectURI to be exactly the registered
// callback URL.
func (v *RequestValidator) ValidateRedirectURI(ctx context.Context, clientID, redirectURI string, req *Request) bool {
	if !v.clientFor(ctx, clientID, req) {
		return false
	}
	return req.Client.CallbackURL == redirectURI
}

// GetDefaultRedirectURI returns the registered callback URL.
func (v *RequestValidator) GetDefaultRedirectURI(ctx context.Context, clientID string, req *Request) string {
	if !v.clientFor(ctx, clientID, req) {
		return ""
	}
	return req.Client.CallbackURL
}

// ValidateScopes accepts any subset of the known scopes.
func (v *RequestValidator) ValidateScopes(_ context.Context, _ string, scopes []string, _ *Request) bool {
	for _, s := range scopes {
		if _, ok := domain.LookupScope(s); !ok {
			return false
		}
	}
	return true
}

// GetDefaultScopes returns the configured default scopes.
func (v *RequestValidator) GetDefaultScopes(_ context.Context, _ string, _ *Request) []string {
	return append([]string(nil), v.defaultScopes...)
}

// ValidateResponseType accepts "code" and "token".
func (v *RequestValidator) ValidateResponseType(_ context.Context, _ string, responseType string, _ *Request) bool {
	return responseType == ResponseTypeCode || responseType == ResponseTypeToken
}

// SaveAuthorizationCode persists code for req.UserID, req.Scopes and
// req.RedirectURI.
func (v *RequestValidator) SaveAuthorizationCode(ctx context.Context, clientID, code string, req *Request) error {
	if req.UserID == "" {
		return errors.New("authorization code requires a resource owner")
	}

	now := v.now().UTC()
	record := &domain.AuthorizationCode{
		Code:        code,
		ClientID:    clientID,
		UserID:      req.UserID,
		Scopes:      append([]string(nil), req.Scopes...),
		RedirectURI: req.RedirectURI,
		CreatedAt:   now,
		ExpiresAt:   now.Add(v.codeTTL),
	}
	if err := v.codes.SaveAuthorizationCode(ctx, record); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	log.Debug().Str("client_id", clientID).Str("user_id", req.UserID).Msg("Authorization code saved")
	return nil
}

// AuthenticateClient reads client credentials from a Basic Authorization
// header or, when there is no header, from the explicit fields.
func (v *RequestValidator) AuthenticateClient(ctx context.Context, creds Credentials, req *Request) bool {
	clientID, clientSecret, ok := parseCredentials(creds)
	if !ok {
		return false
	}

	c, ok := v.clients.Authenticate(ctx, clientID, clientSecret)
	if !ok {
		log.Debug().Str("client_id", clientID).Msg("Client authentication failed")
		return false
	}

	req.Client = c
	req.ClientID = c.ID
	return true
}

func parseCredentials(creds Credentials) (string, string, bool) {
	if creds.Authorization == "" {
		if creds.ClientID == "" || creds.ClientSecret == "" {
			return "", "", false
		}
		return creds.ClientID, creds.ClientSecret, true
	}

	parts := strings.SplitN(creds.Authorization, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Basic") {
		return "", "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", "", false
	}

	id, secret, found := strings.Cut(string(decoded), ":")
	if !found || id == "" {
		return "", "", false
	}
	return id, secret, true
}

// ValidateCode checks code was issued to clientID and has not expired, then
// attaches its user and scopes to req.
func (v *RequestValidator) ValidateCode(ctx context.Context, clientID, code string, req *Request) bool {
	record, err := v.codes.GetAuthorizationCode(ctx, clientID, code)
	if err != nil {
		if !errors.Is(err, domain.ErrAuthorizationCodeNotFound) {
			log.Error().Err(err).Str("client_id", clientID).Msg("Failed to load authorization code")
		}
		return false
	}

	if record.Expired(v.now()) {
		return false
	}

	req.UserID = record.UserID
	req.Scopes = append([]string(nil), record.Scopes...)
	return true
}

// ConfirmRedirectURI requires a redirect URI sent at the token endpoint to
// match the one the code was issued for. An absent URI is accepted.
func (v *RequestValidator) ConfirmRedirectURI(ctx context.Context, clientID, code, redirectURI string, _ *Request) bool {
	if redirectURI == "" {
		return true
	}

	record, err := v.codes.GetAuthorizationCode(ctx, clientID, code)
	if err != nil {
		return false
	}
	return record.RedirectURI == redirectURI
}

// ValidateGrantType accepts only the authorization code grant.
func (v *RequestValidator) ValidateGrantType(_ context.Context, _ string, grantType string, _ *Request) bool {
	return grantType == GrantTypeAuthorizationCode
}

// SaveBearerToken persists token for req.Client, req.UserID and req.Scopes.
func (v *RequestValidator) SaveBearerToken(ctx context.Context, token *BearerToken, req *Request) error {
	if req.Client == nil || req.UserID == "" {
		return errors.New("bearer token requires an authenticated client and a resource owner")
	}

	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = domain.TokenTypeBearer
	}

	now := v.now().UTC()
	record := &domain.AccessCode{
		Code:         token.AccessToken,
		TokenType:    tokenType,
		ClientID:     req.Client.ID,
		UserID:       req.UserID,
		Scopes:       append([]string(nil), req.Scopes...),
		RefreshToken: token.RefreshToken,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Duration(token.ExpiresIn) * time.Second),
	}
	if err := v.tokens.SaveAccessCode(ctx, record); err != nil {
		return fmt.Errorf("failed to save access code: %w", err)
	}

	log.Debug().Str("client_id", req.Client.ID).Str("user_id", req.UserID).Msg("Access code saved")
	return nil
}

// InvalidateAuthorizationCode deletes the code. It fails with
// domain.ErrAuthorizationCodeNotFound when another request consumed it first.
func (v *RequestValidator) InvalidateAuthorizationCode(ctx context.Context, clientID, code string, _ *Request) error {
	return v.codes.DeleteAuthorizationCode(ctx, clientID, code)
}

// ValidateBearerToken checks the token exists, has not expired and carries
// every scope in scopes.
func (v *RequestValidator) ValidateBearerToken(ctx context.Context, token string, scopes []string, req *Request) bool {
	if token == "" {
		return false
	}

	ac := v.lookupAccessCode(ctx, token)
	if ac == nil {
		return false
	}

	if ac.Expired(v.now()) {
		return false
	}

	if !domain.ContainsScopes(ac.Scopes, scopes) {
		return false
	}

	req.AccessToken = ac
	req.UserID = ac.UserID
	req.ClientID = ac.ClientID
	req.Scopes = append([]string(nil), scopes...)
	return true
}

func (v *RequestValidator) lookupAccessCode(ctx context.Context, token string) *domain.AccessCode {
	if v.tokenCache != nil {
		entry, err := v.tokenCache.Get(ctx, token)
		if err == nil {
			return entry.AccessCode(token)
		}
		if !errors.Is(err, cache.ErrTokenNotFound) {
			log.Warn().Err(err).Msg("Token cache lookup failed")
		}
	}

	ac, err := v.tokens.GetAccessCode(ctx, token)
	if err != nil {
		if !errors.Is(err, domain.ErrAccessCodeNotFound) {
			log.Error().Err(err).Msg("Failed to load access code")
		}
		return nil
	}

	if v.tokenCache != nil {
		if err := v.tokenCache.Set(ctx, cache.NewTokenEntry(ac)); err != nil {
			log.Warn().Err(err).Msg("Failed to cache access code")
		}
	}
	return ac
}

// GetOriginalScopes implements GrantValidator.
func (v *RequestValidator) GetOriginalScopes(_ context.Context, _ string, _ *Request) ([]string, error) {
	return nil, fmt.Errorf("refresh token grant: %w", ErrNotSupported)
}
