package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/srus/yith-library-server/internal/audit"
	"github.com/srus/yith-library-server/internal/auth"
	"github.com/srus/yith-library-server/internal/crypto"
)

var (
	ErrClientNotFound      = errors.New("client not found")
	ErrInvalidRegistration = errors.New("invalid client registration")
)

// Client represents an OAuth2 client application. The ID and secret are
// generated by the server and never change.
//
//nolint:tagliatelle
type Client struct {
	ID                string    `bson:"_id"                json:"client_id"          db:"id"`
	SecretHash        string    `bson:"client_secret_hash" json:"-"                  db:"client_secret_hash"`
	Name              string    `bson:"name"               json:"name"               db:"name"`
	MainURL           string    `bson:"main_url"           json:"main_url"           db:"main_url"`
	CallbackURL       string    `bson:"callback_url"       json:"callback_url"       db:"callback_url"`
	AuthorizedOrigins []string  `bson:"authorized_origins" json:"authorized_origins" db:"authorized_origins"`
	ProductionReady   bool      `bson:"production_ready"   json:"production_ready"   db:"production_ready"`
	ImageURL          string    `bson:"image_url"          json:"image_url"          db:"image_url"`
	Description       string    `bson:"description"        json:"description"        db:"description"`
	OwnerID           string    `bson:"owner_id"           json:"owner_id"           db:"owner_id"`
	OwnerEmail        string    `bson:"owner_email"        json:"owner_email"        db:"owner_email"`
	CreatedAt         time.Time `bson:"created_at"         json:"created_at"         db:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at"         json:"updated_at"         db:"updated_at"`
}

// AllowsOrigin reports whether origin is one of the client's CORS origins.
func (c *Client) AllowsOrigin(origin string) bool {
	for _, o := range c.AuthorizedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// Registration is what a developer supplies when registering an application.
type Registration struct {
	Name              string
	MainURL           string
	CallbackURL       string
	AuthorizedOrigins []string
	ProductionReady   bool
	ImageURL          string
	Description       string
	OwnerEmail        string
}

// ClientFilter defines filtering options for listing clients
type ClientFilter struct {
	OwnerID             string
	ProductionReadyOnly bool
}

// SecretHasher hashes and verifies client secrets.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(hashed, secret string) error
}

// TokenEvictor drops cached access codes issued to a client.
type TokenEvictor interface {
	DeleteByClient(ctx context.Context, clientID string) (int, error)
}

// ClientService is the client registry.
type ClientService struct {
	store     ClientStore
	hasher    SecretHasher
	evictor   TokenEvictor
	now       func() time.Time
	dummyHash string
}

// Option configures a ClientService.
type Option func(*ClientService)

// WithSecretHasher replaces the default bcrypt hasher.
func WithSecretHasher(h SecretHasher) Option {
	return func(s *ClientService) {
		s.hasher = h
	}
}

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *ClientService) {
		s.now = now
	}
}

// WithTokenEvictor makes DeleteClient evict the client's cached tokens.
func WithTokenEvictor(e TokenEvictor) Option {
	return func(s *ClientService) {
		s.evictor = e
	}
}

// NewClientService creates a new ClientService instance
func NewClientService(store ClientStore, opts ...Option) *ClientService {
	s := &ClientService{
		store:  store,
		hasher: auth.NewBcryptSecretHasher(0),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Unknown clients are verified against this hash so that a miss costs
	// the same as a wrong secret.
	if h, err := s.hasher.Hash("unknown-client"); err == nil {
		s.dummyHash = h
	}

	return s
}

// GetClient retrieves a client by ID. Ids that are not UUIDs are reported as
// ErrClientNotFound without reaching the store.
func (s *ClientService) GetClient(ctx context.Context, clientID string) (*Client, error) {
	if _, err := uuid.Parse(clientID); err != nil {
		return nil, ErrClientNotFound
	}

	return s.store.GetClient(ctx, clientID)
}

// Authenticate checks clientSecret against the stored hash. It returns the
// client on success and never an error: any lookup failure is a failed
// authentication.
func (s *ClientService) Authenticate(ctx context.Context, clientID, clientSecret string) (*Client, bool) {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		if !errors.Is(err, ErrClientNotFound) {
			log.Error().Err(err).Str("client_id", clientID).Msg("Failed to load client for authentication")
		}
		if s.dummyHash != "" {
			_ = s.hasher.Verify(s.dummyHash, clientSecret)
		}
		return nil, false
	}

	if err := s.hasher.Verify(client.SecretHash, clientSecret); err != nil {
		return nil, false
	}

	return client, true
}

// CreateClient registers a new application owned by ownerID. The plaintext
// secret is returned once and only its hash is stored.
func (s *ClientService) CreateClient(ctx context.Context, ownerID string, reg Registration) (*Client, string, error) {
	if err := validateRegistration(ownerID, reg); err != nil {
		return nil, "", err
	}

	secret, err := crypto.GenerateToken(crypto.ClientSecretLength)
	if err != nil {
		return nil, "", err
	}

	hashed, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, "", err
	}

	now := s.now().UTC()
	client := &Client{
		ID:                uuid.NewString(),
		SecretHash:        hashed,
		Name:              strings.TrimSpace(reg.Name),
		MainURL:           reg.MainURL,
		CallbackURL:       reg.CallbackURL,
		AuthorizedOrigins: reg.AuthorizedOrigins,
		ProductionReady:   reg.ProductionReady,
		ImageURL:          reg.ImageURL,
		Description:       reg.Description,
		OwnerID:           ownerID,
		OwnerEmail:        reg.OwnerEmail,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if client.AuthorizedOrigins == nil {
		client.AuthorizedOrigins = []string{}
	}

	if err := s.store.CreateClient(ctx, client); err != nil {
		return nil, "", fmt.Errorf("failed to create client: %w", err)
	}

	log.Info().Str("client_id", client.ID).Str("owner_id", ownerID).Msg("Client registered")
	audit.Log(audit.ActionClientCreated, ownerID, client.ID, client.Name, nil)

	return client, secret, nil
}

// ListClientsByOwner returns the applications registered by ownerID.
func (s *ClientService) ListClientsByOwner(ctx context.Context, ownerID string) ([]*Client, error) {
	return s.store.ListClients(ctx, ClientFilter{OwnerID: ownerID})
}

// ListProductionReady returns the public directory of applications.
func (s *ClientService) ListProductionReady(ctx context.Context) ([]*Client, error) {
	return s.store.ListClients(ctx, ClientFilter{ProductionReadyOnly: true})
}

// DeleteClient removes a client together with its codes, tokens and
// consent records.
func (s *ClientService) DeleteClient(ctx context.Context, clientID string) error {
	if _, err := uuid.Parse(clientID); err != nil {
		return ErrClientNotFound
	}

	err := s.store.DeleteClient(ctx, clientID)
	audit.Log(audit.ActionClientDeleted, "", clientID, "", err)
	if err != nil {
		return err
	}

	if s.evictor != nil {
		n, err := s.evictor.DeleteByClient(ctx, clientID)
		if err != nil {
			return fmt.Errorf("client deleted but cached tokens were not evicted: %w", err)
		}
		log.Debug().Str("client_id", clientID).Int("tokens", n).Msg("Evicted cached tokens")
	}
	return nil
}

// UpdateClient replaces the editable fields of a client. The id, secret and
// owner never change.
func (s *ClientService) UpdateClient(ctx context.Context, clientID string, reg Registration) (*Client, error) {
	current, err := s.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if err := validateRegistration(current.OwnerID, reg); err != nil {
		return nil, err
	}

	updated := *current
	updated.Name = strings.TrimSpace(reg.Name)
	updated.MainURL = reg.MainURL
	updated.CallbackURL = reg.CallbackURL
	updated.AuthorizedOrigins = reg.AuthorizedOrigins
	updated.ProductionReady = reg.ProductionReady
	updated.ImageURL = reg.ImageURL
	updated.Description = reg.Description
	updated.OwnerEmail = reg.OwnerEmail
	updated.UpdatedAt = s.now().UTC()
	if updated.AuthorizedOrigins == nil {
		updated.AuthorizedOrigins = []string{}
	}

	err = s.store.UpdateClient(ctx, &updated)
	audit.Log(audit.ActionClientUpdated, current.OwnerID, clientID, updated.Name, err)
	if err != nil {
		return nil, fmt.Errorf("failed to update client: %w", err)
	}

	return &updated, nil
}

func validateRegistration(ownerID string, reg Registration) error {
	if ownerID == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidRegistration)
	}
	if strings.TrimSpace(reg.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRegistration)
	}
	if !isAbsoluteURL(reg.CallbackURL) {
		return fmt.Errorf("%w: callback url must be an absolute url", ErrInvalidRegistration)
	}
	if reg.MainURL != "" && !isAbsoluteURL(reg.MainURL) {
		return fmt.Errorf("%w: main url must be an absolute url", ErrInvalidRegistration)
	}
	for _, origin := range reg.AuthorizedOrigins {
		if !isAbsoluteURL(origin) {
			return fmt.Errorf("%w: invalid authorized origin %q", ErrInvalidRegistration, origin)
		}
	}
	return nil
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.IsAbs() && u.Host != ""
}
