// Package memory keeps all OAuth state in process. It backs the tests and
// single node development setups.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/srus/yith-library-server/client"
	"github.com/srus/yith-library-server/domain"
)

type txKey struct{}

type consentKey struct {
	userID   string
	clientID string
}

type state struct {
	clients  map[string]client.Client
	codes    map[string]domain.AuthorizationCode
	tokens   map[string]domain.AccessCode
	consents map[consentKey]domain.AuthorizedApplication
}

func newState() state {
	return state{
		clients:  make(map[string]client.Client),
		codes:    make(map[string]domain.AuthorizationCode),
		tokens:   make(map[string]domain.AccessCode),
		consents: make(map[consentKey]domain.AuthorizedApplication),
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.clients {
		c.clients[k] = v
	}
	for k, v := range s.codes {
		c.codes[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.consents {
		c.consents[k] = v
	}
	return c
}

// Store implements client.ClientStore, the domain repositories and
// domain.Transactor. A transaction holds the store lock for its whole
// duration and restores the previous state when fn fails.
type Store struct {
	mu sync.Mutex
	st state
}

var (
	_ client.ClientStore                     = (*Store)(nil)
	_ domain.AuthorizationCodeRepository     = (*Store)(nil)
	_ domain.AccessCodeRepository            = (*Store)(nil)
	_ domain.AuthorizedApplicationRepository = (*Store)(nil)
	_ domain.Transactor                      = (*Store)(nil)
)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{st: newState()}
}

// WithinTransaction implements domain.Transactor.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// --- clients ---

func (s *Store) CreateClient(ctx context.Context, c *client.Client) error {
	defer s.lock(ctx)()

	if _, ok := s.st.clients[c.ID]; ok {
		return domain.ErrDuplicateKey
	}
	s.st.clients[c.ID] = cloneClient(*c)
	return nil
}

func (s *Store) GetClient(ctx context.Context, clientID string) (*client.Client, error) {
	defer s.lock(ctx)()

	c, ok := s.st.clients[clientID]
	if !ok {
		return nil, client.ErrClientNotFound
	}
	out := cloneClient(c)
	return &out, nil
}

func (s *Store) ListClients(ctx context.Context, filter client.ClientFilter) ([]*client.Client, error) {
	defer s.lock(ctx)()

	out := make([]*client.Client, 0)
	for _, c := range s.st.clients {
		if filter.OwnerID != "" && c.OwnerID != filter.OwnerID {
			continue
		}
		if filter.ProductionReadyOnly && !c.ProductionReady {
			continue
		}
		cc := cloneClient(c)
		out = append(out, &cc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// UpdateClient keeps the stored id, secret hash, owner and creation time.
func (s *Store) UpdateClient(ctx context.Context, c *client.Client) error {
	defer s.lock(ctx)()

	current, ok := s.st.clients[c.ID]
	if !ok {
		return client.ErrClientNotFound
	}
	updated := cloneClient(*c)
	updated.SecretHash = current.SecretHash
	updated.OwnerID = current.OwnerID
	updated.CreatedAt = current.CreatedAt
	s.st.clients[c.ID] = updated
	return nil
}

func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	defer s.lock(ctx)()

	if _, ok := s.st.clients[clientID]; !ok {
		return client.ErrClientNotFound
	}
	delete(s.st.clients, clientID)
	for k, v := range s.st.codes {
		if v.ClientID == clientID {
			delete(s.st.codes, k)
		}
	}
	for k, v := range s.st.tokens {
		if v.ClientID == clientID {
			delete(s.st.tokens, k)
		}
	}
	for k := range s.st.consents {
		if k.clientID == clientID {
			delete(s.st.consents, k)
		}
	}
	return nil
}

// --- authorization codes ---

func (s *Store) SaveAuthorizationCode(ctx context.Context, code *domain.AuthorizationCode) error {
	defer s.lock(ctx)()

	if _, ok := s.st.codes[code.Code]; ok {
		return domain.ErrDuplicateKey
	}
	c := *code
	c.Scopes = cloneStrings(code.Scopes)
	s.st.codes[code.Code] = c
	return nil
}

func (s *Store) GetAuthorizationCode(ctx context.Context, clientID, code string) (*domain.AuthorizationCode, error) {
	defer s.lock(ctx)()

	c, ok := s.st.codes[code]
	if !ok || c.ClientID != clientID {
		return nil, domain.ErrAuthorizationCodeNotFound
	}
	c.Scopes = cloneStrings(c.Scopes)
	return &c, nil
}

func (s *Store) DeleteAuthorizationCode(ctx context.Context, clientID, code string) error {
	defer s.lock(ctx)()

	c, ok := s.st.codes[code]
	if !ok || c.ClientID != clientID {
		return domain.ErrAuthorizationCodeNotFound
	}
	delete(s.st.codes, code)
	return nil
}

func (s *Store) DeleteExpiredAuthorizationCodes(ctx context.Context, now time.Time) (int64, error) {
	defer s.lock(ctx)()

	var n int64
	for k, v := range s.st.codes {
		if v.Expired(now) {
			delete(s.st.codes, k)
			n++
		}
	}
	return n, nil
}

// --- access codes ---

func (s *Store) SaveAccessCode(ctx context.Context, token *domain.AccessCode) error {
	defer s.lock(ctx)()

	if _, ok := s.st.tokens[token.Code]; ok {
		return domain.ErrDuplicateKey
	}
	t := *token
	t.Scopes = cloneStrings(token.Scopes)
	s.st.tokens[token.Code] = t
	return nil
}

func (s *Store) GetAccessCode(ctx context.Context, code string) (*domain.AccessCode, error) {
	defer s.lock(ctx)()

	t, ok := s.st.tokens[code]
	if !ok {
		return nil, domain.ErrAccessCodeNotFound
	}
	t.Scopes = cloneStrings(t.Scopes)
	return &t, nil
}

func (s *Store) DeleteExpiredAccessCodes(ctx context.Context, now time.Time) (int64, error) {
	defer s.lock(ctx)()

	var n int64
	for k, v := range s.st.tokens {
		if v.Expired(now) {
			delete(s.st.tokens, k)
			n++
		}
	}
	return n, nil
}

// --- authorized applications ---

func (s *Store) GetAuthorizedApplication(ctx context.Context, userID, clientID string) (*domain.AuthorizedApplication, error) {
	defer s.lock(ctx)()

	a, ok := s.st.consents[consentKey{userID: userID, clientID: clientID}]
	if !ok {
		return nil, domain.ErrAuthorizedApplicationNotFound
	}
	a.Scopes = cloneStrings(a.Scopes)
	return &a, nil
}

func (s *Store) UpsertAuthorizedApplication(ctx context.Context, app *domain.AuthorizedApplication) error {
	defer s.lock(ctx)()

	a := *app
	a.Scopes = cloneStrings(app.Scopes)
	s.st.consents[consentKey{userID: app.UserID, clientID: app.ClientID}] = a
	return nil
}

func (s *Store) ListAuthorizedApplications(ctx context.Context, userID string) ([]*domain.AuthorizedApplication, error) {
	defer s.lock(ctx)()

	out := make([]*domain.AuthorizedApplication, 0)
	for k, v := range s.st.consents {
		if k.userID != userID {
			continue
		}
		a := v
		a.Scopes = cloneStrings(v.Scopes)
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

func (s *Store) DeleteAuthorizedApplication(ctx context.Context, userID, clientID string) error {
	defer s.lock(ctx)()

	key := consentKey{userID: userID, clientID: clientID}
	if _, ok := s.st.consents[key]; !ok {
		return domain.ErrAuthorizedApplicationNotFound
	}
	delete(s.st.consents, key)
	return nil
}

func (s *Store) DeleteAuthorizedApplicationsByUser(ctx context.Context, userID string) (int64, error) {
	defer s.lock(ctx)()

	var n int64
	for k := range s.st.consents {
		if k.userID == userID {
			delete(s.st.consents, k)
			n++
		}
	}
	return n, nil
}

func cloneClient(c client.Client) client.Client {
	c.AuthorizedOrigins = cloneStrings(c.AuthorizedOrigins)
	return c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
