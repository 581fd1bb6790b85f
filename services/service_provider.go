package services

import (
	"errors"
	"sync"
	"time"

	"github.com/srus/yith-library-server/cache"
	"github.com/srus/yith-library-server/client"
	"github.com/srus/yith-library-server/consent"
	"github.com/srus/yith-library-server/internal/auth"
	applog "github.com/srus/yith-library-server/log"
	"github.com/srus/yith-library-server/validator"
)

// DefaultServiceProviderOptions holds all necessary dependencies to create a
// DefaultServiceProvider.
type DefaultServiceProviderOptions struct {
	RepositoryProvider RepositoryProvider
	// TokenCache is optional.
	TokenCache           cache.TokenStore
	Logger               applog.Logger
	AccessTokenTTL       time.Duration
	AuthorizationCodeTTL time.Duration
	DefaultScopes        []string
	SecretHashCost       int
	Clock                func() time.Time
}

// DefaultServiceProvider builds the services once and shares them. The
// accessors are safe for concurrent use.
type DefaultServiceProvider struct {
	opts DefaultServiceProviderOptions

	clientOnce        sync.Once
	validatorOnce     sync.Once
	consentOnce       sync.Once
	authorizationOnce sync.Once
	tokenOnce         sync.Once
	reaperOnce        sync.Once

	clientService        *client.ClientService
	grantValidator       *validator.RequestValidator
	consentTracker       *consent.Tracker
	authorizationService *AuthorizationService
	tokenService         *TokenService
	reaper               *Reaper
}

// NewDefaultServiceProvider creates a new instance of DefaultServiceProvider.
func NewDefaultServiceProvider(opts DefaultServiceProviderOptions) (*DefaultServiceProvider, error) {
	if opts.RepositoryProvider == nil {
		return nil, errors.New("RepositoryProvider is required in DefaultServiceProviderOptions")
	}
	if opts.Logger == nil {
		opts.Logger = applog.NewNopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &DefaultServiceProvider{opts: opts}, nil
}

func (p *DefaultServiceProvider) Repositories() RepositoryProvider {
	return p.opts.RepositoryProvider
}

func (p *DefaultServiceProvider) ClientService() *client.ClientService {
	p.clientOnce.Do(func() {
		opts := []client.Option{
			client.WithSecretHasher(auth.NewBcryptSecretHasher(p.opts.SecretHashCost)),
			client.WithClock(p.opts.Clock),
		}
		if p.opts.TokenCache != nil {
			opts = append(opts, client.WithTokenEvictor(p.opts.TokenCache))
		}
		p.clientService = client.NewClientService(p.opts.RepositoryProvider.ClientStore(), opts...)
	})
	return p.clientService
}

// GrantValidator is also the bearer token validator of the resource guard.
func (p *DefaultServiceProvider) GrantValidator() *validator.RequestValidator {
	p.validatorOnce.Do(func() {
		opts := []validator.Option{
			validator.WithClock(p.opts.Clock),
			validator.WithAuthorizationCodeTTL(p.opts.AuthorizationCodeTTL),
		}
		if len(p.opts.DefaultScopes) > 0 {
			opts = append(opts, validator.WithDefaultScopes(p.opts.DefaultScopes))
		}
		if p.opts.TokenCache != nil {
			opts = append(opts, validator.WithTokenCache(p.opts.TokenCache))
		}

		repos := p.opts.RepositoryProvider
		p.grantValidator = validator.NewRequestValidator(
			p.ClientService(),
			repos.AuthorizationCodeRepository(),
			repos.AccessCodeRepository(),
			opts...,
		)
	})
	return p.grantValidator
}

func (p *DefaultServiceProvider) ConsentTracker() *consent.Tracker {
	p.consentOnce.Do(func() {
		p.consentTracker = consent.NewTracker(p.opts.RepositoryProvider.AuthorizedApplicationRepository(), p.opts.Clock)
	})
	return p.consentTracker
}

func (p *DefaultServiceProvider) AuthorizationService() *AuthorizationService {
	p.authorizationOnce.Do(func() {
		p.authorizationService = NewAuthorizationService(
			p.GrantValidator(),
			p.ConsentTracker(),
			p.opts.RepositoryProvider,
			p.opts.AccessTokenTTL,
			p.opts.Logger.With(applog.Fields{"component": "authorization"}),
		)
	})
	return p.authorizationService
}

func (p *DefaultServiceProvider) TokenService() *TokenService {
	p.tokenOnce.Do(func() {
		p.tokenService = NewTokenService(
			p.GrantValidator(),
			p.opts.RepositoryProvider,
			p.opts.AccessTokenTTL,
			p.opts.Logger.With(applog.Fields{"component": "token"}),
		)
	})
	return p.tokenService
}

func (p *DefaultServiceProvider) Reaper() *Reaper {
	p.reaperOnce.Do(func() {
		repos := p.opts.RepositoryProvider
		p.reaper = NewReaper(
			repos.AuthorizationCodeRepository(),
			repos.AccessCodeRepository(),
			p.opts.TokenCache,
			p.opts.Clock,
			p.opts.Logger,
		)
	})
	return p.reaper
}
