package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/srus/yith-library-server/cache"
	"github.com/srus/yith-library-server/config"
	"github.com/srus/yith-library-server/internal/server"
	"github.com/srus/yith-library-server/log"
	"github.com/srus/yith-library-server/services"
	"gopkg.in/yaml.v3"
)

const appName = "yithctl"

// openRepositories and openTokenCache are replaced in tests.
var (
	openRepositories = server.OpenRepositories
	openTokenCache   = server.OpenTokenCache
)

type app struct {
	v          *viper.Viper
	cfg        *config.ServerConfig
	logger     log.Logger
	provider   *services.DefaultServiceProvider
	closeRepo  func(context.Context)
	closeCache func()
}

// NewRootCmd builds the command tree. Every persistent flag is bound to the
// configuration key of the same meaning.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           appName,
		Short:         "yithctl administers a yith-library-server deployment",
		Long:          `A command-line interface for registering OAuth2 clients, revoking consents, running migrations and reaping expired credentials.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.v)
			if err != nil {
				return err
			}
			a.cfg = cfg

			level, err := zerolog.ParseLevel(cfg.LogLevel)
			if err != nil {
				level = zerolog.InfoLevel
			}
			zerolog.SetGlobalLevel(level)
			a.logger = log.NewZerologAdapter(level, true)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.closeCache != nil {
				a.closeCache()
			}
			if a.closeRepo != nil {
				a.closeRepo(cmd.Context())
			}
		},
	}

	flags := root.PersistentFlags()
	flags.String("storage-backend", config.BackendMemory, "storage backend (memory, mongodb, postgres)")
	flags.String("mongo-uri", "", "MongoDB connection URI")
	flags.String("mongo-db-name", "", "MongoDB database name")
	flags.String("postgres-dsn", "", "PostgreSQL connection string")
	flags.String("token-cache", config.CacheNone, "shared token cache to evict on client deletion and reaping (none, redis)")
	flags.String("redis-addr", "", "Redis address of the token cache")
	flags.String("redis-key-prefix", "", "key prefix of the token cache")
	flags.String("log-level", "warn", "log level")

	for key, flag := range map[string]string{
		"STORAGE_BACKEND":  "storage-backend",
		"MONGO_URI":        "mongo-uri",
		"MONGO_DB_NAME":    "mongo-db-name",
		"POSTGRES_DSN":     "postgres-dsn",
		"TOKEN_CACHE":      "token-cache",
		"REDIS_ADDR":       "redis-addr",
		"REDIS_KEY_PREFIX": "redis-key-prefix",
		"LOG_LEVEL":        "log-level",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		newClientCmd(a),
		newConsentCmd(a),
		newMigrateCmd(a),
		newReapCmd(a),
	)
	return root
}

// services opens the storage backend on first use.
func (a *app) services(ctx context.Context) (*services.DefaultServiceProvider, error) {
	if a.provider != nil {
		return a.provider, nil
	}

	repos, closeFn, err := openRepositories(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage backend: %w", err)
	}
	a.closeRepo = closeFn

	// A process local cache dies with the command, only a shared one needs
	// evicting.
	var tokenCache cache.TokenStore
	if a.cfg.TokenCache == config.CacheRedis {
		tc, closeCache, err := openTokenCache(ctx, a.cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open token cache: %w", err)
		}
		tokenCache, a.closeCache = tc, closeCache
	}

	sp, err := services.NewDefaultServiceProvider(services.DefaultServiceProviderOptions{
		RepositoryProvider:   repos,
		TokenCache:           tokenCache,
		Logger:               a.logger,
		AccessTokenTTL:       a.cfg.AccessTokenTTL(),
		AuthorizationCodeTTL: a.cfg.AuthorizationCodeTTL(),
		DefaultScopes:        a.cfg.DefaultScopeList(),
		SecretHashCost:       a.cfg.ClientSecretHashCost,
	})
	if err != nil {
		return nil, err
	}
	a.provider = sp
	return sp, nil
}

func printYAML(w io.Writer, v interface{}) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
