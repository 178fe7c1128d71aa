package main

import (
	"context"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/padronkit/padron-core/internal/config"
	"github.com/padronkit/padron-core/internal/logging"
	"github.com/padronkit/padron-core/pkg/credstore"
	"github.com/padronkit/padron-core/pkg/crypto"
	"github.com/padronkit/padron-core/pkg/wsaa"
)

// loadConfig reads and validates the configuration for commands that talk to
// the authority.
func loadConfig() (config.Config, error) {
	cfg := config.FromViper(viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadKeyPair(cfg config.Config) (*crypto.KeyPair, error) {
	if cfg.P12File != "" {
		return crypto.LoadPKCS12(cfg.P12File, cfg.P12Password)
	}
	return crypto.LoadKeyPair(cfg.CertFile, cfg.KeyFile)
}

// loadRootCAs returns nil (system roots) unless an extra CA file is configured.
func loadRootCAs(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// openStore returns the configured credential store and a close func.
// A nil store means persistence is disabled.
func openStore(ctx context.Context, cfg config.Config) (wsaa.CredentialStore, func(), error) {
	noop := func() {}
	switch cfg.Store.Type {
	case config.StoreNone:
		return nil, noop, nil
	case config.StoreMemory:
		return credstore.NewMemoryStore(), noop, nil
	case config.StoreRedis:
		client, err := credstore.NewRedisClient(ctx, cfg.Store.RedisURL)
		if err != nil {
			return nil, noop, err
		}
		return credstore.NewRedisStore(client, cfg.Store.RedisPrefix), func() { _ = client.Close() }, nil
	default:
		store, err := credstore.NewFileStore(cfg.Store.Path)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	}
}

// session is the wired ticket lifecycle shared by the commands.
type session struct {
	cfg     config.Config
	keyPair *crypto.KeyPair
	rootCAs *x509.CertPool
	keeper  *wsaa.Keeper
	close   func()
}

type sessionOptions struct {
	Observer      wsaa.Observer
	CheckInterval time.Duration
}

// newSession loads key material and wires signer, authority client, store
// and keeper.
func newSession(ctx context.Context, cfg config.Config, opts sessionOptions) (*session, error) {
	kp, err := loadKeyPair(cfg)
	if err != nil {
		return nil, err
	}
	if err := kp.Validate(time.Now()); err != nil {
		return nil, err
	}
	if cfg.CUIT == "" {
		cfg.CUIT = kp.CUIT()
	}

	thumbprint, _ := kp.Thumbprint()
	log.Debug().
		Str("subject", kp.Certificate.Subject.CommonName).
		Str("thumbprint", thumbprint).
		Time("not_after", kp.Certificate.NotAfter).
		Msg("loaded signing certificate")

	rootCAs, err := loadRootCAs(cfg.CAFile)
	if err != nil {
		return nil, err
	}

	authority, err := wsaa.NewClient(wsaa.ClientOptions{
		URL:     cfg.AuthorityURL,
		Timeout: cfg.Timeout,
		RootCAs: rootCAs,
		Logger:  logging.Component("wsaa"),
	})
	if err != nil {
		return nil, err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	keeper, err := wsaa.NewKeeper(wsaa.KeeperConfig{
		Builder: wsaa.NewTicketBuilder(cfg.Service, wsaa.TicketOptions{
			TTL:       cfg.TicketTTL,
			ClockSkew: cfg.ClockSkew,
		}),
		Signer:        wsaa.NewSigner(kp),
		Authority:     authority,
		Store:         store,
		StoreKey:      credstore.Key(cfg.Service, cfg.CUIT),
		RenewBefore:   cfg.RenewBefore,
		CheckInterval: opts.CheckInterval,
		Logger:        logging.Component("keeper"),
		Observer:      opts.Observer,
	})
	if err != nil {
		closeStore()
		return nil, err
	}

	return &session{
		cfg:     cfg,
		keyPair: kp,
		rootCAs: rootCAs,
		keeper:  keeper,
		close:   closeStore,
	}, nil
}
