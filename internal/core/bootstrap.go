package core

import (
	"crypto/rand"
	"fmt"
	"net/url"

	"github.com/go-logr/logr"

	"github.com/sso-tools/cascade/pkg/handshake"
	"github.com/sso-tools/cascade/pkg/ticketstore"
	"github.com/sso-tools/cascade/pkg/ticketstore/memory"
	"github.com/sso-tools/cascade/pkg/ticketstore/sqlite"
	"github.com/sso-tools/cascade/pkg/validator"
)

// BootstrapResult holds the initialized handshake engine and ticket store.
type BootstrapResult struct {
	Config    *Config
	Handshake *handshake.Handshake
	Store     ticketstore.Store

	// Close releases store resources; a no-op for the memory store.
	Close func() error
}

// Bootstrap wires the validator, state codec, handshake and ticket store
// from configuration. events may be nil for default behavior.
func Bootstrap(cfg *Config, events handshake.Events, logger logr.Logger) (*BootstrapResult, error) {
	casURL, err := url.Parse(cfg.CasServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid CAS server URL %q: %w", cfg.CasServerURL, err)
	}

	v, err := validator.New(validator.Options{
		CasURL:  casURL,
		Version: validator.ProtocolVersion(cfg.ProtocolVersion),
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize validator: %w", err)
	}

	stateKey := []byte(cfg.StateKey)
	if len(stateKey) == 0 {
		// An ephemeral key invalidates in-flight sign-ins on restart;
		// acceptable for development, set CASCADE_STATE_KEY elsewhere.
		stateKey = make([]byte, 32)
		if _, err := rand.Read(stateKey); err != nil {
			return nil, fmt.Errorf("failed to generate state key: %w", err)
		}
		logger.Info("no state key configured, using an ephemeral key")
	}

	codec, err := handshake.NewJWTStateCodec(stateKey, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state codec: %w", err)
	}

	hs, err := handshake.New(handshake.Options{
		ServerURL:    casURL,
		CallbackURL:  cfg.BaseURL + cfg.CallbackPath,
		Validator:    v,
		Codec:        codec,
		Events:       events,
		Logger:       logger,
		RecordTicket: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize handshake: %w", err)
	}

	var store ticketstore.Store
	closeStore := func() error { return nil }
	if cfg.DatabasePath != "" {
		db, err := sqlite.New(sqlite.Options{
			Path:       cfg.DatabasePath,
			DefaultTTL: cfg.SessionTTL,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open ticket store: %w", err)
		}
		store = db
		closeStore = db.Close
	} else {
		store = memory.NewAdapter(cfg.SessionTTL)
	}

	return &BootstrapResult{
		Config:    cfg,
		Handshake: hs,
		Store:     store,
		Close:     closeStore,
	}, nil
}
