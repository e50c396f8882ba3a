package fireconn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/aatn/firegate/internal/config"
)

// datastoreScope is the OAuth scope required for Firestore access.
const datastoreScope = "https://www.googleapis.com/auth/datastore"

var (
	// ErrConnection indicates credential resolution or app registration failed.
	ErrConnection = errors.New("firestore connection failed")
	// ErrHandleUnavailable indicates the handle was still absent after the
	// single reinitialization attempt.
	ErrHandleUnavailable = errors.New("firestore handle unavailable after reinitialization")
)

// clientDeps isolates the Firestore SDK calls so tests can stub them.
type clientDeps struct {
	connect         func(ctx context.Context, cfg config.Firebase) (*firestore.Client, error)
	listCollections func(ctx context.Context, client *firestore.Client) (int, error)
	closeClient     func(client *firestore.Client) error
}

func defaultDeps() clientDeps {
	return clientDeps{
		connect: defaultConnect,
		listCollections: func(ctx context.Context, client *firestore.Client) (int, error) {
			it := client.Collections(ctx)
			count := 0
			for {
				_, err := it.Next()
				if err == iterator.Done {
					break
				}
				if err != nil {
					return 0, err
				}
				count++
			}
			return count, nil
		},
		closeClient: func(client *firestore.Client) error {
			return client.Close()
		},
	}
}

// Manager owns the single live Firestore client handle for the process.
// It is constructed once in main and passed by reference; all handle
// access is mediated through Handle so at most one client exists at a time.
type Manager struct {
	mu      sync.Mutex
	cfg     config.Firebase
	client  *firestore.Client
	reinits int
	deps    clientDeps
}

// New creates a manager for the given configuration. No I/O happens here;
// call Initialize to establish the handle.
func New(cfg config.Firebase) *Manager {
	return &Manager{
		cfg:  cfg,
		deps: defaultDeps(),
	}
}

// ProjectID returns the configured project identifier.
func (m *Manager) ProjectID() string {
	return m.cfg.ProjectID
}

// Reinits returns the cumulative number of reinitialization attempts
// triggered by a missing handle.
func (m *Manager) Reinits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reinits
}

// Initialize establishes the Firestore handle. It is a no-op when a handle
// is already present. Failures leave the handle absent and are returned to
// the caller after being logged.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initLocked(ctx)
}

// initLocked performs the actual connection. The caller must hold m.mu.
func (m *Manager) initLocked(ctx context.Context) error {
	if m.client != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, config.GetTimeouts().Connect)
	defer cancel()

	client, err := m.deps.connect(ctx, m.cfg)
	if err != nil {
		log.Error().Err(err).Str("project_id", m.cfg.ProjectID).Msg("Failed to initialize Firestore handle")
		return err
	}

	m.client = client
	if client != nil {
		log.Info().Str("project_id", m.cfg.ProjectID).Msg("Firestore handle initialized")
	}
	return nil
}

// Handle returns the cached Firestore client. When the handle is absent it
// performs exactly one reinitialization attempt (no loop, no recursion)
// before returning ErrHandleUnavailable.
func (m *Manager) Handle(ctx context.Context) (*firestore.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client, nil
	}

	log.Warn().Str("project_id", m.cfg.ProjectID).Msg("Firestore handle missing, attempting reinitialization")
	m.reinits++

	if err := m.initLocked(ctx); err != nil {
		return nil, err
	}

	if m.client == nil {
		log.Error().Str("project_id", m.cfg.ProjectID).Msg("Firestore handle unavailable after reinitialization")
		return nil, ErrHandleUnavailable
	}

	return m.client, nil
}

// Close releases the Firestore handle. The handle is cleared even when the
// underlying close fails, so the manager can never be left half-closed; the
// error is logged and returned for callers that care.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}

	err := m.deps.closeClient(m.client)
	m.client = nil

	if err != nil {
		log.Error().Err(err).Msg("Error closing Firestore handle")
		return err
	}

	log.Info().Msg("Firestore handle closed")
	return nil
}

// defaultConnect resolves credentials, registers the Firebase app, and
// builds the Firestore client. A configured credentials file is used when
// it exists on disk; otherwise application default credentials are
// resolved, matching the ambient-credential fallback of the SDK.
func defaultConnect(ctx context.Context, cfg config.Firebase) (*firestore.Client, error) {
	var opts []option.ClientOption

	if cfg.CredentialsPath != "" && fileExists(cfg.CredentialsPath) {
		log.Info().Str("path", cfg.CredentialsPath).Msg("Initializing Firebase with credentials file")
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	} else {
		if cfg.CredentialsPath != "" {
			log.Warn().Str("path", cfg.CredentialsPath).Msg("Credentials file not found, falling back to application default credentials")
		}

		creds, err := google.FindDefaultCredentials(ctx, datastoreScope)
		if err != nil {
			return nil, fmt.Errorf("%w: resolving application default credentials: %v", ErrConnection, err)
		}

		log.Info().Msg("Initializing Firebase with application default credentials")
		opts = append(opts, option.WithCredentials(creds))
	}

	appConfig := &firebase.Config{ProjectID: cfg.ProjectID}
	if cfg.DatabaseURL != "" {
		appConfig.DatabaseURL = cfg.DatabaseURL
	}

	app, err := firebase.NewApp(ctx, appConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: registering firebase app: %v", ErrConnection, err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("building firestore client: %w", err)
	}

	return client, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
