// Package firebase talks to Firebase Authentication: account lookup and
// creation over the Identity Toolkit REST API, and custom token minting.
package firebase

import (
	"context"
	"crypto/rsa"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	oauthjwt "golang.org/x/oauth2/jwt"

	"github.com/upb/tma-auth-gateway/internal/shared"
)

const (
	// DefaultBaseURL is the Identity Toolkit endpoint.
	DefaultBaseURL = "https://identitytoolkit.googleapis.com"
	// DefaultTokenURL is Google's OAuth2 token endpoint.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
)

var scopes = []string{
	"https://www.googleapis.com/auth/identitytoolkit",
	"https://www.googleapis.com/auth/cloud-platform",
}

// Config configures the Firebase client.
type Config struct {
	ProjectID            string
	ClientEmail          string
	PrivateKey           string
	ServiceAccountBase64 string
	BaseURL              string
	TokenURL             string
	TokenTTL             time.Duration
	Timeout              time.Duration
}

// State is the initialization state of a Client.
type State int32

const (
	StateUnconfigured State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unconfigured"
	}
}

// Client is the process-wide Firebase client. Credentials are parsed and the
// authenticated HTTP client built exactly once, on first use or on Init. A
// failed initialization is sticky: every later call returns the same error.
type Client struct {
	cfg    Config
	logger *zap.Logger
	base   *http.Client

	once  sync.Once
	state atomic.Int32
	err   error

	account    *ServiceAccount
	key        *rsa.PrivateKey
	httpClient *http.Client
	baseURL    string
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient sets the transport used for token and API calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.base = hc
	}
}

// NewClient creates an uninitialized client.
func NewClient(cfg Config, logger *zap.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init initializes the client once and returns the stored result.
func (c *Client) Init(ctx context.Context) error {
	c.once.Do(func() {
		if err := c.init(ctx); err != nil {
			c.err = shared.ConfigError("firebase client: %v", err)
			c.state.Store(int32(StateFailed))
			c.logger.Error("firebase client initialization failed", zap.Error(err))
			return
		}
		c.state.Store(int32(StateReady))
		c.logger.Info("firebase client initialized",
			zap.String("project_id", c.account.ProjectID),
			zap.String("client_email", c.account.ClientEmail))
	})
	return c.err
}

// State reports the initialization state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// ProjectID returns the resolved project, or "" before initialization.
func (c *Client) ProjectID() string {
	if c.State() != StateReady {
		return ""
	}
	return c.account.ProjectID
}

func (c *Client) init(ctx context.Context) error {
	account, err := LoadServiceAccount(c.cfg)
	if err != nil {
		return err
	}
	key, err := ParsePrivateKey(account.PrivateKey)
	if err != nil {
		return err
	}

	tokenURL := c.cfg.TokenURL
	if tokenURL == "" {
		tokenURL = account.TokenURI
	}
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	conf := &oauthjwt.Config{
		Email:      account.ClientEmail,
		PrivateKey: []byte(account.PrivateKey),
		Scopes:     scopes,
		TokenURL:   tokenURL,
	}

	// the token source outlives the request that triggered Init
	clientCtx := context.WithoutCancel(ctx)
	if c.base != nil {
		clientCtx = context.WithValue(clientCtx, oauth2.HTTPClient, c.base)
	}
	httpClient := conf.Client(clientCtx)
	if c.cfg.Timeout > 0 {
		httpClient.Timeout = c.cfg.Timeout
	}

	c.account = account
	c.key = key
	c.httpClient = httpClient
	c.baseURL = strings.TrimSuffix(c.cfg.BaseURL, "/")
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	return nil
}
