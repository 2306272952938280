package firebase

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/tma-auth-gateway/identity"
	"github.com/upb/tma-auth-gateway/internal/shared"
)

const (
	testProject = "tma-test"
	testEmail   = "gateway@tma-test.iam.gserviceaccount.com"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
	testPEM string
)

func rsaKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	keyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			panic(err)
		}
		testKey = key
		testPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	})
	return testKey, testPEM
}

// fakeToolkit serves the OAuth2 token endpoint and the account API.
type fakeToolkit struct {
	mu       sync.Mutex
	users    map[string]userRecord
	failWith int
	requests []string
	authz    []string
}

func newFakeToolkit() *fakeToolkit {
	return &fakeToolkit{users: make(map[string]userRecord)}
}

func (f *fakeToolkit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/token" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"test-access-token","token_type":"Bearer","expires_in":3600}`))
		return
	}

	f.requests = append(f.requests, r.URL.Path)
	f.authz = append(f.authz, r.Header.Get("Authorization"))

	if f.failWith != 0 {
		w.WriteHeader(f.failWith)
		_, _ = w.Write([]byte(`{"error":{"code":503,"message":"UNAVAILABLE : backend overloaded"}}`))
		return
	}

	switch r.URL.Path {
	case "/v1/projects/" + testProject + "/accounts:lookup":
		var req lookupRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := lookupResponse{}
		for _, id := range req.LocalID {
			if u, ok := f.users[id]; ok {
				resp.Users = append(resp.Users, u)
			}
		}
		// Firebase omits "users" entirely when nothing matched
		w.Header().Set("Content-Type", "application/json")
		if len(resp.Users) == 0 {
			_, _ = w.Write([]byte(`{"kind":"identitytoolkit#GetAccountInfoResponse"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(resp)
	case "/v1/projects/" + testProject + "/accounts":
		raw := map[string]interface{}{}
		_ = json.NewDecoder(r.Body).Decode(&raw)
		id, _ := raw["localId"].(string)
		if _, ok := f.users[id]; ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":400,"message":"DUPLICATE_LOCAL_ID"}}`))
			return
		}
		user := userRecord{LocalID: id, CreatedAt: "1700000000000"}
		user.DisplayName, _ = raw["displayName"].(string)
		if photo, ok := raw["photoUrl"]; ok {
			user.PhotoURL = photo.(string)
		}
		f.users[id] = user
		_, _ = w.Write([]byte(`{"localId":"` + id + `"}`))
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	_, pemKey := rsaKey(t)
	return NewClient(Config{
		ProjectID:   testProject,
		ClientEmail: testEmail,
		PrivateKey:  pemKey,
		BaseURL:     server.URL,
		TokenURL:    server.URL + "/token",
		Timeout:     5 * time.Second,
	}, zap.NewNop(), WithHTTPClient(server.Client()))
}

func TestNormalizePrivateKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "escaped newlines", in: `-----BEGIN-----\nabc\n-----END-----`, want: "-----BEGIN-----\nabc\n-----END-----"},
		{name: "trailing escaped newline", in: `-----BEGIN-----\nabc\n-----END-----\n`, want: "-----BEGIN-----\nabc\n-----END-----"},
		{name: "surrounding whitespace", in: "  -----BEGIN-----\nabc\n-----END-----\n\n", want: "-----BEGIN-----\nabc\n-----END-----"},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePrivateKey(tt.in))
		})
	}
}

func TestLoadServiceAccount(t *testing.T) {
	_, pemKey := rsaKey(t)
	escaped := strings.ReplaceAll(pemKey, "\n", `\n`)

	t.Run("individual fields with escaped newlines", func(t *testing.T) {
		sa, err := LoadServiceAccount(Config{ProjectID: testProject, ClientEmail: testEmail, PrivateKey: escaped})
		require.NoError(t, err)
		assert.Equal(t, strings.TrimSpace(pemKey), sa.PrivateKey)

		_, err = ParsePrivateKey(sa.PrivateKey)
		assert.NoError(t, err)
	})

	t.Run("base64 service account json", func(t *testing.T) {
		raw, err := json.Marshal(ServiceAccount{
			Type:        "service_account",
			ProjectID:   "from-json",
			ClientEmail: testEmail,
			PrivateKey:  pemKey,
			TokenURI:    "https://oauth2.googleapis.com/token",
		})
		require.NoError(t, err)

		sa, err := LoadServiceAccount(Config{ServiceAccountBase64: base64.StdEncoding.EncodeToString(raw)})
		require.NoError(t, err)
		assert.Equal(t, "from-json", sa.ProjectID)
		assert.Equal(t, testEmail, sa.ClientEmail)
		assert.Equal(t, "https://oauth2.googleapis.com/token", sa.TokenURI)
	})

	t.Run("explicit project id overrides json", func(t *testing.T) {
		raw, _ := json.Marshal(ServiceAccount{ProjectID: "from-json", ClientEmail: testEmail, PrivateKey: pemKey})
		sa, err := LoadServiceAccount(Config{ProjectID: testProject, ServiceAccountBase64: base64.StdEncoding.EncodeToString(raw)})
		require.NoError(t, err)
		assert.Equal(t, testProject, sa.ProjectID)
	})

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "nothing configured", cfg: Config{}},
		{name: "missing email", cfg: Config{ProjectID: testProject, PrivateKey: pemKey}},
		{name: "missing key", cfg: Config{ProjectID: testProject, ClientEmail: testEmail}},
		{name: "bad base64", cfg: Config{ServiceAccountBase64: "%%%"}},
		{name: "bad json", cfg: Config{ServiceAccountBase64: base64.StdEncoding.EncodeToString([]byte("{"))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadServiceAccount(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestClient_Init(t *testing.T) {
	t.Run("valid credentials", func(t *testing.T) {
		server := httptest.NewServer(newFakeToolkit())
		defer server.Close()

		client := newTestClient(t, server)
		assert.Equal(t, StateUnconfigured, client.State())
		assert.Empty(t, client.ProjectID())

		require.NoError(t, client.Init(context.Background()))
		assert.Equal(t, StateReady, client.State())
		assert.Equal(t, testProject, client.ProjectID())
	})

	t.Run("failure is sticky", func(t *testing.T) {
		client := NewClient(Config{ProjectID: testProject, ClientEmail: testEmail, PrivateKey: "not a key"}, zap.NewNop())

		err := client.Init(context.Background())
		require.Error(t, err)
		assert.True(t, shared.IsConfigError(err))
		assert.Equal(t, StateFailed, client.State())
		assert.Equal(t, "failed", client.State().String())

		assert.Same(t, err, client.Init(context.Background()))
	})

	t.Run("concurrent init runs once", func(t *testing.T) {
		server := httptest.NewServer(newFakeToolkit())
		defer server.Close()
		client := newTestClient(t, server)

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, client.Init(context.Background()))
			}()
		}
		wg.Wait()
		assert.Equal(t, StateReady, client.State())
	})
}

func TestAccountStore(t *testing.T) {
	toolkit := newFakeToolkit()
	server := httptest.NewServer(toolkit)
	defer server.Close()

	store := NewAccountStore(newTestClient(t, server))
	ctx := context.Background()

	t.Run("missing account is not an error", func(t *testing.T) {
		account, found, err := store.LookupAccount(ctx, "tg:42")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, account)
	})

	t.Run("create then lookup", func(t *testing.T) {
		err := store.CreateAccount(ctx, &identity.Account{Subject: "tg:42", ExternalID: 42, DisplayName: "Ann Lee"})
		require.NoError(t, err)

		toolkit.mu.Lock()
		stored, ok := toolkit.users["tg:42"]
		toolkit.mu.Unlock()
		require.True(t, ok)
		assert.Empty(t, stored.PhotoURL, "photoUrl is omitted when absent")

		account, found, err := store.LookupAccount(ctx, "tg:42")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "tg:42", account.Subject)
		assert.Equal(t, int64(42), account.ExternalID)
		assert.Equal(t, "Ann Lee", account.DisplayName)
		assert.Empty(t, account.PhotoURL)
		assert.Equal(t, int64(1700000000), account.CreatedAt.Unix())
	})

	t.Run("duplicate create maps to ErrAccountExists", func(t *testing.T) {
		err := store.CreateAccount(ctx, &identity.Account{Subject: "tg:42", DisplayName: "Ann"})
		assert.ErrorIs(t, err, identity.ErrAccountExists)
	})

	t.Run("requests carry the service account token", func(t *testing.T) {
		toolkit.mu.Lock()
		defer toolkit.mu.Unlock()
		require.NotEmpty(t, toolkit.authz)
		for _, authz := range toolkit.authz {
			assert.Equal(t, "Bearer test-access-token", authz)
		}
	})

	t.Run("server errors are temporary and hide the body", func(t *testing.T) {
		toolkit.mu.Lock()
		toolkit.failWith = http.StatusServiceUnavailable
		toolkit.mu.Unlock()
		defer func() {
			toolkit.mu.Lock()
			toolkit.failWith = 0
			toolkit.mu.Unlock()
		}()

		_, _, err := store.LookupAccount(ctx, "tg:42")
		require.Error(t, err)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.True(t, apiErr.Temporary())
		assert.Equal(t, "UNAVAILABLE", apiErr.Code)
		assert.NotContains(t, err.Error(), "overloaded")
	})
}

func TestAccountStore_WithProvisioner(t *testing.T) {
	toolkit := newFakeToolkit()
	server := httptest.NewServer(toolkit)
	defer server.Close()

	store := NewAccountStore(newTestClient(t, server))
	provisioner := identity.NewProvisioner(store, zap.NewNop(), identity.WithRetryInterval(time.Millisecond))

	id := identityFixture()
	for i := 0; i < 3; i++ {
		subject, created, err := provisioner.Ensure(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "tg:42", subject)
		assert.Equal(t, i == 0, created)
	}

	toolkit.mu.Lock()
	defer toolkit.mu.Unlock()
	assert.Len(t, toolkit.users, 1)
	assert.Equal(t, "https://t.me/i/ann.jpg", toolkit.users["tg:42"].PhotoURL)
}

func TestCustomTokenIssuer(t *testing.T) {
	server := httptest.NewServer(newFakeToolkit())
	defer server.Close()

	key, _ := rsaKey(t)
	issuer := NewCustomTokenIssuer(newTestClient(t, server), 30*time.Minute)
	now := time.Now().Truncate(time.Second)
	issuer.now = func() time.Time { return now }

	token, err := issuer.IssueToken(context.Background(), "tg:42", map[string]any{"first_name": "Ann"})
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithAudience(CustomTokenAudience))
	require.NoError(t, err)
	assert.True(t, parsed.Valid)

	assert.Equal(t, testEmail, claims["iss"])
	assert.Equal(t, testEmail, claims["sub"])
	assert.Equal(t, "tg:42", claims["uid"])
	assert.Equal(t, float64(now.Unix()), claims["iat"])
	assert.Equal(t, float64(now.Add(30*time.Minute).Unix()), claims["exp"])
	assert.Equal(t, map[string]interface{}{"first_name": "Ann"}, claims["claims"])

	t.Run("no claims omits the field", func(t *testing.T) {
		token, err := issuer.IssueToken(context.Background(), "tg:42", nil)
		require.NoError(t, err)

		claims := jwt.MapClaims{}
		_, _, err = jwt.NewParser().ParseUnverified(token, claims)
		require.NoError(t, err)
		assert.NotContains(t, claims, "claims")
	})

	t.Run("reserved claim", func(t *testing.T) {
		_, err := issuer.IssueToken(context.Background(), "tg:42", map[string]any{"aud": "x"})
		assert.ErrorIs(t, err, shared.ErrUpstreamIssuanceFailure)
	})

	t.Run("uid too long", func(t *testing.T) {
		_, err := issuer.IssueToken(context.Background(), strings.Repeat("x", 129), nil)
		assert.ErrorIs(t, err, shared.ErrUpstreamIssuanceFailure)
	})

	t.Run("ttl is clamped to one hour", func(t *testing.T) {
		assert.Equal(t, MaxCustomTokenTTL, NewCustomTokenIssuer(nil, 2*time.Hour).ttl)
		assert.Equal(t, MaxCustomTokenTTL, NewCustomTokenIssuer(nil, 0).ttl)
	})

	t.Run("unconfigured client is a config error", func(t *testing.T) {
		broken := NewCustomTokenIssuer(NewClient(Config{}, zap.NewNop()), time.Hour)
		_, err := broken.IssueToken(context.Background(), "tg:42", nil)
		assert.True(t, shared.IsConfigError(err))
	})
}
