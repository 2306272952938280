package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/upb/tma-auth-gateway/app"
	"github.com/upb/tma-auth-gateway/config"
	"github.com/upb/tma-auth-gateway/handlers"
	"github.com/upb/tma-auth-gateway/identity"
	"github.com/upb/tma-auth-gateway/initdata"
	"github.com/upb/tma-auth-gateway/utils"
)

const (
	testBotToken   = "TESTTOKEN"
	testSigningKey = "0123456789abcdef0123456789abcdef"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.Dependencies) {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{RequestTimeout: 5 * time.Second},
		Telegram:    config.TelegramConfig{BotToken: testBotToken},
		IdentityProvider: config.IdentityProviderConfig{
			Backend: config.BackendMemory,
			Timeout: time.Second,
			Issuer: config.IssuerConfig{
				SigningKey: testSigningKey,
				Issuer:     "tma-auth-gateway",
				TokenTTL:   time.Hour,
			},
		},
		Observability: config.ObservabilityConfig{LogLevel: "debug", MetricsEnabled: true},
		CORS:          config.CORSConfig{AllowedOrigins: []string{"https://web.telegram.org"}},
	}

	deps, err := app.NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })

	server := httptest.NewServer(SetupRoutes(deps))
	t.Cleanup(server.Close)
	return server, deps
}

func signedInitData(t *testing.T, user string) string {
	t.Helper()
	raw := url.Values{"auth_date": {"1700000000"}, "user": {user}}.Encode()
	verifier, err := initdata.NewVerifier(testBotToken)
	require.NoError(t, err)
	payload, err := initdata.Parse(raw)
	require.NoError(t, err)
	return raw + "&hash=" + verifier.Sign(payload)
}

func postInitData(t *testing.T, server *httptest.Server, initData string) *http.Response {
	t.Helper()
	body, err := json.Marshal(handlers.TelegramAuthRequest{InitData: initData})
	require.NoError(t, err)
	resp, err := http.Post(server.URL+"/auth/telegram", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestTelegramAuthFlow(t *testing.T) {
	server, deps := newTestServer(t)
	initData := signedInitData(t, `{"id":42,"first_name":"Ann","username":"ann_lee"}`)

	var tokens []string
	for i := 0; i < 2; i++ {
		resp := postInitData(t, server, initData)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body handlers.TelegramAuthResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		tokens = append(tokens, body.Token)
	}

	assert.Equal(t, 1, deps.AccountStore.(*identity.MemoryStore).Len())

	claims, err := deps.TokenIssuer.(*identity.JWTIssuer).ParseToken(tokens[0])
	require.NoError(t, err)
	assert.Equal(t, "tg:42", claims.Subject)
	assert.Equal(t, "ann_lee", claims.Claims["username"])
}

func TestTelegramAuthErrors(t *testing.T) {
	server, _ := newTestServer(t)

	t.Run("forged signature", func(t *testing.T) {
		forged := signedInitData(t, `{"id":42,"first_name":"Ann"}`)
		forged = strings.Replace(forged, "Ann", "Bob", 1)

		resp := postInitData(t, server, forged)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		var body utils.ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "signature_mismatch", body.Error)
	})

	t.Run("missing initData", func(t *testing.T) {
		resp, err := http.Post(server.URL+"/auth/telegram", "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("wrong method", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/auth/telegram")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("unknown route", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/nope")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestMeRoute(t *testing.T) {
	server, _ := newTestServer(t)

	t.Run("authorized", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, server.URL+"/api/v1/me", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "tma "+signedInitData(t, `{"id":7,"first_name":"Bo"}`))

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "tg:7", body["subject"])
	})

	t.Run("unauthorized", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/v1/me")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestOperationalRoutes(t *testing.T) {
	server, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	// exercise the exchange so counters have samples
	postInitData(t, server, "a=1&a=2")

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `tma_auth_verifications_total{result="malformed_payload"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	server, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/auth/telegram", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://web.telegram.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "https://web.telegram.org", resp.Header.Get("Access-Control-Allow-Origin"))
}
