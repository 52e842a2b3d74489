package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pairchat/pairchat-server/internal/auth"
	"github.com/pairchat/pairchat-server/internal/chat"
	"github.com/pairchat/pairchat-server/internal/config"
	"github.com/pairchat/pairchat-server/internal/core"
	"github.com/pairchat/pairchat-server/internal/store"
	"github.com/pairchat/pairchat-server/internal/store/sqlite"
)

// testEnv carries everything a transport test needs.
type testEnv struct {
	ts       *httptest.Server
	store    store.Store
	auth     *auth.Service
	chats    *chat.Service
	hub      *core.Hub
	registry *core.Registry
}

func createTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return st
}

func createTestAuthService(st store.Store) *auth.Service {
	jwtConfig := &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}
	return auth.NewService(st, jwtConfig)
}

func startTestServer(t *testing.T) *testEnv {
	t.Helper()

	st := createTestStore(t)
	authService := createTestAuthService(st)
	chatService := chat.NewService(st, 5*time.Second)

	registry := core.NewRegistry()
	logger := zerolog.Nop()
	hub := core.NewHub(registry, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	cfg := config.Default()
	cfg.UploadDir = t.TempDir()
	cfg.MessageRatePerMinute = 0

	server := NewServer(hub, registry, authService, chatService, st, cfg, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{
		ts:       ts,
		store:    st,
		auth:     authService,
		chats:    chatService,
		hub:      hub,
		registry: registry,
	}
}

// registerUser creates an account through the REST API and returns the user
// id and a valid token.
func registerUser(t *testing.T, env *testEnv, username, email string) (int64, string) {
	t.Helper()

	status, body := doJSON(t, env, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"email":    email,
		"password": "secret123",
	})
	if status != http.StatusCreated {
		t.Fatalf("register %s: unexpected status %d: %s", username, status, body)
	}

	var resp AuthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("register %s: bad response: %v", username, err)
	}
	return resp.User.ID, resp.Token
}

// doJSON issues a JSON request against the test server.
func doJSON(t *testing.T, env *testEnv, method, path, token string, payload any) (int, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, env.ts.URL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp.StatusCode, data
}
