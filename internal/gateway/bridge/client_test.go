package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakeBridge records session traffic for client tests.
type fakeBridge struct {
	mu         sync.Mutex
	token      string
	logins     int
	logouts    int
	logoutAuth string
	failLogin  bool
	emptyToken bool
}

func (b *fakeBridge) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/session/login", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.logins++
		if b.failLogin {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		token := b.token
		if b.emptyToken {
			token = ""
		}
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	})
	mux.HandleFunc("/api/v1/session/logout", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.logouts++
		b.logoutAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func newTestClient(t *testing.T, bridge *fakeBridge) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(bridge.handler())
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, Account: "acct-1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

func TestDisconnect_LogoutCarriesSessionToken(t *testing.T) {
	bridge := &fakeBridge{token: "tok-123"}
	c, _ := newTestClient(t, bridge)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.Disconnect()

	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	if bridge.logouts != 1 {
		t.Fatalf("expected 1 logout, got %d", bridge.logouts)
	}
	if bridge.logoutAuth != "Bearer tok-123" {
		t.Errorf("logout Authorization = %q, want %q", bridge.logoutAuth, "Bearer tok-123")
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	bridge := &fakeBridge{token: "tok-123"}
	c, _ := newTestClient(t, bridge)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.Disconnect()
	c.Disconnect()

	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	if bridge.logouts != 1 {
		t.Errorf("second Disconnect must not log out again, got %d logouts", bridge.logouts)
	}
}

func TestConnect_RejectsEmptyToken(t *testing.T) {
	bridge := &fakeBridge{emptyToken: true}
	c, _ := newTestClient(t, bridge)

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected error for empty session token")
	}
}

func TestConnect_LoginFailure(t *testing.T) {
	bridge := &fakeBridge{failLogin: true}
	c, _ := newTestClient(t, bridge)

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected error when login is refused")
	}

	// Failed login leaves no session to release.
	c.Disconnect()
	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	if bridge.logouts != 0 {
		t.Errorf("no logout expected after failed login, got %d", bridge.logouts)
	}
}
