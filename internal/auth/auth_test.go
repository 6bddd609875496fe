package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStaticAuthenticator(t *testing.T) {
	a, err := NewStaticAuthenticator([]string{"sekrit-1:acme", "sekrit-2:globex"})
	if err != nil {
		t.Fatalf("NewStaticAuthenticator: %v", err)
	}

	t.Run("valid token", func(t *testing.T) {
		id, err := a.Authenticate(context.Background(), "sekrit-2")
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if id.TenantSlug != "globex" {
			t.Errorf("TenantSlug = %q, want globex", id.TenantSlug)
		}
		if id.Method != MethodStatic {
			t.Errorf("Method = %q, want %q", id.Method, MethodStatic)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		if _, err := a.Authenticate(context.Background(), "nope"); err == nil {
			t.Error("expected error for unknown token")
		}
	})

	t.Run("empty token", func(t *testing.T) {
		if _, err := a.Authenticate(context.Background(), ""); err == nil {
			t.Error("expected error for empty token")
		}
	})
}

func TestNewStaticAuthenticator_Malformed(t *testing.T) {
	for _, entry := range []string{"no-colon", ":slug-only", "token-only:"} {
		if _, err := NewStaticAuthenticator([]string{entry}); err == nil {
			t.Errorf("expected error for entry %q", entry)
		}
	}
}

func TestMiddleware(t *testing.T) {
	a, _ := NewStaticAuthenticator([]string{"tok:acme"})
	logger := discardLogger()

	var seen *Identity
	handler := Middleware(a, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid bearer", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer tok")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if seen == nil || seen.TenantSlug != "acme" {
			t.Errorf("identity not stored in context: %+v", seen)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}

func TestChain(t *testing.T) {
	failing, _ := NewStaticAuthenticator([]string{"other:globex"})
	matching, _ := NewStaticAuthenticator([]string{"tok:acme"})

	t.Run("first success wins", func(t *testing.T) {
		chain := Chain{failing, matching}
		id, err := chain.Authenticate(context.Background(), "tok")
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if id.TenantSlug != "acme" {
			t.Errorf("TenantSlug = %q, want acme", id.TenantSlug)
		}
	})

	t.Run("nil entries skipped", func(t *testing.T) {
		chain := Chain{nil, matching}
		if _, err := chain.Authenticate(context.Background(), "tok"); err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
	})

	t.Run("all fail", func(t *testing.T) {
		chain := Chain{failing}
		if _, err := chain.Authenticate(context.Background(), "tok"); err == nil {
			t.Error("expected error when every authenticator rejects")
		}
	})

	t.Run("empty chain", func(t *testing.T) {
		if _, err := (Chain{}).Authenticate(context.Background(), "tok"); err == nil {
			t.Error("expected error for empty chain")
		}
	})
}
