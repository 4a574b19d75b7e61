package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestClientInjectsBearerAndCorrelationID(t *testing.T) {
	var gotAuth, gotCorrelation string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCorrelation = r.Header.Get("X-Correlation-ID")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret-token")
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/clients", nil)

	resp, err := c.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q, want Bearer secret-token", gotAuth)
	}
	if gotCorrelation == "" {
		t.Error("expected a non-empty X-Correlation-ID header")
	}
}

func TestClientRetriesOn429ThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/clients", nil)

	resp, err := c.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if attempts != 2 {
		t.Errorf("expected 2 attempts (1 retry), got %d", attempts)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("final status = %d, want 200", resp.StatusCode)
	}
}

func TestClientRateLimitedExhaustsRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/clients", nil)

	_, err := c.Do(context.Background(), req)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if _, ok := err.(ErrRateLimited); !ok {
		t.Errorf("expected ErrRateLimited, got %T: %v", err, err)
	}
	if attempts != MaxRetries+1 {
		t.Errorf("expected %d attempts, got %d", MaxRetries+1, attempts)
	}
}

func TestPeekTokenExpiry(t *testing.T) {
	claims := jwt.MapClaims{
		"exp": time.Now().Add(2 * time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("does-not-matter-unverified"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	exp, ok := PeekTokenExpiry(signed)
	if !ok {
		t.Fatal("expected exp claim to be readable without verifying signature")
	}
	if time.Until(exp) < time.Hour {
		t.Errorf("expiry too soon: %v", exp)
	}

	if NearExpiry(signed, time.Minute) {
		t.Error("token expiring in 2h should not be near-expiry for a 1m window")
	}
}

func TestPeekTokenExpiryMalformedToken(t *testing.T) {
	if _, ok := PeekTokenExpiry("not-a-jwt"); ok {
		t.Error("expected ok=false for a malformed token")
	}
}
