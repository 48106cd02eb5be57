package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/go-cmp/cmp"
)

func mustWriteKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("unable to generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "app.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("unable to write key: %v", err)
	}
	return key, path
}

func Test_signAppJWT(t *testing.T) {
	key, _ := mustWriteKey(t)
	now := time.Now()

	raw, err := signAppJWT("1234", key, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		t.Fatalf("unable to parse jwt: %v", err)
	}
	var claims jwt.Claims
	if err := tok.Claims(&key.PublicKey, &claims); err != nil {
		t.Fatalf("unable to verify jwt: %v", err)
	}
	if claims.Issuer != "1234" {
		t.Errorf("Issuer = %v, want %v", claims.Issuer, "1234")
	}
	if err := claims.Validate(jwt.Expected{Issuer: "1234", Time: now}); err != nil {
		t.Errorf("claims not valid: %v", err)
	}
}

func TestGithubApp_Token(t *testing.T) {
	key, keyPath := mustWriteKey(t)

	var calls atomic.Int32
	expiresAt := time.Now().UTC().Add(time.Hour)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/app/installations/42/access_tokens" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var claims jwt.Claims
		if err := tok.Claims(&key.PublicKey, &claims); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var perms GithubAppTokenReqPermissions
		if err := json.NewDecoder(r.Body).Decode(&perms); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if diff := cmp.Diff(GithubAppTokenReqPermissions{
			Repositories: []string{"repo"},
			Permissions:  map[string]string{"contents": "read"},
		}, perms); diff != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"token":"ghs_test","expires_at":%q}`, expiresAt.Format(time.RFC3339))
	}))
	defer server.Close()

	app := &GithubApp{AppID: "1", InstallationID: "42", PrivateKeyPath: keyPath, APIURL: server.URL}

	for i := 0; i < 3; i++ {
		got, err := app.Token(t.Context(), "repo")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "ghs_test" {
			t.Errorf("Token() = %v, want %v", got, "ghs_test")
		}
	}
	// token is cached
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 token request got %d", got)
	}

	t.Run("api-error", func(t *testing.T) {
		app := &GithubApp{AppID: "1", InstallationID: "404", PrivateKeyPath: keyPath, APIURL: server.URL}
		if _, err := app.Token(t.Context(), "repo"); err == nil {
			t.Errorf("expected error for unknown installation")
		}
	})

	t.Run("missing-key", func(t *testing.T) {
		app := &GithubApp{AppID: "1", InstallationID: "42", PrivateKeyPath: filepath.Join(t.TempDir(), "nope"), APIURL: server.URL}
		if _, err := app.Token(t.Context(), "repo"); err == nil {
			t.Errorf("expected error for missing key")
		}
	})
}

func TestGithubApp_Token_hung_request(t *testing.T) {
	_, keyPath := mustWriteKey(t)

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var perms GithubAppTokenReqPermissions
		if err := json.NewDecoder(r.Body).Decode(&perms); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if len(perms.Repositories) == 1 && perms.Repositories[0] == "slow" {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"token":"ghs_%s","expires_at":%q}`, perms.Repositories[0], time.Now().UTC().Add(time.Hour).Format(time.RFC3339))
	}))
	defer server.Close()
	defer close(release)

	app := &GithubApp{AppID: "1", InstallationID: "42", PrivateKeyPath: keyPath, APIURL: server.URL}

	slowDone := make(chan error)
	go func() {
		ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
		defer cancel()
		_, err := app.Token(ctx, "slow")
		slowDone <- err
	}()

	// give slow request time to reach the server
	time.Sleep(200 * time.Millisecond)

	// hung request of one repository must not block others
	fastCtx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	got, err := app.Token(fastCtx, "fast")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ghs_fast" {
		t.Errorf("Token() = %v, want %v", got, "ghs_fast")
	}

	select {
	case err := <-slowDone:
		if err == nil {
			t.Errorf("expected error for hung token request")
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("hung token request was not bounded by context deadline")
	}
}
