// Package auth creates short lived GitHub App installation tokens which can be
// used as repository access tokens.
package auth

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const (
	defaultGithubAPI = "https://api.github.com"
	// tokens are renewed if they expire within this window
	minTokenValidity = 10 * time.Minute
)

var defaultClient = &http.Client{Timeout: 30 * time.Second}

type GithubAppTokenReqPermissions struct {
	Repositories []string          `json:"repositories,omitempty"`
	Permissions  map[string]string `json:"permissions"`
}

type GithubAppToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GithubApp requests and caches installation tokens of a GitHub App.
// A GithubApp is safe for concurrent use by multiple goroutines.
type GithubApp struct {
	AppID          string
	InstallationID string
	PrivateKeyPath string
	// APIURL defaults to https://api.github.com
	APIURL string
	// Client defaults to a client with 30s timeout
	Client *http.Client

	mu     sync.Mutex             // guards tokens map only
	tokens map[string]*tokenEntry // keyed by repository name
}

// tokenEntry serialises token requests of a single repository
type tokenEntry struct {
	mu    sync.Mutex
	token *GithubAppToken
}

// Token returns a valid installation token with read access to contents of
// the given repository. repo must be the name without owner and `.git` suffix.
// Tokens are cached until they are about to expire.
func (g *GithubApp) Token(ctx context.Context, repo string) (string, error) {
	g.mu.Lock()
	if g.tokens == nil {
		g.tokens = make(map[string]*tokenEntry)
	}
	entry, ok := g.tokens[repo]
	if !ok {
		entry = &tokenEntry{}
		g.tokens[repo] = entry
	}
	g.mu.Unlock()

	// concurrent callers for the same repo wait for the first request
	// instead of requesting their own token
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if t := entry.token; t != nil && t.ExpiresAt.After(time.Now().UTC().Add(minTokenValidity)) {
		return t.Token, nil
	}

	permissions := GithubAppTokenReqPermissions{
		Repositories: []string{repo},
		Permissions:  map[string]string{"contents": "read"},
	}

	token, err := g.installationToken(ctx, permissions)
	if err != nil {
		return "", err
	}

	entry.token = token

	return token.Token, nil
}

func (g *GithubApp) installationToken(ctx context.Context, reqPerms GithubAppTokenReqPermissions) (*GithubAppToken, error) {
	privateKey, err := readPrivateKey(g.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	jwtToken, err := signAppJWT(g.AppID, privateKey, time.Now())
	if err != nil {
		return nil, err
	}

	reqBody, err := json.Marshal(reqPerms)
	if err != nil {
		return nil, err
	}

	api := g.APIURL
	if api == "" {
		api = defaultGithubAPI
	}
	url := fmt.Sprintf("%s/app/installations/%s/access_tokens", strings.TrimRight(api, "/"), g.InstallationID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	client := g.Client
	if client == nil {
		client = defaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		errMessage, err := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("GitHub app token response status %d, body:%q  err:%w", resp.StatusCode, errMessage, err)
	}

	var tokenResponse GithubAppToken
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return nil, err
	}

	return &tokenResponse, nil
}

func readPrivateKey(path string) (*rsa.PrivateKey, error) {
	privatePEMData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(privatePEMData)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return nil, fmt.Errorf("failed to decode PEM block containing private key")
	}

	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// signAppJWT creates the JWT GitHub expects when authenticating as an App
func signAppJWT(appID string, key *rsa.PrivateKey, now time.Time) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, nil)
	if err != nil {
		return "", err
	}

	cl := jwt.Claims{
		// GitHub App's ID or client ID
		Issuer: appID,
		// issued at time, 60 seconds in the past to allow for clock drift
		IssuedAt: jwt.NewNumericDate(now.Add(-60 * time.Second)),
		// JWT expiration time (10 minute maximum)
		Expiry: jwt.NewNumericDate(now.Add(10 * time.Minute)),
	}

	return jwt.Signed(signer).Claims(cl).Serialize()
}
