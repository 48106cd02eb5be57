package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   map[string]string
}

func newStubServer(t *testing.T, status int, reply string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()

	var requests []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.EscapedPath()}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			if err := json.Unmarshal(data, &rec.Body); err != nil {
				t.Errorf("invalid request body err:%v", err)
			}
		}
		requests = append(requests, rec)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestCommands(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want recordedRequest
	}{
		{
			"register",
			[]string{"register", "--branch", "dev", "--access-token", "token", "https://github.com/org/repo.git"},
			recordedRequest{Method: "POST", Path: "/sync-repo/", Body: map[string]string{
				"repo_url": "https://github.com/org/repo.git", "branch": "dev", "access_token": "token",
			}},
		},
		{
			"register-defaults",
			[]string{"register", "https://github.com/org/repo.git"},
			recordedRequest{Method: "POST", Path: "/sync-repo/", Body: map[string]string{
				"repo_url": "https://github.com/org/repo.git",
			}},
		},
		{"update", []string{"update", "abc123"}, recordedRequest{Method: "POST", Path: "/update-repo/abc123"}},
		{"ref", []string{"ref", "abc123"}, recordedRequest{Method: "GET", Path: "/repo-ref/abc123"}},
		{"list", []string{"list"}, recordedRequest{Method: "GET", Path: "/repos"}},
		{"remove", []string{"remove", "abc123"}, recordedRequest{Method: "DELETE", Path: "/repos/abc123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, requests := newStubServer(t, http.StatusOK, `{"message":"ok"}`)

			out := &bytes.Buffer{}
			args := append([]string{"repo-sync-ctl", "--server", srv.URL}, tt.args...)
			if err := newApp(out).Run(t.Context(), args); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if diff := cmp.Diff([]recordedRequest{tt.want}, *requests); diff != "" {
				t.Errorf("request mismatch (-want +got):\n%s", diff)
			}
			if got := out.String(); got != "{\n  \"message\": \"ok\"\n}\n" {
				t.Errorf("unexpected output %q", got)
			}
		})
	}
}

func TestCommands_errors(t *testing.T) {
	srv, requests := newStubServer(t, http.StatusNotFound, `{"detail":"repository not found"}`)

	err := newApp(io.Discard).Run(t.Context(), []string{"repo-sync-ctl", "--server", srv.URL, "ref", "missing"})
	if err == nil || !strings.Contains(err.Error(), "repository not found") {
		t.Errorf("expected not found error got: %v", err)
	}

	// missing args are rejected without calling server
	for _, cmd := range []string{"register", "update", "ref", "remove"} {
		if err := newApp(io.Discard).Run(t.Context(), []string{"repo-sync-ctl", "--server", srv.URL, cmd}); err == nil {
			t.Errorf("%s: expected error for missing argument", cmd)
		}
	}
	if len(*requests) != 1 {
		t.Errorf("unexpected number of requests %d", len(*requests))
	}
}
