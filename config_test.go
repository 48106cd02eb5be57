package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/urfave/cli/v3"
	"github.com/utilitywarehouse/repo-sync/repopool"
)

func Test_validateConfig(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{"empty", ``, false},
		{"valid", `
defaults:
  root: /tmp/root
  sync_interval_hours: 2
  auto_update: true
  command_timeout: 1m
  tick_timeout: 5m
  access_token: token
  auth:
    github_app_id: "1"
    github_app_installation_id: "2"
    github_app_private_key_path: /key
repositories:
  - remote: https://github.com/org/repo1.git
  - remote: https://github.com/org/repo2.git
    branch: dev
    access_token: token2
`, false},
		{"only-repositories", `
repositories:
  - remote: https://github.com/org/repo1.git
`, false},
		{"unknown-root-key", `
defaults:
  root: /tmp/root
foo: bar
`, true},
		{"unknown-defaults-key", `
defaults:
  interval: 30s
`, true},
		{"unknown-auth-key", `
defaults:
  auth:
    ssh_key_path: /key
`, true},
		{"unknown-repo-key", `
repositories:
  - remote: https://github.com/org/repo1.git
    worktrees: []
`, true},
		{"repo-without-remote", `
repositories:
  - branch: main
`, true},
		{"invalid-repositories", `
repositories:
  remote: https://github.com/org/repo1.git
`, true},
		{"invalid-yaml", `defaults: [`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateConfig([]byte(tt.yaml)); (err != nil) != tt.wantErr {
				t.Errorf("validateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func Test_parseConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
defaults:
  root: /tmp/root
  sync_interval_hours: 2
  auto_update: true
  command_timeout: 1m
repositories:
  - remote: https://github.com/org/repo1.git
  - remote: https://github.com/org/repo2.git
    branch: dev
    access_token: token2
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("unable to write config: %v", err)
	}

	got, err := parseConfigFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := &Config{
		Defaults: DefaultConfig{
			Root:              "/tmp/root",
			SyncIntervalHours: 2,
			AutoUpdate:        true,
			CommandTimeout:    time.Minute,
		},
		Repositories: []repopool.RegisterRequest{
			{Remote: "https://github.com/org/repo1.git"},
			{Remote: "https://github.com/org/repo2.git", Branch: "dev", AccessToken: "token2"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseConfigFile() mismatch (-want +got):\n%s", diff)
	}

	if _, err := parseConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("expected error for missing file")
	}
}

func Test_DefaultConfig_validate(t *testing.T) {
	tests := []struct {
		name    string
		dc      DefaultConfig
		wantErr bool
	}{
		{"valid", DefaultConfig{SyncIntervalHours: 1}, false},
		{"zero-interval", DefaultConfig{}, true},
		{"negative-interval", DefaultConfig{SyncIntervalHours: -1}, true},
		{"negative-timeout", DefaultConfig{SyncIntervalHours: 1, TickTimeout: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.dc.validate(); (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	dc := DefaultConfig{SyncIntervalHours: 3, AutoUpdate: true, TickTimeout: time.Minute}
	if got := dc.schedulerConfig(); got.Interval != 3*time.Hour || !got.AutoUpdate || got.Timeout != time.Minute {
		t.Errorf("unexpected scheduler config %+v", got)
	}
}

func Test_diffRepositories(t *testing.T) {
	repoPool := mustNewPool(t, t.TempDir())

	// clone of non-existent upstream fails but repository stays registered
	for _, remote := range []string{"file:///non-existent/repo1", "file:///non-existent/repo2"} {
		if _, err := repoPool.Register(t.Context(), repopool.RegisterRequest{Remote: remote}); err == nil {
			t.Fatalf("expected clone error for %s", remote)
		}
	}

	newConfig := &Config{
		Repositories: []repopool.RegisterRequest{
			{Remote: "file:///non-existent/repo1"},
			{Remote: "file:///non-existent/repo2", Branch: "main"},
			{Remote: "file:///non-existent/repo2", Branch: "dev"},
			{Remote: "file:///non-existent/repo3"},
		},
	}

	want := []repopool.RegisterRequest{
		{Remote: "file:///non-existent/repo2", Branch: "dev"},
		{Remote: "file:///non-existent/repo3"},
	}
	if diff := cmp.Diff(want, diffRepositories(repoPool, newConfig)); diff != "" {
		t.Errorf("diffRepositories() mismatch (-want +got):\n%s", diff)
	}
}

func Test_loadConfig(t *testing.T) {
	root := t.TempDir()
	upstream := filepath.Join(root, "upstream")
	mustInitRepo(t, upstream, "file", t.Name())

	repoPool := mustNewPool(t, filepath.Join(root, "mirrors"))

	path := filepath.Join(root, "config.yaml")
	data := `
repositories:
  - remote: file://` + upstream + `
    branch: ` + testMainBranch + `
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("unable to write config: %v", err)
	}

	var calls int
	onChange := func(c *Config) bool {
		calls++
		return ensureConfig(t.Context(), repoPool, c)
	}

	modTime, ok := loadConfig(path, time.Time{}, onChange)
	if !ok {
		t.Fatalf("expected successful reload")
	}
	if _, err := repoPool.Lookup("file://"+upstream, testMainBranch); err != nil {
		t.Errorf("repository from config should be registered err:%v", err)
	}

	// unchanged file is not reloaded
	if _, ok := loadConfig(path, modTime, onChange); !ok || calls != 1 {
		t.Errorf("unchanged config should not be reloaded calls:%d", calls)
	}

	// invalid config
	if err := os.WriteFile(path, []byte("foo: bar"), 0644); err != nil {
		t.Fatalf("unable to write config: %v", err)
	}
	if _, ok := loadConfig(path, time.Time{}, onChange); ok {
		t.Errorf("expected failure for invalid config")
	}
}

func Test_applyFlags(t *testing.T) {
	conf := &Config{
		Defaults: DefaultConfig{
			Root:              "/from/config",
			SyncIntervalHours: 3,
			AccessToken:       "config-token",
		},
	}

	cmd := &cli.Command{
		Name:  "repo-sync",
		Flags: flags,
		Action: func(_ context.Context, c *cli.Command) error {
			applyFlags(c, conf)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), []string{"repo-sync", "--root", "/from/flag", "--auto-update"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := DefaultConfig{
		Root:              "/from/flag",
		SyncIntervalHours: 3,
		AutoUpdate:        true,
		TickTimeout:       defaultTickTimeout,
		AccessToken:       "config-token",
	}
	if diff := cmp.Diff(want, conf.Defaults); diff != "" {
		t.Errorf("applyFlags() mismatch (-want +got):\n%s", diff)
	}
}
