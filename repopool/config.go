package repopool

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/utilitywarehouse/repo-sync/repository"
)

// Config is the configuration to create repoPool
type Config struct {
	// Root is the absolute path to the dir where mirror of each registered
	// repository is created as '<root>/<repo_id>'
	Root string `yaml:"root"`

	// CommandTimeout is the time allowed for a single git invocation
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// DefaultAccessToken is used for repositories registered without a token
	DefaultAccessToken string `yaml:"access_token"`

	// Auth config to request GitHub App installation tokens
	Auth Auth `yaml:"auth"`
}

// Auth represents GitHub App used to get tokens for github.com repositories
// which are registered without any token
type Auth struct {
	GithubAppID             string `yaml:"github_app_id"`
	GithubAppInstallationID string `yaml:"github_app_installation_id"`
	GithubAppPrivateKeyPath string `yaml:"github_app_private_key_path"`
}

// RegisterRequest represents the repository to track
type RegisterRequest struct {
	// git URL of the remote repo to mirror
	Remote string `yaml:"remote"`
	// Branch is the tracked branch or tag, defaults to 'main'
	Branch string `yaml:"branch"`
	// AccessToken overrides the pool's default token
	AccessToken string `yaml:"access_token"`
}

func (a Auth) enabled() bool {
	return a.GithubAppID != "" || a.GithubAppInstallationID != "" || a.GithubAppPrivateKeyPath != ""
}

// validate will verify the config
func (c *Config) validate() error {
	var errs []error

	if c.Root == "" {
		errs = append(errs, fmt.Errorf("repository root is required"))
	} else if !filepath.IsAbs(c.Root) {
		errs = append(errs, fmt.Errorf("repository root '%s' must be absolute", c.Root))
	}

	if c.CommandTimeout != 0 {
		if c.CommandTimeout < repository.MinCommandTimeout {
			errs = append(errs, fmt.Errorf("provided command timeout is too short (%s), must be >= %s", c.CommandTimeout, repository.MinCommandTimeout))
		}
	}

	// if any of the github app config is set all should be set
	if c.Auth.enabled() {
		if c.Auth.GithubAppID == "" ||
			c.Auth.GithubAppInstallationID == "" ||
			c.Auth.GithubAppPrivateKeyPath == "" {
			errs = append(errs, fmt.Errorf("all of the Github app attribute is required"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", errs)
	}

	return nil
}

// applyDefaults will set default values where needed
func (c *Config) applyDefaults() {
	c.Root = filepath.Clean(c.Root)

	if c.CommandTimeout == 0 {
		c.CommandTimeout = repository.DefaultCommandTimeout
	}
}

// ValidateAndApplyDefaults will validate config and apply defaults
func (c *Config) ValidateAndApplyDefaults() error {
	if err := c.validate(); err != nil {
		return err
	}

	c.applyDefaults()

	return nil
}
