package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/utilitywarehouse/repo-sync/repopool"
	"github.com/utilitywarehouse/repo-sync/scheduler"
	"gopkg.in/yaml.v3"
)

const (
	defaultSyncIntervalHours = 1
	defaultTickTimeout       = scheduler.DefaultTimeout
)

var (
	configSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "repo_sync_config_last_reload_successful",
		Help: "Whether the last configuration reload attempt was successful.",
	})
	configSuccessTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "repo_sync_config_last_reload_success_timestamp_seconds",
		Help: "Timestamp of the last successful configuration reload.",
	})
)

// Config is the format of the config file
type Config struct {
	Defaults     DefaultConfig              `yaml:"defaults"`
	Repositories []repopool.RegisterRequest `yaml:"repositories"`
}

// DefaultConfig holds process wide settings
type DefaultConfig struct {
	// Root is the absolute path of the dir where mirrors are created
	Root string `yaml:"root"`
	// SyncIntervalHours is the time between sync ticks in hours
	SyncIntervalHours int `yaml:"sync_interval_hours"`
	// AutoUpdate enables updating mirrors which are behind the remote
	AutoUpdate bool `yaml:"auto_update"`
	// CommandTimeout is the time allowed for a single git invocation
	CommandTimeout time.Duration `yaml:"command_timeout"`
	// TickTimeout is the time allowed to check and update a single repository
	TickTimeout time.Duration `yaml:"tick_timeout"`
	// AccessToken is used for repositories registered without a token
	AccessToken string `yaml:"access_token"`
	// Auth config to request GitHub App installation tokens
	Auth repopool.Auth `yaml:"auth"`
}

func (dc DefaultConfig) poolConfig() repopool.Config {
	return repopool.Config{
		Root:               dc.Root,
		CommandTimeout:     dc.CommandTimeout,
		DefaultAccessToken: dc.AccessToken,
		Auth:               dc.Auth,
	}
}

func (dc DefaultConfig) schedulerConfig() scheduler.Config {
	return scheduler.Config{
		Interval:   time.Duration(dc.SyncIntervalHours) * time.Hour,
		AutoUpdate: dc.AutoUpdate,
		Timeout:    dc.TickTimeout,
	}
}

func (dc *DefaultConfig) validate() error {
	var errs []error
	if dc.SyncIntervalHours < 1 {
		errs = append(errs, fmt.Errorf("sync interval must be at least 1 hour got %d", dc.SyncIntervalHours))
	}
	if dc.TickTimeout < 0 {
		errs = append(errs, fmt.Errorf("tick timeout cannot be negative"))
	}
	return errors.Join(errs...)
}

// WatchConfig polls the config file every interval and reloads if modified
func WatchConfig(ctx context.Context, path string, lastModTime time.Time, interval time.Duration, onChange func(*Config) bool) {
	var success bool

	for {
		t := time.NewTimer(interval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}

		lastModTime, success = loadConfig(path, lastModTime, onChange)
		if success {
			configSuccess.Set(1)
			configSuccessTime.SetToCurrentTime()
		} else {
			configSuccess.Set(0)
		}
	}
}

func loadConfig(path string, lastModTime time.Time, onChange func(*Config) bool) (time.Time, bool) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		logger.Error("Error checking config file", "err", err)
		return lastModTime, false
	}

	modTime := fileInfo.ModTime()
	if modTime.Equal(lastModTime) {
		return lastModTime, true
	}

	logger.Info("reloading config file...")

	newConfig, err := parseConfigFile(path)
	if err != nil {
		logger.Error("failed to reload config", "err", err)
		return lastModTime, false
	}
	return modTime, onChange(newConfig)
}

// ensureConfig registers repositories of the config which are not yet tracked.
// Repositories are never removed on reload as they might have been registered
// via API.
func ensureConfig(ctx context.Context, repoPool *repopool.RepoPool, newConfig *Config) bool {
	success := true

	for _, repo := range diffRepositories(repoPool, newConfig) {
		if _, err := repoPool.Register(ctx, repo); err != nil {
			logger.Error("failed to add new repository", "remote", repo.Remote, "branch", repo.Branch, "err", err)
			success = false
		}
	}

	return success
}

// diffRepositories returns repositories of the config which are not registered
func diffRepositories(repoPool *repopool.RepoPool, newConfig *Config) []repopool.RegisterRequest {
	var newRepos []repopool.RegisterRequest
	for _, repo := range newConfig.Repositories {
		if _, err := repoPool.Lookup(repo.Remote, repo.Branch); errors.Is(err, repopool.ErrNotExist) {
			newRepos = append(newRepos, repo)
		}
	}
	return newRepos
}

func parseConfigFile(path string) (*Config, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = validateConfig(yamlFile)
	if err != nil {
		return nil, err
	}

	conf := &Config{}
	err = yaml.Unmarshal(yamlFile, conf)
	if err != nil {
		return nil, err
	}

	return conf, nil
}

func validateConfig(yamlData []byte) error {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(yamlData, &raw); err != nil {
		return err
	}

	// check config sections for unexpected keys
	allowedConfig := getAllowedKeys(Config{})
	if key := findUnexpectedKey(raw, allowedConfig); key != "" {
		return fmt.Errorf("unexpected key: .%v", key)
	}

	// check "defaults" section
	if defaults, ok := raw["defaults"]; ok && defaults != nil {
		defaultsMap, ok := defaults.(map[string]interface{})
		if !ok {
			return fmt.Errorf("defaults section is not valid")
		}
		if key := findUnexpectedKey(defaultsMap, getAllowedKeys(DefaultConfig{})); key != "" {
			return fmt.Errorf("unexpected key: .defaults.%v", key)
		}

		// check "auth" section in "defaults"
		if authMap, ok := defaultsMap["auth"].(map[string]interface{}); ok {
			if key := findUnexpectedKey(authMap, getAllowedKeys(repopool.Auth{})); key != "" {
				return fmt.Errorf("unexpected key: .defaults.auth.%v", key)
			}
		}
	}

	// check each repository in "repositories" section
	if repos, ok := raw["repositories"]; ok && repos != nil {
		reposList, ok := repos.([]interface{})
		if !ok {
			return fmt.Errorf("repositories config section is not valid")
		}

		allowedRepoKeys := getAllowedKeys(repopool.RegisterRequest{})
		for _, repoInterface := range reposList {
			repoMap, ok := repoInterface.(map[string]interface{})
			if !ok {
				return fmt.Errorf("repositories config section is not valid")
			}

			if key := findUnexpectedKey(repoMap, allowedRepoKeys); key != "" {
				return fmt.Errorf("unexpected key: .repositories[%v].%v", repoMap["remote"], key)
			}
			if remote, _ := repoMap["remote"].(string); remote == "" {
				return fmt.Errorf("repositories config section has repository without remote")
			}
		}
	}

	return nil
}

// getAllowedKeys retrieves a list of allowed keys from the specified struct
func getAllowedKeys(config interface{}) []string {
	var allowedKeys []string
	val := reflect.ValueOf(config)
	typ := reflect.TypeOf(config)

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		yamlTag := field.Tag.Get("yaml")
		if yamlTag != "" && yamlTag != "-" {
			allowedKeys = append(allowedKeys, yamlTag)
		}
	}
	return allowedKeys
}

func findUnexpectedKey(raw interface{}, allowedKeys []string) string {
	for key := range raw.(map[string]interface{}) {
		if !slices.Contains(allowedKeys, key) {
			return key
		}
	}

	return ""
}
