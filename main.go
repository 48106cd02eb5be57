package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
	"github.com/utilitywarehouse/repo-sync/repopool"
	"github.com/utilitywarehouse/repo-sync/repository"
	"github.com/utilitywarehouse/repo-sync/scheduler"
)

const configPollInterval = time.Minute

var (
	loggerLevel = new(slog.LevelVar)
	logger      *slog.Logger

	levelStrings = map[string]slog.Level{
		"trace": slog.Level(-8),
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}

	reposRootPath = path.Join(os.TempDir(), "repo-sync", "src")

	flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Sources: cli.EnvVars("REPO_SYNC_CONFIG"),
			Usage:   "Absolute path to the optional config file.",
		},
		&cli.BoolFlag{
			Name:    "watch-config",
			Sources: cli.EnvVars("REPO_SYNC_WATCH_CONFIG"),
			Value:   true,
			Usage:   "watch config file for new repositories",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Sources: cli.EnvVars("LOG_LEVEL"),
			Value:   "info",
			Usage:   "Log level",
		},
		&cli.StringFlag{
			Name:    "http-bind",
			Sources: cli.EnvVars("REPO_SYNC_HTTP_BIND"),
			Value:   ":8080",
			Usage:   "address the http server listens on",
		},
		&cli.StringFlag{
			Name:    "root",
			Sources: cli.EnvVars("REPO_SYNC_ROOT"),
			Value:   reposRootPath,
			Usage:   "Absolute path to the dir where mirrors are created",
		},
		&cli.IntFlag{
			Name:    "sync-interval-hours",
			Sources: cli.EnvVars("GITHUB_SYNC_INTERVAL"),
			Value:   defaultSyncIntervalHours,
			Usage:   "time in hours between drift checks",
		},
		&cli.BoolFlag{
			Name:    "auto-update",
			Sources: cli.EnvVars("GITHUB_SYNC_AUTO_UPDATE"),
			Usage:   "update mirrors which are behind the remote",
		},
		&cli.StringFlag{
			Name:    "default-access-token",
			Sources: cli.EnvVars("GITHUB_PAT_TOKEN"),
			Usage:   "access token used for repositories registered without a token",
		},
		&cli.StringFlag{
			Name:    "github-webhook-secret",
			Sources: cli.EnvVars("GITHUB_WEBHOOK_SECRET"),
			Usage:   "secret of the github webhook, webhook endpoint is disabled if not set",
		},
	}
)

func init() {
	loggerLevel.Set(slog.LevelInfo)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: loggerLevel,
	}))
}

// applyFlags sets flag values on the config. flag value is used
// if its explicitly set or if config doesn't have the value.
func applyFlags(c *cli.Command, conf *Config) {
	if c.IsSet("root") || conf.Defaults.Root == "" {
		conf.Defaults.Root = c.String("root")
	}

	if c.IsSet("sync-interval-hours") || conf.Defaults.SyncIntervalHours == 0 {
		conf.Defaults.SyncIntervalHours = int(c.Int("sync-interval-hours"))
	}

	if c.IsSet("auto-update") {
		conf.Defaults.AutoUpdate = c.Bool("auto-update")
	}

	if c.IsSet("default-access-token") || conf.Defaults.AccessToken == "" {
		conf.Defaults.AccessToken = c.String("default-access-token")
	}

	if conf.Defaults.TickTimeout == 0 {
		conf.Defaults.TickTimeout = defaultTickTimeout
	}
}

func main() {
	cmd := &cli.Command{
		Name:  "repo-sync",
		Usage: "repo-sync keeps shallow mirrors of remote repositories and detects when they fall behind.",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {

			// set log level according to argument
			if v, ok := levelStrings[strings.ToLower(c.String("log-level"))]; ok {
				loggerLevel.Set(v)
			}

			conf := &Config{}
			var confModTime time.Time
			if path := c.String("config"); path != "" {
				fileInfo, err := os.Stat(path)
				if err != nil {
					return fmt.Errorf("unable to read config file err:%w", err)
				}
				confModTime = fileInfo.ModTime()

				if conf, err = parseConfigFile(path); err != nil {
					return fmt.Errorf("unable to parse config file err:%w", err)
				}
			}

			applyFlags(c, conf)

			if err := conf.Defaults.validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			prometheus.MustRegister(configSuccess, configSuccessTime)
			repository.EnableMetrics("", prometheus.DefaultRegisterer)
			scheduler.EnableMetrics("", prometheus.DefaultRegisterer)

			// git needs PATH to find askpass and its helpers
			gitENV := []string{fmt.Sprintf("PATH=%s", os.Getenv("PATH"))}

			repoPool, err := repopool.New(conf.Defaults.poolConfig(), logger.With("logger", "repo-sync"), "", gitENV)
			if err != nil {
				return fmt.Errorf("could not create repository pool err:%w", err)
			}

			// register repositories from config
			if !ensureConfig(ctx, repoPool, conf) {
				logger.Error("unable to register all repositories from config, next sync will retry")
			}

			sched, err := scheduler.New(repoPool, conf.Defaults.schedulerConfig(), logger.With("logger", "scheduler"))
			if err != nil {
				return fmt.Errorf("could not create scheduler err:%w", err)
			}
			sched.Start(ctx)
			defer sched.Stop()

			if path := c.String("config"); path != "" && c.Bool("watch-config") {
				go WatchConfig(ctx, path, confModTime, configPollInterval, func(newConfig *Config) bool {
					return ensureConfig(ctx, repoPool, newConfig)
				})
			}

			var webhook http.Handler
			if secret := c.String("github-webhook-secret"); secret != "" {
				webhook = &GithubWebhookHandler{
					repoPool:      repoPool,
					secret:        secret,
					updateTimeout: conf.Defaults.TickTimeout,
					log:           logger.With("logger", "github-webhook"),
				}
			}

			srv := &server{
				repoPool:  repoPool,
				scheduler: sched,
				log:       logger.With("logger", "http"),
			}

			err = listenAndServe(ctx, c.String("http-bind"), srv.handler(webhook, prometheus.DefaultGatherer))
			logger.Info("Shutting down")
			return err
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("failed to run app", "err", err)
		os.Exit(1)
	}
}
