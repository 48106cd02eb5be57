// Package repository keeps a local shallow clone (mirror) of a single branch or
// tag of a remote repository and reports whether it has drifted from the remote.
//
// All repository operations are delegated to the git executable. Every git
// invocation runs with a timeout and a failed invocation is reported as
// *ExternalToolError. Operations touching the mirror directory are serialised
// per repository.
//
// Credentials are never written to the mirror's git config. When an access token
// is available it is injected per invocation through GIT_CONFIG_* environment
// variables as an `url.<remote-with-token>.insteadOf=<remote>` rewrite.
//
// # Logging:
//
// package takes slog reference for logging and prints logs up to 'trace' level
//
// Example:
//
//	loggerLevel  = new(slog.LevelVar)
//	levelStrings = map[string]slog.Level{
//		"trace": slog.Level(-8),
//		"debug": slog.LevelDebug,
//		"info":  slog.LevelInfo,
//		"warn":  slog.LevelWarn,
//		"error": slog.LevelError,
//	}
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//		Level: loggerLevel,
//	}))
//	loggerLevel.Set(levelStrings["trace"])
//
//	repo, err := repository.New(repoConf, "", nil, logger)
//	if err != nil {
//		panic(err)
//	}
//	if err := repo.EnsureSynced(ctx); err != nil {
//		panic(err)
//	}
package repository
