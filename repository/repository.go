package repository

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/utilitywarehouse/repo-sync/giturl"
	"github.com/utilitywarehouse/repo-sync/internal/lock"
	"github.com/utilitywarehouse/repo-sync/internal/utils"
)

type commandRunner func(ctx context.Context, log *slog.Logger, envs []string, cwd string, command string, args ...string) (string, error)

// Repository represents the shallow mirror of a single branch or tag of the remote.
// A Repository is safe for concurrent use by multiple goroutines.
type Repository struct {
	lock        lock.RWMutex  // held for the duration of any git operation on dir
	removed     bool          // set by Destroy, guarded by lock
	credsLock   lock.Mutex    // guards token
	id          string        // stable identifier derived from remote and branch
	name        string        // short repo name used in logs and metrics
	gitURL      *giturl.URL   // parsed remote, nil if remote is not a recognised git url
	remote      string        // remote repo to mirror, never contains credentials
	branch      string        // tracked branch or tag
	dir         string        // absolute path to the mirror's working directory
	token       string        // access token
	tokenSource TokenSource   // used when token is empty
	cmdTimeout  time.Duration // time allowed for a single git command
	cmd         string        // git executable
	askPass     string        // program which prints an empty password
	envs        []string      // envs which will be passed to git commands
	run         commandRunner
	log         *slog.Logger
}

// New creates new repository from the given config.
// Remote repo will not be cloned until either EnsureSynced() or Update() is called.
func New(conf Config, gitExec string, envs []string, log *slog.Logger) (*Repository, error) {
	remote := strings.TrimSpace(conf.Remote)
	if remote == "" {
		return nil, fmt.Errorf("repository remote cannot be empty")
	}

	// credentials must never be part of the stored remote
	if giturl.HasCredentials(remote) {
		return nil, fmt.Errorf("remote url '%s' must not contain credentials, use access token instead", giturl.Redact(remote))
	}

	// fail early if the remote can't carry the token
	if _, err := giturl.WithToken(remote, conf.AccessToken); err != nil {
		return nil, err
	}

	if !filepath.IsAbs(conf.CacheDir) {
		return nil, fmt.Errorf("repository cache dir '%s' must be absolute", conf.CacheDir)
	}

	if conf.Branch == "" {
		conf.Branch = DefaultBranch
	}

	// both are passed to git as arguments
	if strings.HasPrefix(remote, "-") {
		return nil, fmt.Errorf("invalid remote '%s'", remote)
	}
	if strings.HasPrefix(conf.Branch, "-") || strings.ContainsFunc(conf.Branch, unicode.IsSpace) {
		return nil, fmt.Errorf("invalid branch name '%s'", conf.Branch)
	}

	if conf.CommandTimeout == 0 {
		conf.CommandTimeout = DefaultCommandTimeout
	}
	if conf.CommandTimeout < MinCommandTimeout {
		return nil, fmt.Errorf("provided command timeout is too short (%s), must be >= %s", conf.CommandTimeout, MinCommandTimeout)
	}

	if gitExec == "" {
		gitExec = exec.Command("git").String()
	}

	if log == nil {
		log = slog.Default()
	}

	// error can be ignored, without askpass authenticated remotes will fail
	// with 'terminal prompts disabled' error
	askPass, _ := exec.LookPath("true")

	name := strings.TrimSuffix(filepath.Base(strings.TrimRight(remote, "/")), ".git")
	gURL, err := giturl.Parse(remote)
	if err == nil {
		name = strings.TrimSuffix(gURL.Repo, ".git")
	}

	dir := filepath.Clean(conf.CacheDir)

	envs = append(slices.Clone(envs),
		// stop git from discovering a repository above the cache dir
		// (eg. when the cache root itself lives inside a git work tree)
		"GIT_CEILING_DIRECTORIES="+filepath.Dir(dir),
		// git must fail instead of waiting on a terminal for credentials
		"GIT_TERMINAL_PROMPT=0",
	)

	return &Repository{
		id:          RepoID(remote, conf.Branch),
		name:        name,
		gitURL:      gURL,
		remote:      remote,
		branch:      conf.Branch,
		dir:         dir,
		token:       conf.AccessToken,
		tokenSource: conf.TokenSource,
		cmdTimeout:  conf.CommandTimeout,
		cmd:         gitExec,
		askPass:     askPass,
		envs:        envs,
		run:         utils.RunCommand,
		log:         log.With("repo", name, "branch", conf.Branch),
	}, nil
}

// ID returns the identifier of the repository
func (r *Repository) ID() string {
	return r.id
}

// Name returns short name of the repository
func (r *Repository) Name() string {
	return r.name
}

// Remote returns the credential free remote URL
func (r *Repository) Remote() string {
	return r.remote
}

// GitURL returns parsed remote URL. it will be nil if remote
// is not one of the supported git url syntax
func (r *Repository) GitURL() *giturl.URL {
	return r.gitURL
}

// Branch returns tracked branch or tag
func (r *Repository) Branch() string {
	return r.branch
}

// CacheDir returns absolute path of the mirror's working directory
func (r *Repository) CacheDir() string {
	return r.dir
}

// SetAccessToken replaces access token used for remote operations
func (r *Repository) SetAccessToken(token string) error {
	if _, err := giturl.WithToken(r.remote, token); err != nil {
		return err
	}
	r.credsLock.Lock()
	defer r.credsLock.Unlock()
	r.token = token
	return nil
}

// EnsureSynced makes sure mirror exists and its remote tracking data is current.
// If cache dir is empty (or it fails sanity checks) the remote branch is cloned
// with depth 1, otherwise branch is fetched with depth 1 without touching
// the checked out working tree.
func (r *Repository) EnsureSynced(ctx context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.removed {
		return ErrRemoved
	}

	start := time.Now()

	needsClone, err := r.prepareDir(ctx)
	if err != nil {
		recordOp(r.name, "sync", false, start)
		return err
	}

	if needsClone {
		err = r.clone(ctx)
		recordOp(r.name, "clone", err == nil, start)
		return err
	}

	err = r.fetch(ctx)
	recordOp(r.name, "fetch", err == nil, start)
	return err
}

// Update fetches tracked branch with depth 1 and moves the checked out working tree
// to the fetched commit. If mirror doesn't exist yet it will be cloned.
// Update is equivalent to a shallow pull but a remote force-push can't leave
// local and remote refs diverged.
func (r *Repository) Update(ctx context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.removed {
		return ErrRemoved
	}

	start := time.Now()

	needsClone, err := r.prepareDir(ctx)
	if err != nil {
		recordOp(r.name, "update", false, start)
		return err
	}

	if needsClone {
		err = r.clone(ctx)
		recordOp(r.name, "clone", err == nil, start)
		return err
	}

	err = r.pull(ctx)
	recordOp(r.name, "update", err == nil, start)
	return err
}

// prepareDir examines the cache dir and returns true if mirror needs to be cloned.
// a non-empty dir which fails the sanity check is treated as left over from a failed
// clone and its contents are removed.
func (r *Repository) prepareDir(ctx context.Context) (bool, error) {
	_, err := os.Stat(r.dir)
	switch {
	case os.IsNotExist(err):
		r.log.Info("cache directory does not exist, creating it", "path", r.dir)
		if err := utils.EnsureDir(r.dir); err != nil {
			return false, err
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("unable to verify cache dir err:%w", err)
	}

	empty, err := utils.DirIsEmpty(r.dir)
	if err != nil {
		return false, fmt.Errorf("unable to list cache dir err:%w", err)
	}
	if empty {
		return true, nil
	}

	if r.sanityCheckRepo(ctx) {
		r.log.Log(ctx, -8, "existing cache directory is valid", "path", r.dir)
		return false, nil
	}

	// Maybe a previous clone was interrupted? Git won't use this dir.
	// We remove the contents rather than the dir itself, because the
	// cache dir could be a mount point.
	r.log.Error("cache directory failed checks, removing contents", "path", r.dir)
	if err := utils.RemoveDirContents(r.dir, r.log); err != nil {
		return false, fmt.Errorf("unable to wipe cache dir err:%w", err)
	}
	return true, nil
}

// sanityCheckRepo tries to make sure that the cache dir is a valid mirror of the remote.
func (r *Repository) sanityCheckRepo(ctx context.Context) bool {
	// git rev-parse --is-inside-work-tree
	if ok, err := r.git(ctx, nil, r.dir, "rev-parse", "--is-inside-work-tree"); err != nil {
		r.log.Error("unable to verify work tree", "path", r.dir, "err", err)
		return false
	} else if ok != "true" {
		r.log.Error("cache dir is not a work tree", "path", r.dir)
		return false
	}

	// make sure origin exists with correct remote URL
	// git config --get remote.origin.url
	if stdout, err := r.git(ctx, nil, r.dir, "config", "--get", "remote.origin.url"); err != nil {
		r.log.Error("can't get repo config remote.origin.url", "path", r.dir, "err", err)
		return false
	} else if stdout != r.remote {
		r.log.Error("repo configured with diff remote url", "path", r.dir, "remote.origin.url", giturl.Redact(stdout))
		return false
	}

	// an interrupted clone can leave a repository without any commit
	// git rev-parse --verify HEAD
	if _, err := r.git(ctx, nil, r.dir, "rev-parse", "--verify", "HEAD"); err != nil {
		r.log.Error("unable to resolve HEAD", "path", r.dir, "err", err)
		return false
	}

	return true
}

// clone creates shallow clone of the tracked branch in the cache dir.
// on failure cache dir contents are removed so next attempt starts from clean dir.
func (r *Repository) clone(ctx context.Context) error {
	r.log.Info("cloning repository", "path", r.dir)

	// git clone --depth 1 --branch <branch> <remote> <dir>
	_, err := r.gitWithAuth(ctx, "", "clone", "--depth", "1", "--branch", r.branch, r.remote, r.dir)
	if err != nil {
		if rmErr := utils.RemoveDirContents(r.dir, r.log); rmErr != nil {
			r.log.Error("unable to clean up cache dir after failed clone", "path", r.dir, "err", rmErr)
		}
		return err
	}

	r.log.Info("repository cloned", "path", r.dir)
	return nil
}

// fetch updates remote tracking data of the tracked branch
func (r *Repository) fetch(ctx context.Context) error {
	// git fetch --depth 1 --no-tags origin <branch>
	_, err := r.gitWithAuth(ctx, r.dir, "fetch", "--depth", "1", "--no-tags", "--no-progress", "origin", r.branch)
	return err
}

// pull fetches tracked branch and resets working tree to it
func (r *Repository) pull(ctx context.Context) error {
	if err := r.fetch(ctx); err != nil {
		return err
	}

	// git reset --hard FETCH_HEAD
	if _, err := r.git(ctx, nil, r.dir, "reset", "--hard", "--quiet", "FETCH_HEAD"); err != nil {
		return err
	}

	r.log.Info("repository updated", "path", r.dir)
	return nil
}

// gitWithAuth runs git command with credentials of the repository
func (r *Repository) gitWithAuth(ctx context.Context, cwd string, args ...string) (string, error) {
	// token source might call external API
	authCtx, cancel := context.WithTimeout(ctx, r.cmdTimeout)
	envs, err := r.authEnv(authCtx)
	cancel()
	if err != nil {
		return "", &ExternalToolError{Op: args[0], Err: err}
	}
	return r.git(ctx, envs, cwd, args...)
}

// git runs git command with given args and extra envs on given CWD
// with the repository's command timeout
func (r *Repository) git(ctx context.Context, extraEnvs []string, cwd string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cmdTimeout)
	defer cancel()

	envs := r.envs
	if len(extraEnvs) > 0 {
		envs = append(slices.Clone(r.envs), extraEnvs...)
	}

	out, err := r.run(ctx, r.log, envs, cwd, r.cmd, args...)
	if err != nil {
		return "", &ExternalToolError{Op: args[0], Err: err}
	}
	return out, nil
}

// Destroy removes the mirror from the disk. It waits for any running git
// operation on the mirror to finish. EnsureSynced and Update return ErrRemoved
// afterwards so the mirror is never re-created by a stale reference.
func (r *Repository) Destroy() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.removed = true

	r.log.Info("removing repository mirror", "path", r.dir)
	if err := os.RemoveAll(r.dir); err != nil {
		return fmt.Errorf("unable to remove mirror err:%w", err)
	}
	return nil
}
