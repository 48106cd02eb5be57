package repopool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/utilitywarehouse/repo-sync/auth"
	"github.com/utilitywarehouse/repo-sync/giturl"
	"github.com/utilitywarehouse/repo-sync/internal/lock"
	"github.com/utilitywarehouse/repo-sync/repository"
)

var (
	ErrNotExist = errors.New("repo does not exist")
	// ErrInvalid is returned when register request can't be used to create repository
	ErrInvalid = errors.New("invalid repository")
	// ErrStateConflict is returned when the mirror dir of a new repository
	// is already used by another registered repository
	ErrStateConflict = errors.New("repo state conflict")
)

// RepoPool represents the collection of tracked repositories
// it provides simple wrapper around Repository methods.
// A RepoPool is safe for concurrent use by multiple goroutines.
type RepoPool struct {
	lock        lock.RWMutex
	log         *slog.Logger
	conf        Config
	repos       map[string]*repository.Repository // keyed by repo id
	order       []string                          // repo ids in registration order
	dirs        map[string]string                 // mirror dir -> repo id
	cmd         string
	commonENVs  []string
	tokenSource repository.TokenSource
}

// New will create repository pool based on given config.
// Repositories are added with Register.
func New(conf Config, log *slog.Logger, gitExec string, commonENVs []string) (*RepoPool, error) {
	if err := conf.ValidateAndApplyDefaults(); err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}

	rp := &RepoPool{
		log:        log,
		conf:       conf,
		repos:      make(map[string]*repository.Repository),
		dirs:       make(map[string]string),
		cmd:        gitExec,
		commonENVs: commonENVs,
	}

	if conf.Auth.enabled() {
		rp.tokenSource = &auth.GithubApp{
			AppID:          conf.Auth.GithubAppID,
			InstallationID: conf.Auth.GithubAppInstallationID,
			PrivateKeyPath: conf.Auth.GithubAppPrivateKeyPath,
		}
	}

	return rp, nil
}

// RepoID returns the id given repository will have once registered
func RepoID(remote, branch string) string {
	return repository.RepoID(strings.TrimSpace(remote), branch)
}

// Register adds given repository to the pool and makes sure its mirror is
// synced with the remote. If repository with same id is already registered
// it is reused and its access token is replaced.
// Sync errors are returned but the repository stays registered so that
// next sync can retry.
func (rp *RepoPool) Register(ctx context.Context, req RegisterRequest) (string, error) {
	repo, err := rp.addRepository(req)
	if err != nil {
		return "", err
	}

	if err := repo.EnsureSynced(ctx); err != nil {
		return repo.ID(), fmt.Errorf("unable to sync repository err:%w", err)
	}

	rp.log.Info("repository registered", "id", repo.ID(), "repo", repo.Name(), "branch", repo.Branch())
	return repo.ID(), nil
}

func (rp *RepoPool) addRepository(req RegisterRequest) (*repository.Repository, error) {
	remote := strings.TrimSpace(req.Remote)
	branch := req.Branch
	if branch == "" {
		branch = repository.DefaultBranch
	}
	token := req.AccessToken
	if token == "" {
		token = rp.conf.DefaultAccessToken
	}

	id := RepoID(remote, branch)
	dir := filepath.Join(rp.conf.Root, id)

	rp.lock.Lock()
	defer rp.lock.Unlock()

	if repo, ok := rp.repos[id]; ok {
		if err := repo.SetAccessToken(token); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		return repo, nil
	}

	if owner, ok := rp.dirs[dir]; ok {
		return nil, fmt.Errorf("%w: mirror dir %s is used by repo %s", ErrStateConflict, dir, owner)
	}

	repo, err := repository.New(repository.Config{
		Remote:         remote,
		Branch:         branch,
		AccessToken:    token,
		CacheDir:       dir,
		CommandTimeout: rp.conf.CommandTimeout,
		TokenSource:    rp.tokenSource,
	}, rp.cmd, rp.commonENVs, rp.log)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	rp.repos[id] = repo
	rp.order = append(rp.order, id)
	rp.dirs[dir] = id

	return repo, nil
}

// Repository will return Repository object based on given id
func (rp *RepoPool) Repository(id string) (*repository.Repository, error) {
	rp.lock.RLock()
	defer rp.lock.RUnlock()

	if repo, ok := rp.repos[id]; ok {
		return repo, nil
	}
	return nil, ErrNotExist
}

// Lookup will return Repository object tracking given remote and branch
func (rp *RepoPool) Lookup(remote, branch string) (*repository.Repository, error) {
	return rp.Repository(RepoID(remote, branch))
}

// Snapshot returns all registered repositories in registration order.
// repositories registered after the call are not included.
func (rp *RepoPool) Snapshot() []*repository.Repository {
	rp.lock.RLock()
	defer rp.lock.RUnlock()

	repos := make([]*repository.Repository, 0, len(rp.order))
	for _, id := range rp.order {
		repos = append(repos, rp.repos[id])
	}
	return repos
}

// RepositoriesByRemote returns all registered repositories of the given remote
// regardless of the tracked branch. remote can be in any supported git url syntax.
func (rp *RepoPool) RepositoriesByRemote(remote string) []*repository.Repository {
	gitURL, err := giturl.Parse(remote)
	if err != nil {
		return nil
	}

	var repos []*repository.Repository
	for _, repo := range rp.Snapshot() {
		if repo.GitURL() != nil && repo.GitURL().Equals(gitURL) {
			repos = append(repos, repo)
		}
	}
	return repos
}

// Update is wrapper around repositories Update method
func (rp *RepoPool) Update(ctx context.Context, id string) error {
	repo, err := rp.Repository(id)
	if err != nil {
		return err
	}
	return repo.Update(ctx)
}

// LocalRef is wrapper around repositories LocalRef method
func (rp *RepoPool) LocalRef(ctx context.Context, id string) (string, error) {
	repo, err := rp.Repository(id)
	if err != nil {
		return "", err
	}
	return repo.LocalRef(ctx)
}

// Remove will stop tracking given repository and remove its mirror
func (rp *RepoPool) Remove(id string) error {
	rp.lock.Lock()
	repo, ok := rp.repos[id]
	if !ok {
		rp.lock.Unlock()
		return ErrNotExist
	}
	delete(rp.repos, id)
	rp.order = slices.DeleteFunc(rp.order, func(i string) bool { return i == id })
	rp.lock.Unlock()

	err := repo.Destroy()

	// mirror dir stays reserved until its removed
	rp.lock.Lock()
	delete(rp.dirs, repo.CacheDir())
	rp.lock.Unlock()

	rp.log.Info("repository removed", "id", id, "repo", repo.Name())
	return err
}
