package repository

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/utilitywarehouse/repo-sync/giturl"
)

const (
	// DefaultBranch is tracked when no branch is configured
	DefaultBranch = "main"

	DefaultCommandTimeout = 2 * time.Minute
	MinCommandTimeout     = time.Second
)

// Config represents the metadata of the tracked repository.
type Config struct {
	// git URL of the remote repo to mirror
	Remote string `yaml:"remote"`
	// Branch is the tracked branch or tag, defaults to DefaultBranch
	Branch string `yaml:"branch"`
	// AccessToken is used as userinfo of the remote URL for every
	// remote operation. empty means public repository
	AccessToken string `yaml:"access_token"`
	// CacheDir is the absolute path of the mirror's working directory
	CacheDir string `yaml:"cache_dir"`
	// CommandTimeout is the time allowed for a single git invocation
	CommandTimeout time.Duration `yaml:"command_timeout"`
	// TokenSource is consulted when AccessToken is empty
	TokenSource TokenSource `yaml:"-"`
}

// TokenSource returns an access token for the named repository.
// empty token means no authentication.
type TokenSource interface {
	Token(ctx context.Context, repo string) (string, error)
}

// RepoID derives the stable identifier of the repository tracked on given branch.
// the id is also used as the mirror's directory name.
func RepoID(remote, branch string) string {
	if branch == "" {
		branch = DefaultBranch
	}
	sum := sha256.Sum256([]byte(giturl.NormaliseURL(remote) + "#" + branch))
	return fmt.Sprintf("%x", sum)[:16]
}
