package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/utilitywarehouse/repo-sync/giturl"
)

// user name GitHub expects with App installation tokens
const githubAppUser = "x-access-token"

// credentials returns basic auth credentials for the remote. a static token
// is used as the user name with an empty password, GitHub App installation
// tokens are sent as the password of the 'x-access-token' user.
// both are empty if repository is public.
func (r *Repository) credentials(ctx context.Context) (user, password string, err error) {
	r.credsLock.Lock()
	token := r.token
	r.credsLock.Unlock()

	if token != "" {
		return token, "", nil
	}

	if r.tokenSource == nil || r.gitURL == nil || r.gitURL.Host != "github.com" {
		return "", "", nil
	}

	// github matches repo name without `.git` for permission for token req
	token, err = r.tokenSource.Token(ctx, strings.TrimSuffix(r.gitURL.Repo, ".git"))
	if err != nil {
		return "", "", fmt.Errorf("unable to get access token err:%w", err)
	}
	if token == "" {
		return "", "", nil
	}
	return githubAppUser, token, nil
}

// authEnv returns the environment variables which make git rewrite the remote
// to its credential-bearing form for a single invocation. Nothing is persisted
// in the repository config.
func (r *Repository) authEnv(ctx context.Context) ([]string, error) {
	user, password, err := r.credentials(ctx)
	if err != nil {
		return nil, err
	}
	if user == "" {
		return nil, nil
	}

	authURL, err := giturl.WithCredentials(r.remote, user, password)
	if err != nil {
		return nil, err
	}

	envs := []string{
		"GIT_CONFIG_COUNT=1",
		"GIT_CONFIG_KEY_0=url." + authURL + ".insteadOf",
		"GIT_CONFIG_VALUE_0=" + r.remote,
	}
	if password == "" && r.askPass != "" {
		// token is the user name, askpass program answers
		// password prompt with an empty password
		envs = append(envs, "GIT_ASKPASS="+r.askPass)
	}
	return envs, nil
}
