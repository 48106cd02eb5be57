package repository

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// Objects can be named by their 40 hexadecimal digit SHA-1 name
	// or 64 hexadecimal digit SHA-256 name
	commitHashRgx = regexp.MustCompile("^([0-9A-Fa-f]{40}|[0-9A-Fa-f]{64})$")
)

// IsFullCommitHash returns whether or not a string is a 40 char SHA-1
// or 64 char SHA-256 hash
func IsFullCommitHash(hash string) bool {
	return commitHashRgx.MatchString(hash)
}

// LocalRef returns the hash of the commit currently checked out in the mirror.
func (r *Repository) LocalRef(ctx context.Context) (string, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if r.removed {
		return "", ErrRemoved
	}

	// git rev-parse HEAD
	return r.git(ctx, nil, r.dir, "rev-parse", "HEAD")
}

// RemoteRef returns the hash of the commit tracked branch (or tag) currently
// points to on the remote. No objects are fetched.
// If the name matches multiple remote refs the first one listed by the remote
// is used.
func (r *Repository) RemoteRef(ctx context.Context) (string, error) {
	start := time.Now()

	// pattern with `^{}` makes remote list peeled commit of an annotated tag
	// git ls-remote <remote> <branch> <branch>^{}
	out, err := r.gitWithAuth(ctx, "", "ls-remote", r.remote, r.branch, r.branch+"^{}")
	if err != nil {
		recordOp(r.name, "ls-remote", false, start)
		return "", err
	}

	hash, err := parseLsRemote(out)
	if err != nil {
		recordOp(r.name, "ls-remote", false, start)
		return "", &ExternalToolError{Op: "ls-remote", Err: fmt.Errorf("unable to resolve '%s' err:%w", r.branch, err)}
	}

	recordOp(r.name, "ls-remote", true, start)
	return hash, nil
}

// IsUpdateAvailable returns true if local ref of the mirror is different
// from the remote ref of the tracked branch. errors from either side are returned
// as is, resolution failure is never reported as 'no update'.
func (r *Repository) IsUpdateAvailable(ctx context.Context) (bool, error) {
	local, err := r.LocalRef(ctx)
	if err != nil {
		return false, err
	}

	remote, err := r.RemoteRef(ctx)
	if err != nil {
		return false, err
	}

	if local != remote {
		r.log.Debug("remote ref differs from local", "local", local, "remote", remote)
		return true, nil
	}
	return false, nil
}

// parseLsRemote returns hash of the first ref listed in the ls-remote output.
// if the output also contains peeled entry (<ref>^{}) of that ref its hash is
// returned instead.
func parseLsRemote(out string) (string, error) {
	var hash, ref string

	for line := range strings.SplitSeq(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if ref == "" {
			if strings.HasSuffix(fields[1], "^{}") {
				continue
			}
			hash, ref = fields[0], fields[1]
			continue
		}
		if fields[1] == ref+"^{}" {
			hash = fields[0]
			break
		}
	}

	if ref == "" {
		return "", fmt.Errorf("no matching remote ref found")
	}
	if !IsFullCommitHash(hash) {
		return "", fmt.Errorf("invalid hash '%s' for ref %s", hash, ref)
	}
	return hash, nil
}
