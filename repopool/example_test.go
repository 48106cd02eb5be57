package repopool_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/utilitywarehouse/repo-sync/repopool"
	"gopkg.in/yaml.v3"
)

func Example() {
	tmpRoot, err := os.MkdirTemp("", "repo-sync-example-*")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(tmpRoot)

	config := `
root:
command_timeout: 2m
`
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	conf := repopool.Config{}
	err = yaml.Unmarshal([]byte(config), &conf)
	if err != nil {
		panic(err)
	}
	conf.Root = tmpRoot

	repos, err := repopool.New(conf, slog.Default(), "", []string{"PATH=" + os.Getenv("PATH")})
	if err != nil {
		panic(err)
	}

	// register will clone the repository
	id, err := repos.Register(ctx, repopool.RegisterRequest{
		Remote: "https://github.com/utilitywarehouse/git-mirror.git",
		Branch: "main",
	})
	if err != nil {
		panic(err)
	}

	repo, err := repos.Repository(id)
	if err != nil {
		panic(err)
	}

	available, err := repo.IsUpdateAvailable(ctx)
	if err != nil {
		panic(err)
	}
	if available {
		if err := repos.Update(ctx, id); err != nil {
			panic(err)
		}
	}

	hash, err := repos.LocalRef(ctx, id)
	if err != nil {
		panic(err)
	}
	fmt.Println("current commit hash at main", "hash", hash)
}
