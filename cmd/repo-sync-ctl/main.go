package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
)

var (
	log = slog.Default()
)

// client talks to the repo-sync http api
type client struct {
	server string
	http   *http.Client
	out    io.Writer
}

func (c *client) do(ctx context.Context, method, path string, in any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(c.server, "/")+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		var errResp struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &errResp) == nil && errResp.Detail != "" {
			return fmt.Errorf("%s: %s", resp.Status, errResp.Detail)
		}
		return fmt.Errorf("%s", resp.Status)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		_, err = c.out.Write(data)
		return err
	}
	out.WriteByte('\n')
	_, err = out.WriteTo(c.out)
	return err
}

func newClient(c *cli.Command, out io.Writer) *client {
	return &client{
		server: c.String("server"),
		http:   &http.Client{Timeout: c.Duration("timeout")},
		out:    out,
	}
}

func repoIDArg(c *cli.Command) (string, error) {
	id := c.Args().First()
	if id == "" {
		return "", fmt.Errorf("repository id is required")
	}
	return url.PathEscape(id), nil
}

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "repo-sync-ctl",
		Usage: "command line client of the repo-sync api",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Value:   "http://localhost:8080",
				Usage:   "address of the repo-sync server",
				Sources: cli.EnvVars("REPO_SYNC_SERVER"),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 10 * time.Minute,
				Usage: "request timeout, clone of large repositories can take a while",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "register",
				Usage:     "register a repository and clone it",
				ArgsUsage: "<repo-url>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "branch", Usage: "branch to track, server default is used if empty"},
					&cli.StringFlag{Name: "access-token", Usage: "token used to access the repository", Sources: cli.EnvVars("REPO_SYNC_ACCESS_TOKEN")},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					remote := c.Args().First()
					if remote == "" {
						return fmt.Errorf("repository url is required")
					}
					req := map[string]string{"repo_url": remote}
					if b := c.String("branch"); b != "" {
						req["branch"] = b
					}
					if token := c.String("access-token"); token != "" {
						req["access_token"] = token
					}
					return newClient(c, out).do(ctx, http.MethodPost, "/sync-repo/", req)
				},
			},
			{
				Name:      "update",
				Usage:     "fetch latest changes of a registered repository",
				ArgsUsage: "<repo-id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					id, err := repoIDArg(c)
					if err != nil {
						return err
					}
					return newClient(c, out).do(ctx, http.MethodPost, "/update-repo/"+id, nil)
				},
			},
			{
				Name:      "ref",
				Usage:     "print commit hash of the local mirror",
				ArgsUsage: "<repo-id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					id, err := repoIDArg(c)
					if err != nil {
						return err
					}
					return newClient(c, out).do(ctx, http.MethodGet, "/repo-ref/"+id, nil)
				},
			},
			{
				Name:      "remove",
				Usage:     "stop tracking a repository and delete its mirror",
				ArgsUsage: "<repo-id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					id, err := repoIDArg(c)
					if err != nil {
						return err
					}
					return newClient(c, out).do(ctx, http.MethodDelete, "/repos/"+id, nil)
				},
			},
			{
				Name:  "list",
				Usage: "list registered repositories with their last sync result",
				Action: func(ctx context.Context, c *cli.Command) error {
					return newClient(c, out).do(ctx, http.MethodGet, "/repos", nil)
				},
			},
		},
	}
}

func main() {
	if err := newApp(os.Stdout).Run(context.Background(), os.Args); err != nil {
		log.Error("exiting", "err", err)
		os.Exit(1)
	}
}
