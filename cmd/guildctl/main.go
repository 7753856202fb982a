// Command guildctl is the operator CLI: it mints bearer tokens and drives the job queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guildhall/guildhall/cmd/guildctl/cli"
	"github.com/guildhall/guildhall/internal/app"
)

const usage = `usage:
  guildctl token issue --user ID [--ttl 24h] [--json]
  guildctl jobs trigger [--json] NAME
  guildctl jobs stats [--json]
  guildctl jobs scheduled [--size 10]
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping guildctl")
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	switch args[0] + " " + args[1] {
	case "token issue":
		fs := flag.NewFlagSet("token issue", flag.ContinueOnError)
		fs.SetOutput(stderr)
		userID := fs.Int64("user", 0, "user id the token is issued for")
		ttl := fs.Duration("ttl", cfg.TokenTTL, "token lifetime")
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		tokens, err := cli.NewTokenCLI(cfg.JWTSecret, cfg.JWTIssuer)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "token issue: %v\n", err)
			return 1
		}
		return tokens.IssueCommand(cli.TokenOptions{UserID: *userID, TTL: *ttl, JSONOutput: *asJSON, Stdout: stdout, Stderr: stderr})

	case "jobs trigger", "jobs stats", "jobs scheduled":
		fs := flag.NewFlagSet(args[0]+" "+args[1], flag.ContinueOnError)
		fs.SetOutput(stderr)
		asJSON := fs.Bool("json", false, "print JSON")
		size := fs.Int("size", 10, "number of scheduled tasks to list")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		jobsCLI := cli.NewJobsCLI(cfg.RedisOptions().QueueOpt())
		defer func() { _ = jobsCLI.Close() }()
		opts := cli.JobsOptions{JSONOutput: *asJSON, Stdout: stdout, Stderr: stderr}
		switch args[1] {
		case "trigger":
			if fs.NArg() != 1 {
				_, _ = fmt.Fprint(stderr, usage)
				return 2
			}
			return jobsCLI.TriggerCommand(ctx, fs.Arg(0), opts)
		case "stats":
			return jobsCLI.StatsCommand(ctx, opts)
		default:
			tasks, err := jobsCLI.ListScheduled(ctx, *size)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "jobs scheduled: %v\n", err)
				return 1
			}
			for _, task := range tasks {
				_, _ = fmt.Fprintf(stdout, "%s\t%s\t%s\n", task.ID, task.Type, task.NextProcessAt.Format(time.RFC3339))
			}
			return 0
		}
	}
	_, _ = fmt.Fprint(stderr, usage)
	return 2
}
