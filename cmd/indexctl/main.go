package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "indexctl",
		Usage: "operate the indexing queue and query the index",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
				Value: "warn",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print results as JSON",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "create-job",
				Usage: "create an indexing job and start its step chain",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "user id", Required: true},
					&cli.StringFlag{Name: "mode", Usage: "full or incremental", Value: "incremental"},
					&cli.StringSliceFlag{Name: "source", Usage: "notes, emails or calendar (repeatable, default all)"},
					&cli.StringFlag{Name: "account", Usage: "index only this linked account"},
					&cli.BoolFlag{Name: "drain", Usage: "run the job to completion in this process"},
				},
				Action: createJobAction,
			},
			{
				Name:   "step",
				Usage:  "run one step of a job",
				Flags:  []cli.Flag{jobFlag()},
				Action: stepAction,
			},
			{
				Name:  "drain",
				Usage: "run steps in this process until the job completes",
				Flags: []cli.Flag{
					jobFlag(),
					&cli.DurationFlag{Name: "idle", Usage: "wait between steps that claim nothing", Value: defaultIdle},
				},
				Action: drainAction,
			},
			{
				Name:   "sweep",
				Usage:  "trigger a step for every unfinished job",
				Action: sweepAction,
			},
			{
				Name:   "status",
				Usage:  "show job progress and task counts",
				Flags:  []cli.Flag{jobFlag()},
				Action: statusAction,
			},
			{
				Name:  "search",
				Usage: "run a hybrid query against the index",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "user id", Required: true},
					&cli.StringFlag{Name: "query", Usage: "query text", Required: true},
					&cli.StringSliceFlag{Name: "source-type", Usage: "restrict to a document type (repeatable)"},
					&cli.IntFlag{Name: "limit", Usage: "maximum results (0 uses the settings default)"},
					&cli.BoolFlag{Name: "semantic", Usage: "semantic lookup only"},
					&cli.BoolFlag{Name: "evidence", Usage: "print numbered evidence blocks"},
				},
				Action: searchAction,
			},
		},
	}
}

func jobFlag() cli.Flag {
	return &cli.StringFlag{Name: "job", Usage: "job id", Required: true}
}
