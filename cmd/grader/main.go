// Command grader is the entry point for every C6 role: a dispatch
// server, a worker, or a client submitting one evaluation request.
// Grounded on cmd/tester/main.go's stub shape, built out with the
// teacher's adopted but previously unused github.com/urfave/cli/v3
// dependency instead of a hand-rolled flag.FlagSet switch.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v3"

	"github.com/lvgrader/grader/internal/admission"
	"github.com/lvgrader/grader/internal/checker"
	"github.com/lvgrader/grader/internal/config"
	"github.com/lvgrader/grader/internal/dispatch"
	"github.com/lvgrader/grader/internal/eventbus"
	"github.com/lvgrader/grader/internal/evaluator"
	"github.com/lvgrader/grader/internal/executor"
	"github.com/lvgrader/grader/internal/logging"
	"github.com/lvgrader/grader/internal/sandbox"
	"github.com/lvgrader/grader/internal/scenario"
	"github.com/lvgrader/grader/internal/store"
)

func main() {
	cmd := &cli.Command{
		Name:  "grader",
		Usage: "competitive-programming grading engine",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to config.toml"},
		},
		Commands: []*cli.Command{
			serverCommand(),
			workerCommand(),
			submitCommand(),
			scenarioCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cli.Command) (config.Config, *slog.Logger) {
	log := logging.Default(slog.LevelInfo)
	path := cmd.Root().String("config")
	if path == "" {
		path = "config.toml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Warn("config load failed, using defaults", "err", err)
		cfg = config.Default()
	}
	return cfg, log
}

func buildEvaluator(cfg config.Config, log *slog.Logger) (*evaluator.Evaluator, error) {
	fetch, err := store.S3FetchFunc(context.Background(), store.S3FetchOptions{
		Bucket: cfg.Store.S3Bucket,
		Region: cfg.Store.S3Region,
		KeyPrefix: cfg.Store.S3Prefix,
		Zstd:   cfg.Store.S3Zstd,
	})
	if err != nil {
		log.Warn("s3 fetch disabled", "err", err)
		fetch = nil
	}
	st, err := store.New(cfg.Store.Root, fetch)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	backend := sandbox.NewIsolateBackend(cfg.Sandbox.MaxBoxID)

	var exec *executor.Executor
	if cfg.Executor.SharedAdmissionPath != "" {
		guard, err := admission.NewShared(cfg.Executor.SharedAdmissionPath, cfg.Executor.MaxConcurrent)
		if err != nil {
			return nil, fmt.Errorf("open shared admission pool: %w", err)
		}
		log.Info("admission gate shared across processes", "path", cfg.Executor.SharedAdmissionPath)
		exec = executor.NewWithGuard(st, backend, guard)
	} else {
		exec = executor.New(st, backend, cfg.Executor.MaxConcurrent)
	}

	chk := checker.New(exec, st, cfg.Checker.CacheDir)
	return evaluator.New(st, exec, chk), nil
}

func serverCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "run the dispatch server that matches requests to workers",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log := loadConfig(cmd)
			nc, err := nats.Connect(cfg.Dispatch.NATSUrl)
			if err != nil {
				return fmt.Errorf("connect nats: %w", err)
			}
			defer nc.Close()

			subjects := dispatch.Subjects{Prefix: cfg.Dispatch.SubjectPrefix}
			server := dispatch.NewServer(nc, subjects, log)
			log.Info("dispatch server listening", "subject_prefix", subjects.Prefix)
			return server.Run(ctx)
		},
	}
}

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "run one worker serving execution requests",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log := loadConfig(cmd)
			nc, err := nats.Connect(cfg.Dispatch.NATSUrl)
			if err != nil {
				return fmt.Errorf("connect nats: %w", err)
			}
			defer nc.Close()

			eval, err := buildEvaluator(cfg, log)
			if err != nil {
				return err
			}

			subjects := dispatch.Subjects{Prefix: cfg.Dispatch.SubjectPrefix}
			worker := dispatch.NewWorker(nc, subjects, cfg.Dispatch.WorkerCapacity, eval.Run, log)
			log.Info("worker starting", "capacity", cfg.Dispatch.WorkerCapacity)
			return worker.Serve(ctx)
		},
	}
}

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "submit the first scenario of a file and log its outcome",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Required: true, Usage: "scenario TOML file"},
			&cli.BoolFlag{Name: "follow", Usage: "print events as they arrive"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log := loadConfig(cmd)
			nc, err := nats.Connect(cfg.Dispatch.NATSUrl)
			if err != nil {
				return fmt.Errorf("connect nats: %w", err)
			}
			defer nc.Close()

			cases, err := scenario.ParseFile(cmd.String("file"))
			if err != nil {
				return err
			}
			if len(cases) == 0 {
				return fmt.Errorf("no scenarios in %s", cmd.String("file"))
			}

			subjects := dispatch.Subjects{Prefix: cfg.Dispatch.SubjectPrefix}
			client := dispatch.NewClient(nc, subjects)

			req := cases[0].Request
			if req.SessionID == "" {
				req.SessionID = uuid.NewString()
			}

			if cmd.Bool("follow") {
				events, err := client.Events(ctx, req.SessionID)
				if err != nil {
					return err
				}
				sink := eventbus.TerminalSink()
				go func() {
					for ev := range events {
						sink(ev)
					}
				}()
			}

			resp, err := client.Submit(ctx, req)
			if err != nil {
				return err
			}
			log.Info("evaluation finished", "status", resp.Status, "tests", len(resp.TestResults))
			return nil
		},
	}
}

func scenarioCommand() *cli.Command {
	return &cli.Command{
		Name:  "scenario",
		Usage: "run a scenario file locally (no dispatch server) and check expectations",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Required: true, Usage: "scenario TOML file"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log := loadConfig(cmd)
			eval, err := buildEvaluator(cfg, log)
			if err != nil {
				return err
			}
			cases, err := scenario.ParseFile(cmd.String("file"))
			if err != nil {
				return err
			}

			failed := 0
			for _, c := range cases {
				if _, err := scenario.Run(ctx, eval, c); err != nil {
					log.Error("scenario failed", "name", c.Name, "err", err)
					failed++
					continue
				}
				log.Info("scenario passed", "name", c.Name)
			}
			if failed > 0 {
				return fmt.Errorf("%d scenario(s) failed", failed)
			}
			return nil
		},
	}
}
