package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tubevault/backend/internal/app"
	"github.com/tubevault/backend/internal/backfill"
	"github.com/tubevault/backend/internal/pkg/errkind"
	"github.com/tubevault/backend/internal/pkg/logger"
)

// Usage:
//
//	backfill counts                     stale-item count per step
//	backfill queue <step> [limit]       list stale items for one step
//	backfill run <step> [batch_size]    re-run one step for stale items
//	backfill all [batch_size]           re-run every step with stale items
func main() {
	_ = godotenv.Load()

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(3)
	}
	defer log.Sync()

	cfg := app.LoadConfig(log)
	a, err := app.New(log, cfg)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(errkind.ExitCode(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer a.Close(context.Background())

	if err := a.InitSchema(ctx); err != nil {
		log.Error("schema init failed", "error", err)
		os.Exit(errkind.ExitCode(err))
	}

	args := os.Args[1:]
	if len(args) == 0 {
		usage()
	}

	switch args[0] {
	case "counts":
		counts, err := a.Backfill.Counts()
		exitOn(log, err)
		steps := make([]string, 0, len(counts))
		for step := range counts {
			steps = append(steps, step)
		}
		sort.Strings(steps)
		for _, step := range steps {
			fmt.Printf("%s\t%d\n", step, counts[step])
		}

	case "queue":
		if len(args) < 2 {
			usage()
		}
		limit := intArg(args, 2, 0)
		items, err := a.Backfill.Queue(args[1], limit)
		exitOn(log, err)
		for _, item := range items {
			fmt.Printf("%s\t%s\t%q -> %s\n", item.VideoID, item.URL, item.CurrentVersion, item.RequiredVersion)
		}

	case "run":
		if len(args) < 2 {
			usage()
		}
		batch := intArg(args, 2, cfg.BackfillBatchSize)
		summary, err := a.Backfill.Run(ctx, args[1], batch)
		exitOn(log, err)
		printSummary(summary)
		if summary.Failed > 0 {
			os.Exit(2)
		}

	case "all":
		batch := intArg(args, 1, cfg.BackfillBatchSize)
		summaries, err := a.Backfill.RunAll(ctx, batch)
		exitOn(log, err)
		failed := 0
		for _, summary := range summaries {
			printSummary(summary)
			failed += summary.Failed
		}
		if failed > 0 {
			os.Exit(2)
		}

	default:
		usage()
	}
}

func printSummary(s *backfill.Summary) {
	fmt.Printf("%s\tqueued=%d succeeded=%d failed=%d\n", s.Step, s.Queued, s.Succeeded, s.Failed)
	for _, e := range s.Errors {
		fmt.Printf("  %s\t%s\n", e.VideoID, e.Error)
	}
}

func intArg(args []string, i, fallback int) int {
	if i >= len(args) {
		return fallback
	}
	n, err := strconv.Atoi(args[i])
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func exitOn(log *logger.Logger, err error) {
	if err == nil {
		return
	}
	log.Error("backfill failed", "error", err)
	os.Exit(errkind.ExitCode(err))
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: backfill counts | queue <step> [limit] | run <step> [batch] | all [batch]")
	os.Exit(1)
}
