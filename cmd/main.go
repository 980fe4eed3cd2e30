package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tubevault/backend/internal/app"
	"github.com/tubevault/backend/internal/pkg/errkind"
	"github.com/tubevault/backend/internal/pkg/logger"
)

// Usage:
//
//	tubevault                 run the queue processor daemon
//	tubevault ingest <url>    ingest one video and exit
//	tubevault backup          run a backup to completion and exit
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
	switch {
	case len(args) == 0:
		if err := a.Queue.Run(ctx); err != nil {
			log.Error("queue processor failed", "error", err)
			os.Exit(errkind.ExitCode(err))
		}

	case args[0] == "ingest" && len(args) == 2:
		pctx, err := a.IngestURL(ctx, args[1], "", "")
		if err != nil {
			log.Error("ingest failed", "url", args[1], "error", err)
			os.Exit(errkind.ExitCode(err))
		}
		failed := 0
		for step, res := range pctx.Results {
			status := "ok"
			if !res.Success {
				status = "failed: " + res.Err
				failed++
			}
			fmt.Printf("%s\t%s\t%s\n", pctx.VideoID, step, status)
		}
		if failed > 0 {
			os.Exit(2)
		}

	case args[0] == "backup":
		job, err := a.Backup.StartBackup(ctx)
		if err != nil {
			log.Error("backup start failed", "error", err)
			os.Exit(errkind.ExitCode(err))
		}
		waitCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
		done, err := a.Backup.Wait(waitCtx, job.ID)
		if err != nil {
			log.Error("backup wait failed", "backup_id", job.ID, "error", err)
			os.Exit(3)
		}
		fmt.Printf("%s\t%s\t%d bytes\n", done.ID, done.Status, done.TotalSizeBytes)
		if done.Status != "completed" {
			os.Exit(3)
		}

	default:
		fmt.Fprintln(os.Stderr, "usage: tubevault [ingest <url> | backup]")
		os.Exit(1)
	}
}
