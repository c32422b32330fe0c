// Command repocapsule is the smoke-test/demo entry point for the
// repocapsule ingestion engine: it loads a JSON config.RepocapsuleConfig,
// runs it, and prints the resulting stats. Passing -repocapsule-worker
// re-execs the same binary as a concurrency.ProcessExecutor subprocess
// instead of running a pipeline directly.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"

	"github.com/sievio/repocapsule"
	"github.com/sievio/repocapsule/byteshandler"
	"github.com/sievio/repocapsule/chunker"
	"github.com/sievio/repocapsule/config"
	"github.com/sievio/repocapsule/decode"
	"github.com/sievio/repocapsule/extract"
)

func main() {
	workerMode := flag.Bool("repocapsule-worker", false, "run as a ProcessExecutor worker subprocess, reading/writing framed requests on stdin/stdout")
	configPath := flag.String("config", "", "path to a JSON config.RepocapsuleConfig file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if *workerMode {
		opts := extract.Options{
			Handlers:   byteshandler.NewRegistry(),
			DecodeOpts: decode.DefaultOptions(),
			Policy:     chunker.DefaultPolicy(),
		}
		if err := repocapsule.WorkerMain(os.Stdin, os.Stdout, opts); err != nil {
			slog.Error("worker loop failed", "error", err)
			os.Exit(1)
		}
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		err = json.NewDecoder(f).Decode(&cfg)
		f.Close()
		if err != nil {
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
	}

	stats, err := repocapsule.Run(context.Background(), cfg)
	if err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stats); err != nil {
		slog.Error("encoding stats", "error", err)
		os.Exit(1)
	}
}
