package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spachava753/oscar/internal/cli"
	"github.com/spachava753/oscar/internal/config"
	"github.com/spachava753/oscar/internal/kit"
)

func main() {
	configPath := flag.String("config", "", "path to oscar.toml or oscar.yaml (default: looked up in the working directory)")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: oscar [flags] [task...]")
		flag.PrintDefaults()
	}
	flag.Parse()

	path := *configPath
	if path == "" {
		if wd, err := os.Getwd(); err == nil {
			path = config.Find(wd)
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("invalid configuration", "path", path, "error", err)
		os.Exit(1)
	}

	level := parseLevel(cfg.LogLevel)
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	k, err := kit.New(cfg, kit.DefaultCollaborators(cfg, logger), logger)
	if err != nil {
		slog.Error("registering tasks", "error", err)
		os.Exit(1)
	}

	flow, err := cli.NewFlow(k.Orchestrator)
	if err != nil {
		slog.Error("building task flow", "error", err)
		os.Exit(1)
	}
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: oscar [flags] [task...]")
		flag.PrintDefaults()
		flow.Print()
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	defer func() {
		signal.Stop(sigChan)
		cancel()
	}()

	go func() {
		sig := <-sigChan
		slog.Info("interrupt received, shutting down gracefully...", "signal", sig)
		cancel()
	}()

	if err := flow.Execute(ctx, flag.Args()); err != nil {
		slog.Error("build failed", "project", cfg.ProjectName, "error", err)
		cancel()
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
