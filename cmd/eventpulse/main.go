package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventpulse/internal/app"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config path] [run | import <file>]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config (json or yaml)")
	flag.Usage = usage
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	args := flag.Args()
	cmd := "run"
	if len(args) > 0 {
		cmd = args[0]
	}

	var err error
	switch cmd {
	case "run":
		err = run(ctx, cfgPath)
	case "import":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		err = importEvents(ctx, cfgPath, args[1])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	a, err := app.New(ctx, cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	return a.Err()
}

func importEvents(ctx context.Context, cfgPath, file string) error {
	res, err := app.Import(ctx, cfgPath, file)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d events (%d already present)\n", res.Inserted, res.Duplicates)
	return nil
}
