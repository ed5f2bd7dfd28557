package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"timebox/internal/app"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "timebox:", err)
		os.Exit(1)
	}
	if err := a.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "timebox:", err)
		os.Exit(1)
	}
}
