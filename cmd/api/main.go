package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/di"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runner, cleanup, err := di.InitializeMigrationRunner()
		if err != nil {
			log.Fatal(err)
		}
		defer cleanup()
		if err := runner.Run(); err != nil {
			log.Fatal(err)
		}
		return
	}

	a, cleanup, err := di.InitializeApp()
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := a.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
