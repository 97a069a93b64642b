// Package main provides the entry point for the groupcart server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/txn2/groupcart/internal/server"
	"github.com/txn2/groupcart/pkg/auth"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	hashKey     string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.hashKey, "hash-key", "", "Print the bcrypt hash of an API key for auth.api_keys and exit")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("groupcart version %s\n", server.Version)
		return nil
	}
	if opts.hashKey != "" {
		hash, err := auth.HashAPIKey(opts.hashKey)
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewWithConfig(ctx, opts.configPath, os.Stderr)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	return srv.Run(ctx)
}
