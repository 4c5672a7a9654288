// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command registry runs the standalone rendezvous broker of spec.md
// §4.4: a fixed-identity participant that bootstraps the peer-to-peer
// overlay and then gets out of the data path.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/luxfi/log"
	"github.com/spf13/cobra"

	"github.com/vectorgrp/sil-kit-sub006/pkg/registry"
	"github.com/vectorgrp/sil-kit-sub006/pkg/transport"
)

// Exit codes per spec.md §6.3.
const (
	exitSuccess       = 0
	exitArgumentError = -1
	exitConfigError   = -2
	exitOtherFailure  = -3
)

type flags struct {
	listenURI             string
	logLevel              string
	registryConfiguration string
	generateConfiguration string
	dashboardURI          string
	directory             string
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var f flags
	exitCode := exitSuccess

	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Run the co-simulation rendezvous registry",
		Long: `registry bootstraps a co-simulation overlay: joining participants
announce themselves, the registry replies with the set of peers already
in the same simulation, and gets out of the data path once the mesh is
formed (spec.md §4.4).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, err := serve(cmd.Context(), f)
			exitCode = code
			return err
		},
	}

	cmd.Flags().StringVar(&f.listenURI, "listen-uri", "silkit://localhost:8500", "acceptor URI to listen on")
	cmd.Flags().StringVar(&f.logLevel, "log", "Info", "log level (Off, Critical, Error, Warn, Info, Debug, Trace)")
	cmd.Flags().StringVar(&f.registryConfiguration, "registry-configuration", "", "path to a registry configuration document")
	cmd.Flags().StringVar(&f.generateConfiguration, "generate-configuration", "", "write the effective configuration to this path, then keep serving")
	cmd.Flags().StringVar(&f.dashboardURI, "dashboard-uri", "", "dashboard endpoint (accepted and ignored; the registry does not contact a dashboard)")
	cmd.Flags().StringVar(&f.directory, "directory", ".", "working directory for generated files")

	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "registry: %v\n", err)
		if exitCode == exitSuccess {
			exitCode = exitArgumentError
		}
		return exitCode
	}
	return exitCode
}

func serve(ctx context.Context, f flags) (int, error) {
	logger := log.NewNoOpLogger()

	listenURI := f.listenURI
	if f.registryConfiguration != "" {
		doc, err := loadRegistryConfig(f.registryConfiguration)
		if err != nil {
			return exitConfigError, err
		}
		if doc.Middleware.RegistryURI != "" {
			listenURI = doc.Middleware.RegistryURI
		}
	}

	ep, err := transport.ParseEndpoint(listenURI)
	if err != nil {
		return exitConfigError, fmt.Errorf("invalid --listen-uri %q: %w", listenURI, err)
	}

	ln, err := transport.Listen(ep, transport.AggregationOff, logger)
	if err != nil {
		return exitOtherFailure, fmt.Errorf("listen on %s: %w", ep, err)
	}
	defer ln.Close()

	resolved, err := ln.ResolvedEndpoint()
	if err != nil {
		return exitOtherFailure, fmt.Errorf("resolve listen endpoint: %w", err)
	}
	fmt.Printf("registry: listening on %s\n", resolved)

	if f.generateConfiguration != "" {
		path := f.generateConfiguration
		if !filepath.IsAbs(path) {
			path = filepath.Join(f.directory, path)
		}
		if err := writeGeneratedConfig(path, resolved.String()); err != nil {
			return exitOtherFailure, fmt.Errorf("generate configuration: %w", err)
		}
		fmt.Printf("registry: wrote configuration to %s\n", path)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	reg := registry.New(logger)
	reg.OnAllDisconnected(func(simulation string) {
		fmt.Printf("registry: simulation %q emptied\n", simulation)
	})

	go reg.Serve(runCtx, ln)

	select {
	case sig := <-sigCh:
		fmt.Printf("registry: received %s, shutting down\n", sig)
	case <-runCtx.Done():
	}

	return exitSuccess, nil
}
