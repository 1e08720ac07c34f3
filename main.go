// Command rangehttp serves a single directory over HTTP with byte-range support.
//
// Usage:
//
//	rangehttp [-no-listing] [-log-level LEVEL] [address] [document-root]
//
// The address and document root fall back to RANGEHTTP_ADDRESS and
// RANGEHTTP_ROOT, then to 127.0.0.1:9999 and the working directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"example.com/rangehttp/internal/config"
	"example.com/rangehttp/internal/handlers"
	"example.com/rangehttp/internal/logger"
	"example.com/rangehttp/internal/router"
	"example.com/rangehttp/internal/server"
)

const (
	envAddress     = "RANGEHTTP_ADDRESS"
	envRoot        = "RANGEHTTP_ROOT"
	defaultAddress = "127.0.0.1:9999"
)

// siteOptions is the resolved command line.
type siteOptions struct {
	address   string
	root      string
	noListing bool
	logLevel  config.LogLevel
}

// parseSiteArgs resolves the command line against the environment. Positional
// arguments win over environment variables, which win over the defaults.
func parseSiteArgs(args []string, stderr io.Writer, getenv func(string) string, getwd func() (string, error)) (siteOptions, error) {
	fs := flag.NewFlagSet("rangehttp", flag.ContinueOnError)
	fs.SetOutput(stderr)
	noListing := fs.Bool("no-listing", false, "answer 404 instead of listing directories without an index file")
	logLevel := fs.String("log-level", string(config.LogLevelInfo), "error log level: DEBUG, INFO, WARNING or ERROR")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags] [address] [document-root]\n", fs.Name())
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return siteOptions{}, err
	}

	opts := siteOptions{
		address:   getenv(envAddress),
		root:      getenv(envRoot),
		noListing: *noListing,
		logLevel:  config.LogLevel(*logLevel),
	}

	switch positional := fs.Args(); len(positional) {
	case 2:
		opts.root = positional[1]
		fallthrough
	case 1:
		opts.address = positional[0]
	case 0:
	default:
		fs.Usage()
		return siteOptions{}, fmt.Errorf("too many arguments: %q", positional[2:])
	}

	if opts.address == "" {
		opts.address = defaultAddress
	}
	if opts.root == "" {
		wd, err := getwd()
		if err != nil {
			return siteOptions{}, fmt.Errorf("failed to determine working directory: %w", err)
		}
		opts.root = wd
	}
	return opts, nil
}

// buildSiteConfig turns the options into a validated configuration serving
// opts.root under "/".
func buildSiteConfig(opts siteOptions) (*config.Config, error) {
	cfg, err := config.NewStaticSiteConfig(opts.address, opts.root, !opts.noListing)
	if err != nil {
		return nil, err
	}
	cfg.Logging.LogLevel = opts.logLevel
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	// Handler configuration is only checked when the handler is built.
	if _, err := config.ParseAndValidateStaticFileServerConfig(
		[]byte(cfg.Routing.Routes[0].HandlerConfig), ""); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run assembles the server for cfg and serves until ctx is cancelled or a
// termination signal arrives.
func run(ctx context.Context, cfg *config.Config) error {
	lg, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.CloseLogFiles()

	registry, err := handlers.NewRegistry()
	if err != nil {
		return fmt.Errorf("failed to register handlers: %w", err)
	}
	rtr, err := router.NewRouter(cfg.Routing.Routes, registry, lg, cfg.OriginalFilePath())
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}
	srv, err := server.NewServer(cfg, lg, rtr)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Run(ctx); err != nil {
		lg.Error("Server stopped with error", logger.LogFields{"error": err.Error()})
		return err
	}
	lg.Info("Server shut down gracefully", nil)
	return nil
}

func main() {
	opts, err := parseSiteArgs(os.Args[1:], os.Stderr, os.Getenv, os.Getwd)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "rangehttp: %v\n", err)
		os.Exit(2)
	}

	cfg, err := buildSiteConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rangehttp: %v\n", err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg); err != nil {
		fmt.Fprintf(os.Stderr, "rangehttp: %v\n", err)
		os.Exit(1)
	}
}
