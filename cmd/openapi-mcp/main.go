package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bobmcallan/openapi-mcp/internal/app"
	"github.com/bobmcallan/openapi-mcp/internal/common"
	"github.com/bobmcallan/openapi-mcp/internal/config"
	"github.com/bobmcallan/openapi-mcp/internal/mcp"
	"github.com/bobmcallan/openapi-mcp/internal/server"
)

// configPaths is a custom flag type that allows multiple -config flags.
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	serverPort  = flag.Int("port", 0, "Server port (overrides config)")
	serverPortP = flag.Int("p", 0, "Server port (shorthand)")
	specPath    = flag.String("spec", "", "OpenAPI document path or URL (overrides config)")
	stdio       = flag.Bool("stdio", false, "Serve JSON-RPC over stdin/stdout instead of HTTP")
	showVersion = flag.Bool("version", false, "Print version information")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	common.LoadVersionFromFile()

	if *showVersion {
		fmt.Printf("openapi-mcp version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	finalPort := *serverPort
	if *serverPortP != 0 {
		finalPort = *serverPortP
	}

	if len(configFiles) == 0 {
		for _, path := range configSearchPaths() {
			if _, err := os.Stat(path); err == nil {
				configFiles = append(configFiles, path)
				break
			}
		}
	}

	cfg, err := config.LoadFromFiles(configFiles...)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	config.ApplyFlagOverrides(cfg, finalPort, *specPath)

	logger := common.NewLoggerFromConfig(cfg.Logging)
	logger.Info().
		Str("version", common.GetVersion()).
		Str("spec_source", cfg.Spec.Source).
		Str("spec", cfg.Spec.Path).
		Str("config_files", fmt.Sprintf("%v", configFiles)).
		Bool("stdio", *stdio).
		Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error().Str("error", err.Error()).Msg("failed to initialize application")
		os.Exit(1)
	}
	defer application.Close()

	if *stdio {
		err = runStdio(ctx, application)
	} else {
		err = runHTTP(ctx, application)
	}
	if err != nil {
		logger.Error().Str("error", err.Error()).Msg("server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}

// runStdio serves until stdin closes or a signal arrives.
func runStdio(ctx context.Context, a *app.App) error {
	a.Logger.Info().Int("tools", len(a.Tools)).Msg("serving MCP over stdio")
	err := mcp.ServeStdio(ctx, a.Router, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runHTTP serves until a signal arrives, then shuts down gracefully.
func runHTTP(ctx context.Context, a *app.App) error {
	if err := a.InitHTTP(); err != nil {
		return err
	}
	srv := server.New(a)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	a.Logger.Info().
		Str("url", fmt.Sprintf("http://%s", a.Config.Addr())).
		Int("tools", len(a.Tools)).
		Msg("server ready")

	return g.Wait()
}

// configSearchPaths returns TOML files to auto-discover (first match wins).
// Binary-relative paths are tried before the working directory.
func configSearchPaths() []string {
	candidates := []string{
		"openapi-mcp.toml",
		"config/openapi-mcp.toml",
	}

	exe, err := os.Executable()
	if err != nil {
		return candidates
	}
	binDir := filepath.Dir(exe)

	paths := []string{
		filepath.Join(binDir, "openapi-mcp.toml"),
		filepath.Join(binDir, "config", "openapi-mcp.toml"),
	}
	paths = append(paths, candidates...)

	seen := make(map[string]bool, len(paths))
	deduped := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		deduped = append(deduped, p)
	}
	return deduped
}
