// Command import-spec stores an OpenAPI document in Postgres so that
// openapi-mcp can load it with spec.source = "postgres".
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bobmcallan/openapi-mcp/internal/common"
	"github.com/bobmcallan/openapi-mcp/internal/config"
	"github.com/bobmcallan/openapi-mcp/internal/importer"
	"github.com/bobmcallan/openapi-mcp/internal/specstore"
)

func main() {
	configFile := flag.String("config", "", "Configuration file path")
	file := flag.String("file", "", "OpenAPI document to import (required)")
	name := flag.String("name", "", "Name to store the spec under (default: file name)")
	dsn := flag.String("dsn", "", "Postgres DSN (overrides config and DATABASE_URL)")
	list := flag.Bool("list", false, "List stored specs and exit")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *dsn != "" {
		cfg.Storage.Postgres.DSN = *dsn
	}
	logger := common.NewLoggerFromConfig(cfg.Logging)

	if *file == "" && !*list {
		fmt.Fprintln(os.Stderr, "usage: import-spec -file openapi.yaml [-name name] [-dsn postgres://...]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := specstore.Open(ctx, cfg.Storage.Postgres.DSN)
	if err != nil {
		logger.Error().Str("error", err.Error()).Msg("failed to connect to spec store")
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		logger.Error().Str("error", err.Error()).Msg("migration failed")
		os.Exit(1)
	}

	if *list {
		specs, err := store.List(ctx)
		if err != nil {
			logger.Error().Str("error", err.Error()).Msg("failed to list specs")
			os.Exit(1)
		}
		for _, s := range specs {
			fmt.Printf("%-30s %-5s active=%-5t updated=%s\n", s.Name, s.Format, s.Active, s.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return
	}

	if err := importer.ImportSpec(ctx, store, logger, *file, *name); err != nil {
		logger.Error().Str("error", err.Error()).Msg("import failed")
		os.Exit(1)
	}
}
