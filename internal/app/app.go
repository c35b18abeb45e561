// Package app wires the document, catalog, dispatcher and transports
// together from a Config.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/bobmcallan/openapi-mcp/internal/common"
	"github.com/bobmcallan/openapi-mcp/internal/config"
	"github.com/bobmcallan/openapi-mcp/internal/dispatch"
	"github.com/bobmcallan/openapi-mcp/internal/handlers"
	"github.com/bobmcallan/openapi-mcp/internal/mcp"
	"github.com/bobmcallan/openapi-mcp/internal/metrics"
	"github.com/bobmcallan/openapi-mcp/internal/openapi"
	"github.com/bobmcallan/openapi-mcp/internal/specstore"
)

// App holds all application components and dependencies. Everything here
// is read-only once New returns.
type App struct {
	Config *config.Config
	Logger *common.Logger

	Document   *openapi.Document
	Index      *openapi.Index
	Tools      []openapi.Tool
	ToolErrors map[string]error
	Metrics    *metrics.Collector
	Dispatcher *dispatch.Dispatcher
	Router     *mcp.Router

	// HTTP handlers, set by InitHTTP
	MCPHandler        *mcp.Handler
	StreamableHandler http.Handler
	HealthHandler     *handlers.HealthHandler
	VersionHandler    *handlers.VersionHandler
}

// New loads the OpenAPI document named by cfg and builds the catalog.
func New(ctx context.Context, cfg *config.Config, logger *common.Logger) (*App, error) {
	doc, err := LoadDocument(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewWithDocument(ctx, cfg, logger, doc)
}

// NewWithDocument builds the application around an already loaded document.
func NewWithDocument(ctx context.Context, cfg *config.Config, logger *common.Logger, doc *openapi.Document) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Document: doc,
	}

	if err := doc.Validate(ctx); err != nil {
		logger.Warn().Str("error", err.Error()).Msg("OpenAPI document failed validation, continuing")
	}

	a.Index = openapi.NewIndex(doc, logger)
	a.initCatalog()

	var dispatchOpts []dispatch.Option
	var rpcRecorder mcp.RPCRecorder
	var dispatchRecorder dispatch.Recorder
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.NewCollector()
		dispatchOpts = append(dispatchOpts, dispatch.WithRecorder(a.Metrics))
		rpcRecorder = a.Metrics
		dispatchRecorder = a.Metrics
	}
	a.Dispatcher = dispatch.New(a.Index, cfg, logger, dispatchOpts...)

	var validator *mcp.Validator
	if cfg.MCP.ValidateArguments {
		v, err := mcp.NewValidator(a.Tools)
		if err != nil {
			logger.Warn().Str("error", err.Error()).Msg("some input schemas could not be compiled")
		}
		validator = v
	}

	a.Router = mcp.NewRouter(mcp.RouterOptions{
		ServerName:       cfg.MCP.Name,
		ServerVersion:    cfg.MCP.Version,
		ProtocolVersion:  cfg.MCP.ProtocolVersion,
		Tools:            a.Tools,
		ToolErrors:       a.ToolErrors,
		Dispatcher:       a.Dispatcher,
		Validator:        validator,
		Recorder:         rpcRecorder,
		DispatchRecorder: dispatchRecorder,
		Logger:           logger,
	})

	if !cfg.HasCredentials() {
		logger.Warn().Msg("API_USERNAME and API_PASSWORD are not set, tool calls will fail")
	}

	logger.Info().
		Int("operations", a.Index.Len()).
		Int("tools", len(a.Tools)).
		Int("skipped", len(a.ToolErrors)).
		Str("base_url", cfg.API.BaseURL).
		Msg("application initialization complete")

	return a, nil
}

// initCatalog builds the tool catalog. Operations whose schemas cannot be
// resolved are logged and left out.
func (a *App) initCatalog() {
	tools, err := openapi.BuildCatalog(a.Index, openapi.NewResolver(a.Document))
	a.Tools = tools
	a.ToolErrors = openapi.ToolErrors(err)

	names := make([]string, 0, len(a.ToolErrors))
	for name := range a.ToolErrors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a.Logger.Warn().
			Str("tool", name).
			Str("error", a.ToolErrors[name].Error()).
			Msg("operation left out of the tool catalog")
	}
}

// InitHTTP prepares the HTTP transport. A bearer token is generated when
// none is configured.
func (a *App) InitHTTP() error {
	generated, err := a.Config.EnsureToken()
	if err != nil {
		return err
	}
	if generated {
		a.Logger.Warn().
			Str("token", mcp.MaskToken(a.Config.MCP.Token)).
			Msg("MCP_TOKEN not set, generated a random bearer token")
	}

	var handlerOpts []mcp.HandlerOption
	if a.Metrics != nil {
		handlerOpts = append(handlerOpts, mcp.WithStreamObserver(a.Metrics))
	}
	a.MCPHandler = mcp.NewHandler(a.Router, a.Config.MCP.Token, a.Config.MCP.KeepaliveInterval.Duration, a.Logger, handlerOpts...)
	a.StreamableHandler = mcp.NewStreamableHandler(a.Router, a.Config.MCP.Token)
	a.HealthHandler = handlers.NewHealthHandler(a.Logger, a.Config.MCP.Name, len(a.Tools))
	a.VersionHandler = handlers.NewVersionHandler()

	a.Logger.Debug().Msg("HTTP handlers initialized")
	return nil
}

// LoadDocument reads the OpenAPI document from the configured source.
func LoadDocument(ctx context.Context, cfg *config.Config, logger *common.Logger) (*openapi.Document, error) {
	switch cfg.Spec.Source {
	case "", "file":
		if openapi.IsURL(cfg.Spec.Path) {
			logger.Info().Str("url", cfg.Spec.Path).Msg("loading OpenAPI document")
			client := &http.Client{Timeout: cfg.API.Timeout.Duration}
			return openapi.LoadURL(ctx, client, cfg.Spec.Path)
		}
		logger.Info().Str("path", cfg.Spec.Path).Msg("loading OpenAPI document")
		return openapi.LoadFile(ctx, cfg.Spec.Path)

	case "postgres":
		store, err := specstore.Open(ctx, cfg.Storage.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return loadFromStore(ctx, store, cfg.Spec.Name, logger)

	default:
		return nil, fmt.Errorf("unknown spec source %q (expected file or postgres)", cfg.Spec.Source)
	}
}

// specLoader reads stored spec content by name.
type specLoader interface {
	Load(ctx context.Context, name string) ([]byte, error)
}

func loadFromStore(ctx context.Context, store specLoader, name string, logger *common.Logger) (*openapi.Document, error) {
	logger.Info().Str("name", name).Msg("loading OpenAPI document from postgres")
	data, err := store.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	doc, err := openapi.Load(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored spec %s: %w", name, err)
	}
	return doc, nil
}

// Close releases application resources.
func (a *App) Close() error {
	return nil
}
