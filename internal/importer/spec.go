// Package importer copies OpenAPI documents from disk into the spec store.
package importer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bobmcallan/openapi-mcp/internal/common"
	"github.com/bobmcallan/openapi-mcp/internal/openapi"
)

// Saver persists a spec under a name.
type Saver interface {
	Save(ctx context.Context, name, format string, content []byte) error
}

// ImportSpec reads the document at path, checks that it loads, and saves it
// under name. An empty name falls back to the file name without extension.
func ImportSpec(ctx context.Context, saver Saver, logger *common.Logger, path, name string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read spec file %s: %w", path, err)
	}

	doc, err := openapi.Load(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to parse spec file %s: %w", path, err)
	}
	if err := doc.Validate(ctx); err != nil {
		logger.Warn().Str("path", path).Str("error", err.Error()).Msg("spec does not validate, importing anyway")
	}

	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	format := DetectFormat(path, data)

	if err := saver.Save(ctx, name, format, data); err != nil {
		return err
	}
	logger.Info().
		Str("name", name).
		Str("format", format).
		Int("operations", len(doc.Routes)).
		Int("bytes", len(data)).
		Msg("spec imported")
	return nil
}

// DetectFormat returns "json" or "yaml" from the extension, or from the
// first non-space byte when the extension says neither.
func DetectFormat(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return "json"
	}
	return "yaml"
}
