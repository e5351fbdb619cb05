package adapters

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/ZanzyTHEbar/tollgate"
	"github.com/ZanzyTHEbar/tollgate/internal/prompt"
)

// GenkitOracleAdapter implements tollgate.Oracle by executing a named Genkit
// prompt against the model configured for it. The prompt receives the user
// query plus a rendered digest of the priced catalog and is expected to reply
// with text containing one JSON plan object.
type GenkitOracleAdapter struct {
	registry   *prompt.Registry
	promptName string
	cache      tollgate.Cache
}

// OracleOption represents an option for configuring a GenkitOracleAdapter.
type OracleOption func(*GenkitOracleAdapter)

// WithPromptName overrides the prompt the adapter executes.
func WithPromptName(name string) OracleOption {
	return func(adapter *GenkitOracleAdapter) {
		if name != "" {
			adapter.promptName = name
		}
	}
}

// WithResponseCache caches raw oracle responses keyed by query and catalog
// digest, so a repeated identical request skips the model call entirely.
func WithResponseCache(cache tollgate.Cache) OracleOption {
	return func(adapter *GenkitOracleAdapter) {
		adapter.cache = cache
	}
}

// NewGenkitOracleAdapter creates an oracle backed by the given prompt
// registry. By default it executes the bundled plan-generation prompt.
func NewGenkitOracleAdapter(registry *prompt.Registry, options ...OracleOption) *GenkitOracleAdapter {
	adapter := &GenkitOracleAdapter{
		registry:   registry,
		promptName: prompt.OraclePromptName,
	}
	for _, option := range options {
		option(adapter)
	}
	return adapter
}

// Complete implements the tollgate.Oracle interface.
func (a *GenkitOracleAdapter) Complete(ctx context.Context, req tollgate.OracleRequest) (string, error) {
	if a.registry == nil {
		return "", tollgate.NewConfigurationError("oracle prompt registry is not configured", nil)
	}

	cacheKey := a.cacheKey(req)
	if a.cache != nil {
		if cached, found := a.cache.Get(ctx, cacheKey); found {
			if text, ok := cached.(string); ok {
				return text, nil
			}
		}
	}

	input := map[string]interface{}{
		"query": req.Query,
		"tools": renderToolLines(req.Tools),
	}

	resp, err := a.registry.ExecutePrompt(ctx, a.promptName, input)
	if err != nil {
		return "", tollgate.NewPlanGenerationError(fmt.Errorf("oracle prompt execution failed: %w", err))
	}

	text := resp.Text()
	if a.cache != nil && text != "" {
		a.cache.Set(ctx, cacheKey, text)
	}
	return text, nil
}

// cacheKey creates a stable key from the parts of the request that determine
// the response.
func (a *GenkitOracleAdapter) cacheKey(req tollgate.OracleRequest) string {
	raw, err := json.Marshal(req)
	if err != nil {
		log.Printf("adapters: failed to marshal oracle request for cache key: %v", err)
		// Fallback to a simpler key if marshalling fails
		return "oracle:" + req.Query
	}

	hasher := sha1.New()
	hasher.Write(raw)
	return "oracle:" + hex.EncodeToString(hasher.Sum(nil))
}

// renderToolLines flattens the catalog digest into the one-tool-per-line form
// the planning prompt embeds.
func renderToolLines(tools []tollgate.ToolDigest) string {
	lines := make([]string, 0, len(tools))
	for _, tool := range tools {
		lines = append(lines, fmt.Sprintf("- %s::%s (price %s): %s", tool.Service, tool.Name, tool.Price, tool.Description))
	}
	return strings.Join(lines, "\n")
}
