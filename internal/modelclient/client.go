// Package modelclient is the generative-model collaborator (§6): a
// callable that takes a system/user prompt and generation parameters
// and returns a string that must parse as JSON, plus the retry and
// robust-parsing machinery built on top of it.
package modelclient

import (
	"context"
	"time"

	"github.com/caseworks/mysteryforge/internal/model"
)

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in the prompt sent to the model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is a single generative call (§6).
type GenerateRequest struct {
	StageName   string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Model       string
	Timeout     time.Duration
}

// GenerateResponse is the raw model output plus any preserved
// reasoning/prose preamble (§9: "reasoning text before JSON is
// preserved as a separate field only for logging").
type GenerateResponse struct {
	RawText   string
	Reasoning string
}

// Client is the generative model collaborator. Implementations may
// call any upstream provider; the pipeline only depends on this
// interface (§6).
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// AliasedClient resolves a per-stage model alias (from RunInput's
// modelConfig, §6) before delegating to an underlying Client.
type AliasedClient struct {
	Default Client
	Aliases map[string]Client
}

// NewAliasedClient builds a router over per-alias clients, falling
// back to def when a stage has no override.
func NewAliasedClient(def Client, aliases map[string]Client) *AliasedClient {
	return &AliasedClient{Default: def, Aliases: aliases}
}

// Generate dispatches to the client registered for req.StageName, or
// the default client if no alias was configured for that stage.
func (a *AliasedClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if c, ok := a.Aliases[req.StageName]; ok {
		return c.Generate(ctx, req)
	}
	return a.Default.Generate(ctx, req)
}

// aliasOverrideClient applies a ModelAlias's temperature and max-token
// defaults to every request before delegating, so an alias can tune
// sampling independent of whatever defaults the calling stage passed.
type aliasOverrideClient struct {
	inner       Client
	temperature float64
	maxTokens   int
}

func (c *aliasOverrideClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if c.temperature > 0 {
		req.Temperature = c.temperature
	}
	if c.maxTokens > 0 {
		req.MaxTokens = c.maxTokens
	}
	return c.inner.Generate(ctx, req)
}

// NewProviderForAlias builds the Client for one RunInput.ModelConfig
// entry (§6): the deployment's own API credentials, but the alias's
// model name and sampling defaults.
func NewProviderForAlias(apiKey, baseURL string, alias model.ModelAlias) (Client, error) {
	provider, err := NewHTTPProvider(apiKey, baseURL, alias.Model)
	if err != nil {
		return nil, err
	}
	return &aliasOverrideClient{inner: provider, temperature: alias.Temperature, maxTokens: alias.MaxTokens}, nil
}
