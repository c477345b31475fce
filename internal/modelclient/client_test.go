package modelclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseworks/mysteryforge/internal/model"
)

type stubClient struct {
	name string
	resp *GenerateResponse
}

func (s *stubClient) Generate(_ context.Context, _ GenerateRequest) (*GenerateResponse, error) {
	return s.resp, nil
}

func TestAliasedClient_RoutesByStageName(t *testing.T) {
	def := &stubClient{resp: &GenerateResponse{RawText: "default"}}
	aliased := &stubClient{resp: &GenerateResponse{RawText: "aliased"}}

	client := NewAliasedClient(def, map[string]Client{"generateTemplate": aliased})

	resp, err := client.Generate(context.Background(), GenerateRequest{StageName: "generateTemplate"})
	require.NoError(t, err)
	assert.Equal(t, "aliased", resp.RawText)
}

func TestAliasedClient_FallsBackToDefaultForUnaliasedStage(t *testing.T) {
	def := &stubClient{resp: &GenerateResponse{RawText: "default"}}
	aliased := &stubClient{resp: &GenerateResponse{RawText: "aliased"}}

	client := NewAliasedClient(def, map[string]Client{"generateTemplate": aliased})

	resp, err := client.Generate(context.Background(), GenerateRequest{StageName: "generateEvents"})
	require.NoError(t, err)
	assert.Equal(t, "default", resp.RawText)
}

func TestNewProviderForAlias_RejectsMissingAPIKey(t *testing.T) {
	_, err := NewProviderForAlias("", "", model.ModelAlias{Model: "fast"})
	require.Error(t, err)
}

func TestNewProviderForAlias_OverridesTemperatureAndMaxTokens(t *testing.T) {
	client, err := NewProviderForAlias("test-key", "https://example.invalid/v1", model.ModelAlias{
		Model:       "fast",
		Temperature: 0.2,
		MaxTokens:   512,
	})
	require.NoError(t, err)

	override, ok := client.(*aliasOverrideClient)
	require.True(t, ok)
	assert.Equal(t, 0.2, override.temperature)
	assert.Equal(t, 512, override.maxTokens)

	provider, ok := override.inner.(*HTTPProvider)
	require.True(t, ok)
	assert.Equal(t, "fast", provider.model)
}
