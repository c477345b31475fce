package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateCache_AnyKnownTrueWhenOneFactMatches(t *testing.T) {
	gc := NewGateCache()
	known, err := gc.AnyKnown([]string{"fact_1", "fact_2"}, map[string]bool{"fact_2": true})
	require.NoError(t, err)
	assert.True(t, known)
}

func TestGateCache_AnyKnownFalseWhenNoFactMatches(t *testing.T) {
	gc := NewGateCache()
	known, err := gc.AnyKnown([]string{"fact_1", "fact_2"}, map[string]bool{"fact_3": true})
	require.NoError(t, err)
	assert.False(t, known)
}

func TestGateCache_AnyKnownEmptyGateIsAlwaysTrue(t *testing.T) {
	gc := NewGateCache()
	known, err := gc.AnyKnown(nil, map[string]bool{})
	require.NoError(t, err)
	assert.True(t, known)
}

func TestGateCache_CompileCachesBySourceText(t *testing.T) {
	gc := NewGateCache()
	source := AnyFactKnownSource([]string{"fact_1"})

	first, err := gc.Compile(source)
	require.NoError(t, err)
	second, err := gc.Compile(source)
	require.NoError(t, err)

	assert.Same(t, first, second, "identical source text must reuse the compiled program")
}

func TestAnyFactKnownSource_EmptyFactIDsIsAlwaysTrue(t *testing.T) {
	assert.Equal(t, "true", AnyFactKnownSource(nil))
}

func TestAnyFactKnownSource_ComposesMultipleFactsWithOr(t *testing.T) {
	source := AnyFactKnownSource([]string{"fact_1", "fact_2"})
	assert.Equal(t, `knownFacts["fact_1"] or knownFacts["fact_2"]`, source)
}
