package scorer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/recrank/internal/domain"
)

func TestLoader_UnloadedReturnsServiceUnavailable(t *testing.T) {
	l := NewLoader(8)
	assert.False(t, l.Loaded())

	_, err := l.BatchScore(context.Background(), [][]float32{make([]float32, FeatureDim)})
	require.Error(t, err)
	assert.Equal(t, domain.KindServiceUnavailable, domain.KindOf(err))
}

func TestLoader_ReloadThenScore(t *testing.T) {
	l := NewLoader(8)
	require.NoError(t, l.Reload(context.Background(), "v1"))
	assert.True(t, l.Loaded())
	assert.Equal(t, "v1", l.ActiveModelName())

	scores, err := l.BatchScore(context.Background(), [][]float32{make([]float32, FeatureDim), make([]float32, FeatureDim)})
	require.NoError(t, err)
	require.Len(t, scores, 2)
	for _, s := range scores {
		assert.GreaterOrEqual(t, s, float32(0))
		assert.LessOrEqual(t, s, float32(1))
	}
}

func TestWideDeepScorer_Deterministic(t *testing.T) {
	s1 := NewWideDeepScorer("m", 10, 4)
	s2 := NewWideDeepScorer("m", 10, 4)
	row := make([]float32, 10)
	for i := range row {
		row[i] = float32(i) / 10
	}
	out1, err := s1.BatchScore(context.Background(), [][]float32{row})
	require.NoError(t, err)
	out2, err := s2.BatchScore(context.Background(), [][]float32{row})
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
}
