package scorer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/recrank/internal/domain"
)

// FeatureDim is the fixed width of the concatenated viewer+item+context
// feature row the pipeline assembles before calling BatchScore, set once at
// Scorer load time (spec.md §4.5).
const FeatureDim = domain.DimViewerVector + domain.DimItemVector + ContextDim

// ContextDim is the width of the projected context feature block appended
// after the viewer and item vectors.
const ContextDim = 8

// Loader atomically swaps the active Scorer under a read-write lock. Reads
// dominate; a swap takes the write lock briefly and a failed load leaves the
// prior Scorer in place, matching the circuit-breaker-style mutex-guarded
// state pattern used elsewhere in this codebase.
type Loader struct {
	mu         sync.RWMutex
	active     domain.Scorer
	modelName  string
	loadedAt   time.Time
	hiddenSize int
}

// NewLoader constructs a Loader with no scorer loaded.
func NewLoader(hiddenSize int) *Loader {
	return &Loader{hiddenSize: hiddenSize}
}

// BatchScore delegates to the currently active scorer. Returns
// ErrScorerUnavailable if none has ever loaded successfully.
func (l *Loader) BatchScore(ctx domain.Context, features [][]float32) ([]float32, error) {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()
	if active == nil {
		return nil, domain.NewError(domain.KindServiceUnavailable, "scorer not loaded", domain.ErrScorerUnavailable)
	}
	return active.BatchScore(ctx, features)
}

// Loaded reports whether a scorer is currently active.
func (l *Loader) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active != nil
}

// Reload builds a new scorer aside and swaps it in under the write lock. A
// build failure leaves the previously active scorer untouched.
func (l *Loader) Reload(ctx domain.Context, modelName string) error {
	next := NewWideDeepScorer(modelName, FeatureDim, l.hiddenSize)
	if next == nil {
		return fmt.Errorf("op=scorer.Reload: build failed for model %s", modelName)
	}

	l.mu.Lock()
	l.active = next
	l.modelName = modelName
	l.loadedAt = time.Now()
	l.mu.Unlock()

	slog.Info("scorer reloaded", slog.String("model", modelName))
	return nil
}

// ActiveModelName reports the name of the currently loaded model, or "" if
// none is loaded.
func (l *Loader) ActiveModelName() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.modelName
}
