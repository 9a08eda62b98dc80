// Package classifier wraps the species classification capability: a remote
// model-serving endpoint and a filename-hint heuristic used when the model
// is unavailable.
package classifier

import (
	"context"
	"sync"

	"github.com/tphakala/wildwatch/internal/logger"
	"github.com/tphakala/wildwatch/internal/taxonomy"
)

// Image is the input to a prediction
type Image struct {
	Data     []byte
	Filename string
}

// Result is a prediction. Labels are sorted by descending probability.
// Heuristic marks output that did not come from a model and must not be
// presented as authoritative.
type Result struct {
	Labels    []taxonomy.LabelProb
	Groups    []taxonomy.GroupScore
	Heuristic bool
	Source    string
}

// Top returns the most probable label
func (r *Result) Top() (taxonomy.LabelProb, bool) {
	if r == nil {
		return taxonomy.LabelProb{}, false
	}
	return taxonomy.Top(r.Labels)
}

// Empty reports whether the result carries no label
func (r *Result) Empty() bool {
	return r == nil || len(r.Labels) == 0
}

// Classifier predicts species for an image. Implementations are safe for
// concurrent use.
type Classifier interface {
	// Predict returns the top-K labels
	Predict(ctx context.Context, img Image) (*Result, error)
	// PredictGrouped returns labels plus ambiguity groups
	PredictGrouped(ctx context.Context, img Image) (*Result, error)
}

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the classifier module logger
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("classifier")
	})
	return serviceLogger
}
