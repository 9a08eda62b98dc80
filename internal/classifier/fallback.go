package classifier

import (
	"context"

	"github.com/tphakala/wildwatch/internal/logger"
)

// FailureObserver is notified when the primary classifier fails
type FailureObserver func(err error)

// FallbackClassifier uses Primary and, when it fails, Fallback. Errors from
// the primary are logged and never returned while a fallback exists.
type FallbackClassifier struct {
	Primary   Classifier
	Fallback  Classifier
	OnFailure FailureObserver
}

// Predict implements Classifier
func (f *FallbackClassifier) Predict(ctx context.Context, img Image) (*Result, error) {
	return f.run(ctx, img, Classifier.Predict)
}

// PredictGrouped implements Classifier
func (f *FallbackClassifier) PredictGrouped(ctx context.Context, img Image) (*Result, error) {
	return f.run(ctx, img, Classifier.PredictGrouped)
}

func (f *FallbackClassifier) run(ctx context.Context, img Image, call func(Classifier, context.Context, Image) (*Result, error)) (*Result, error) {
	if f.Primary != nil {
		res, err := call(f.Primary, ctx, img)
		if err == nil {
			return res, nil
		}
		if f.Fallback == nil {
			return nil, err
		}
		if f.OnFailure != nil {
			f.OnFailure(err)
		}
		GetLogger().Warn("classifier unavailable, using heuristic fallback",
			logger.Error(err),
			logger.String("filename", img.Filename))
	}
	if f.Fallback == nil {
		return &Result{}, nil
	}
	return call(f.Fallback, ctx, img)
}
