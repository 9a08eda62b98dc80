// Package push delivers report notifications to mobile devices through FCM
// and to operator channels through shoutrrr.
package push

import (
	"context"
	"sync"

	"github.com/tphakala/wildwatch/internal/logger"
)

// DefaultChunkSize is the number of targets handled per batch
const DefaultChunkSize = 500

// Result summarizes one Send. DeadTokens lists targets the transport
// reported as permanently unregistered; the caller prunes them.
type Result struct {
	Success    int
	Failure    int
	DeadTokens []string
}

// Add merges other into r
func (r *Result) Add(other Result) {
	r.Success += other.Success
	r.Failure += other.Failure
	r.DeadTokens = append(r.DeadTokens, other.DeadTokens...)
}

// Sender is a push transport. Per-target failures are counted in Result;
// an error means the whole send could not be attempted.
type Sender interface {
	Name() string
	Send(ctx context.Context, targets []string, title, body string, data map[string]string) (Result, error)
}

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the push module logger
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("push")
	})
	return serviceLogger
}

func chunks(targets []string, size int) [][]string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var out [][]string
	for len(targets) > 0 {
		n := min(size, len(targets))
		out = append(out, targets[:n:n])
		targets = targets[n:]
	}
	return out
}
