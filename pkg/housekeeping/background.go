package housekeeping

import (
	"context"
	"time"

	"github.com/compilecache/ccache/pkg/localstore"
	"github.com/compilecache/ccache/pkg/logging"
)

const (
	// housekeepingInterval is the interval at which regular cleanup sweeps
	// run when driven by HousekeepRegularly.
	housekeepingInterval = 1 * time.Hour
)

// HousekeepRegularly provides regular cleanup sweeps over store at a
// standard interval. It is designed to be run as a background goroutine
// in a long-lived process (e.g. a build daemon holding the cache open
// across many invocations) and terminates when ctx is cancelled,
// mirroring the teacher's own HousekeepRegularly ticker-loop shape.
func HousekeepRegularly(ctx context.Context, store *localstore.Store, logger *logging.Logger) {
	logger.Info("Performing initial housekeeping")
	Housekeep(store, logger)

	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("Performing regular housekeeping")
			Housekeep(store, logger)
		}
	}
}
