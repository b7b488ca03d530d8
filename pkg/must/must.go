// Package must collects small "do this, log on failure" helpers for the
// best-effort cleanup paths spec.md calls out as non-fatal: a failed
// temporary-file removal after an aborted atomic write, a failed sidecar
// unlink during eviction, and similar cases where the operation has
// already succeeded or failed on its own terms and a second failure while
// cleaning up is worth a warning, never a propagated error (spec.md §7
// "Cache correctness is never sacrificed to report a non-fatal error").
package must

import (
	"fmt"
	"io"
	"os"

	"github.com/compilecache/ccache/pkg/logging"
)

// Close closes c, logging (rather than returning) any failure.
func Close(c io.Closer, logger *logging.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn(fmt.Errorf("unable to close: %w", err))
	}
}

// OSRemove removes name, logging any failure other than the file already
// being absent.
func OSRemove(name string, logger *logging.Logger) {
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		logger.Warn(fmt.Errorf("unable to remove %q: %w", name, err))
	}
}

// IOCopy copies from src to dst, logging any failure.
func IOCopy(dst io.Writer, src io.Reader, logger *logging.Logger) {
	if _, err := io.Copy(dst, src); err != nil {
		logger.Warn(fmt.Errorf("unable to copy: %w", err))
	}
}

// Succeed logs err, if non-nil, as a failure to complete task. It's used
// at call sites where an operation is inherently best-effort and the
// caller has no meaningful recovery beyond recording the failure.
func Succeed(err error, task string, logger *logging.Logger) {
	if err != nil {
		logger.Warn(fmt.Errorf("unable to %s: %w", task, err))
	}
}
