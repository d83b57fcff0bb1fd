// Package clockutil provides the C1 Clock capability: a thin, injectable
// wrapper over wall time so request handlers and tests can swap in a fixed
// instant without threading time.Now() through every call site.
package clockutil

import "time"

// System is the production domain.Clock implementation.
type System struct{}

// Now returns the current wall-clock time.
func (System) Now() time.Time { return time.Now() }
