// Package loadengine applies tabular batches to a relational store
// incrementally and idempotently. The engine lives under internal/; this
// package only carries the release version.
package loadengine

import (
	"github.com/maloquacious/semver"
)

var (
	version = semver.Version{
		Major: 0,
		Minor: 3,
		Patch: 0,
		Build: semver.Commit(),
	}
)

// Version returns the release version of loadengine.
func Version() semver.Version {
	return version
}
