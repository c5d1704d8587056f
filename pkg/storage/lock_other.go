//go:build !unix && !windows

package storage

import "context"

// Platforms without file locking fall back to in-process serialization.
func lockFile(context.Context, string) (func(), error) {
	return func() {}, nil
}
