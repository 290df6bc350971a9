//go:build !linux

package chunk

import "os"

// adviseSequential is a no-op outside Linux.
func adviseSequential(*os.File) {}

// adviseMapped is a no-op outside Linux.
func adviseMapped([]byte) {}
