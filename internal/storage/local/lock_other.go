//go:build !unix

package local

import "os"

// Advisory locking is unavailable here; coordination.redis_addr is the only
// cross-process guard.
func tryLock(*os.File) error { return nil }

func unlock(*os.File) error { return nil }
