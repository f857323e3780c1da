package localdb

import "errors"

// LockFile is the advisory lock taken in the data directory while the local
// database is being migrated, reset or created.
const LockFile = ".cloudsync.lock"

// ErrLocked is returned by LockDir when another process holds the lock.
var ErrLocked = errors.New("another cloudsync process is migrating or resetting the local database")

// Locker acquires the data directory lock and returns its release function.
type Locker func(dir string) (func(), error)
