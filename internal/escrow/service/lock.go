package service

import "sync"

// nonReentrantLock is a plain mutex named for the guarantee the engine needs:
// the holder must never call back into an entry point that acquires it. Every
// exit path, including error exits, releases it via defer.
type nonReentrantLock struct {
	sync.Mutex
}
