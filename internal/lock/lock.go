//go:build !deadlock_test

// Package lock provides the mutex types used across repo-sync. Tests built with
// the `deadlock_test` tag swap them for go-deadlock implementations.
package lock

import "sync"

type Mutex struct {
	sync.Mutex
}

type RWMutex struct {
	sync.RWMutex
}
