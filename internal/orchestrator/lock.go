package orchestrator

import "sync"

// LockManager manages per-stack deployment locks to prevent concurrent
// deployments.
//
// This uses a two-level locking strategy:
// 1. The outer mutex (mu) protects the locks map itself from concurrent access
// 2. Each stack has its own mutex for actual deployment locking
//
// This design allows different stacks to deploy concurrently while ensuring
// that only one deployment can run for a given stack at a time.
type LockManager struct {
	mu    sync.Mutex             // Protects the locks map
	locks map[string]*sync.Mutex // Per-stack locks
}

// NewLockManager creates a new lock manager
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// TryLock attempts to acquire a deployment lock for the given stack.
//
// Returns true if the lock was successfully acquired (deployment can proceed).
// Returns false if the stack is already locked (another deployment is in progress).
//
// This method is non-blocking - it returns immediately whether or not the lock
// was acquired. A contended acquisition is a rejection, never a queue: the
// caller fails the request instead of waiting.
func (lm *LockManager) TryLock(stackName string) bool {
	// First, acquire the map lock to safely access/create the stack lock
	lm.mu.Lock()
	lock, exists := lm.locks[stackName]
	if !exists {
		// Create a new lock for this stack on first use
		lock = &sync.Mutex{}
		lm.locks[stackName] = lock
	}
	lm.mu.Unlock()

	// Try to acquire the stack-specific lock (non-blocking)
	return lock.TryLock()
}

// Unlock releases the deployment lock for the given stack.
//
// This should be called after a deployment run reaches a terminal state.
// Typically used with defer: defer lockManager.Unlock(stackName)
//
// It is safe to call this even if the lock doesn't exist (no-op).
func (lm *LockManager) Unlock(stackName string) {
	lm.mu.Lock()
	lock := lm.locks[stackName]
	lm.mu.Unlock()

	if lock != nil {
		lock.Unlock()
	}
}
