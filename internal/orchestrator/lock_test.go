package orchestrator

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockManager_BasicLocking(t *testing.T) {
	lm := NewLockManager()

	// First lock should succeed
	if !lm.TryLock("stack1") {
		t.Fatal("First TryLock should succeed")
	}

	// Second lock on same stack should fail
	if lm.TryLock("stack1") {
		t.Error("Second TryLock on same stack should fail")
	}

	// Unlock
	lm.Unlock("stack1")

	// Lock should succeed again after unlock
	if !lm.TryLock("stack1") {
		t.Error("TryLock should succeed after unlock")
	}

	lm.Unlock("stack1")
}

func TestLockManager_MultipleStacks(t *testing.T) {
	lm := NewLockManager()

	// Multiple different stacks should be able to lock concurrently
	if !lm.TryLock("stack1") {
		t.Error("stack1 lock should succeed")
	}

	if !lm.TryLock("stack2") {
		t.Error("stack2 lock should succeed")
	}

	// But second lock on any stack should fail
	if lm.TryLock("stack1") {
		t.Error("Second lock on stack1 should fail")
	}

	if lm.TryLock("stack2") {
		t.Error("Second lock on stack2 should fail")
	}

	lm.Unlock("stack1")
	lm.Unlock("stack2")

	if !lm.TryLock("stack1") {
		t.Error("stack1 should be lockable after unlock")
	}
	lm.Unlock("stack1")
}

func TestLockManager_UnlockNonExistent(t *testing.T) {
	lm := NewLockManager()

	// Unlocking a non-existent lock should not panic
	lm.Unlock("nonexistent")

	// Should still be able to lock it afterwards
	if !lm.TryLock("nonexistent") {
		t.Error("Should be able to lock after unlocking non-existent")
	}

	lm.Unlock("nonexistent")
}

func TestLockManager_ConcurrentLockAttempts(t *testing.T) {
	lm := NewLockManager()

	stackName := "concurrent-stack"
	successCount := int32(0)
	failureCount := int32(0)

	// Launch multiple goroutines trying to lock the same stack
	const goroutineCount = 100
	var wg sync.WaitGroup
	wg.Add(goroutineCount)

	for i := 0; i < goroutineCount; i++ {
		go func() {
			defer wg.Done()

			if lm.TryLock(stackName) {
				atomic.AddInt32(&successCount, 1)
				// Hold lock briefly
				time.Sleep(10 * time.Millisecond)
				lm.Unlock(stackName)
			} else {
				atomic.AddInt32(&failureCount, 1)
			}
		}()
	}

	wg.Wait()

	// With 100 concurrent attempts holding the lock for 10ms, some must
	// have been rejected and at least one must have succeeded.
	if failureCount == 0 {
		t.Error("Expected at least some lock attempts to fail due to concurrency")
	}

	if successCount == 0 {
		t.Error("Expected at least one lock attempt to succeed")
	}

	if int(successCount+failureCount) != goroutineCount {
		t.Errorf("Success + failure count (%d + %d = %d) should equal goroutine count (%d)",
			successCount, failureCount, successCount+failureCount, goroutineCount)
	}
}

func TestLockManager_ConcurrentDifferentStacks(t *testing.T) {
	lm := NewLockManager()

	const stackCount = 50
	const attemptsPerStack = 10

	var wg sync.WaitGroup
	successCounts := make([]int32, stackCount)

	for i := 0; i < stackCount; i++ {
		stackName := string(rune('A' + i))

		for j := 0; j < attemptsPerStack; j++ {
			wg.Add(1)
			go func(stackIndex int, name string) {
				defer wg.Done()

				if lm.TryLock(name) {
					atomic.AddInt32(&successCounts[stackIndex], 1)
					time.Sleep(1 * time.Millisecond)
					lm.Unlock(name)
				}
			}(i, stackName)
		}
	}

	wg.Wait()

	// Each stack should have had at least one successful lock
	for i, count := range successCounts {
		if count == 0 {
			t.Errorf("Stack %c had no successful locks", rune('A'+i))
		}
	}
}

func BenchmarkLockManager_TryLock(b *testing.B) {
	lm := NewLockManager()
	stackName := "bench-stack"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		lm.TryLock(stackName)
		lm.Unlock(stackName)
	}
}
