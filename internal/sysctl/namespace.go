package sysctl

import (
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

// Enter transiently switches the calling thread's active network namespace
// to the one reachable via nsHandlePath
// (typically /proc/<pid>/ns/net for a process known to be resident in the
// target namespace), run fn, then restore the daemon's original namespace.
//
// Namespace switches are a per-OS-thread property in Linux, so this locks
// the calling goroutine to its OS thread for the duration of the call --
// the supervisor's single event-loop goroutine is the only caller, so this
// never contends with other namespace switches. Read and Write calls made
// from within fn observe the target namespace's /proc/sys.
func Enter(nsHandlePath string, fn func() error) error {
	runtime.LockOSThread()

	self, err := os.Open("/proc/self/ns/net")
	if err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("open current netns handle: %w", err)
	}
	defer self.Close()

	target, err := os.Open(nsHandlePath)
	if err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("open target netns handle %s: %w", nsHandlePath, err)
	}
	defer target.Close()

	if err := unix.Setns(int(target.Fd()), unix.CLONE_NEWNET); err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("enter netns %s: %w", nsHandlePath, err)
	}

	fnErr := fn()

	if err := unix.Setns(int(self.Fd()), unix.CLONE_NEWNET); err != nil {
		// The thread can no longer be trusted to be back in the
		// daemon's namespace; leave it locked so the runtime
		// terminates it instead of returning it to the pool.
		if fnErr != nil {
			return fmt.Errorf("restore original netns: %w (fn also failed: %v)", err, fnErr)
		}
		return fmt.Errorf("restore original netns: %w", err)
	}

	runtime.UnlockOSThread()
	return fnErr
}

// ReadInNamespace performs a single Read inside the target namespace.
func ReadInNamespace(nsHandlePath, name string, arity int) (values [3]int64, err error) {
	err = Enter(nsHandlePath, func() error {
		var readErr error
		values, readErr = Read(name, arity)
		return readErr
	})
	return values, err
}

// WriteInNamespace performs a single Write inside the target namespace.
func WriteInNamespace(nsHandlePath, name string, arity int, values [3]int64) error {
	return Enter(nsHandlePath, func() error {
		return Write(name, arity, values)
	})
}

// ReadWriteInNamespace reads the current value, then writes newValues, both
// inside the target namespace in a single Enter/restore bracket -- this is
// how the registry captures a namespaced tunable's original value and
// detects external mutation without two separate namespace switches racing
// each other.
func ReadWriteInNamespace(nsHandlePath, name string, arity int, newValues [3]int64) (current [3]int64, err error) {
	err = Enter(nsHandlePath, func() error {
		var readErr error
		current, readErr = Read(name, arity)
		if readErr != nil {
			return readErr
		}
		return Write(name, arity, newValues)
	})
	return current, err
}
