// Package diag provides the allocator's two diagnostic primitives:
// Warn for recoverable, best-effort situations and Abort for integrity
// violations that must stop the process rather than continue operating
// on a possibly-corrupted heap.
//
// There is no logging library wired in here: runtime source code
// doesn't import one for this kind of ambient diagnostic output, so
// this package matches that bare-stderr style rather than reaching for
// one.
package diag

import (
	"fmt"
	"os"
)

// Warn prints a best-effort warning to stderr. Used for the "invalid
// pointer passed to realloc/free" tolerance path, where the allocator
// chooses to limp along rather than abort.
func Warn(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "hpcalloc: warning: "+format+"\n", args...)
}

// abortHook lets tests observe an abort without actually killing the
// test binary.
var abortHook func(msg string)

// SetHookForTest installs f in place of os.Exit for the duration of a
// test and returns a function that restores the previous behavior.
// Tests that need to assert a double-free/corruption abort fires use
// this instead of letting Abort kill the test binary.
func SetHookForTest(f func(msg string)) (restore func()) {
	prev := abortHook
	abortHook = f
	return func() { abortHook = prev }
}

// Abort reports a fatal integrity violation (double free, corrupted
// header, bad magic) and terminates the process. A recoverable panic
// would let a caller's recover() keep using a corrupted heap, which
// this allocator's contract forbids; os.Exit after writing the
// diagnostic is the closest Go analogue to libc's abort().
func Abort(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "hpcalloc: fatal: %s\n", msg)
	if abortHook != nil {
		abortHook(msg)
		return
	}
	os.Exit(2)
}
