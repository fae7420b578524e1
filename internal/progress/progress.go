// Package progress defines the synchronous progress callback invoked by
// long-running loops. Callbacks are called only from the owning goroutine;
// they carry no thread-safety requirement.
package progress

// Func receives the number of processed items and the total. A nil Func is
// valid everywhere and reports nothing.
type Func func(done, total int)

// Report invokes f if it is non-nil.
func Report(f Func, done, total int) {
	if f != nil {
		f(done, total)
	}
}

// Every returns a Func that forwards to f only every n-th call (and on the
// final item), bounding callback overhead inside tight loops.
func Every(n int, f Func) Func {
	if f == nil || n <= 1 {
		return f
	}
	return func(done, total int) {
		if done%n == 0 || done == total {
			f(done, total)
		}
	}
}
