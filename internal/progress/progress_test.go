package progress

import "testing"

func TestReport_NilSafe(t *testing.T) {
	t.Parallel()
	Report(nil, 1, 10) // must not panic
}

func TestEvery(t *testing.T) {
	t.Parallel()

	var calls []int
	f := Every(10, func(done, total int) {
		calls = append(calls, done)
	})
	for i := 1; i <= 25; i++ {
		Report(f, i, 25)
	}
	// Fires on multiples of 10 and on the final item.
	if len(calls) != 3 || calls[0] != 10 || calls[1] != 20 || calls[2] != 25 {
		t.Errorf("calls = %v, want [10 20 25]", calls)
	}
}

func TestEvery_PassThrough(t *testing.T) {
	t.Parallel()

	if Every(1, nil) != nil {
		t.Error("nil func must stay nil")
	}
	count := 0
	f := Every(0, func(done, total int) { count++ })
	Report(f, 1, 2)
	Report(f, 2, 2)
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}
