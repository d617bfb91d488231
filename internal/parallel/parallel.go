// Package parallel provides bounded fan-out helpers for data-independent
// loops in the numeric kernels.
package parallel

import (
	"runtime"
	"sync"
)

// MinChunk is the smallest iteration count worth spreading over goroutines.
// Below it the scheduling overhead outweighs the work.
const MinChunk = 64

// For executes f(i) for i in [0, n). Iterations must not depend on each
// other; chunks of the index range run on separate goroutines when n is
// large enough.
func For(n int, f func(i int)) {
	workers := runtime.NumCPU()
	if workers < 2 || n < MinChunk {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	chunk := (n + workers - 1) / workers
	if chunk < MinChunk {
		chunk = MinChunk
	}

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}
