package data

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// MapFunc transforms a sample in place in the pipeline (augmentation,
// re-normalization). It must be safe for concurrent use when the pipeline
// runs with more than one worker.
type MapFunc func(Sample) (Sample, error)

// Pipeline streams batches from a Dataset through the classic ETL stages.
//
// Stages are configured fluently and applied in a fixed order regardless of
// call order: shuffle -> repeat -> map -> batch -> prefetch.
//
//	pipe := data.NewPipeline(ds).
//	    Shuffle(1024, seed).
//	    Repeat(-1).
//	    Map(fn, workers).
//	    Batch(32).
//	    Prefetch(4)
//	batches, errs := pipe.Run(ctx)
//
// With a single map worker the stream order is fully determined by the seed;
// more workers trade ordering determinism for decode throughput.
type Pipeline struct {
	ds Dataset

	shuffleBuf  int
	seed        int64
	repeats     int // 1 = one epoch, -1 = forever
	mapFn         MapFunc
	mapWorkers    int
	batchSize     int
	prefetchCap   int
	dropRemainder bool
}

// NewPipeline creates a pipeline over ds with batch size 1, one epoch,
// no shuffling and no prefetch buffer. The trailing partial batch is
// dropped by default.
func NewPipeline(ds Dataset) *Pipeline {
	return &Pipeline{
		ds:            ds,
		repeats:       1,
		mapWorkers:    1,
		batchSize:     1,
		prefetchCap:   0,
		dropRemainder: true,
	}
}

// Shuffle enables buffered shuffling with the given buffer size and seed.
// A buffer at least as large as the dataset gives a full uniform shuffle.
func (p *Pipeline) Shuffle(bufferSize int, seed int64) *Pipeline {
	p.shuffleBuf = bufferSize
	p.seed = seed
	return p
}

// Repeat sets how many epochs to stream; count <= 0 repeats forever.
func (p *Pipeline) Repeat(count int) *Pipeline {
	if count <= 0 {
		count = -1
	}
	p.repeats = count
	return p
}

// Map applies fn to every sample using the given number of parallel workers.
func (p *Pipeline) Map(fn MapFunc, workers int) *Pipeline {
	if workers <= 0 {
		workers = 1
	}
	p.mapFn = fn
	p.mapWorkers = workers
	return p
}

// Batch sets the batch size.
func (p *Pipeline) Batch(n int) *Pipeline {
	if n <= 0 {
		panic(fmt.Sprintf("data: invalid batch size %d", n))
	}
	p.batchSize = n
	return p
}

// Prefetch sets how many ready batches may queue ahead of the consumer.
func (p *Pipeline) Prefetch(depth int) *Pipeline {
	if depth < 0 {
		depth = 0
	}
	p.prefetchCap = depth
	return p
}

// DropRemainder controls the trailing partial batch. Training keeps the
// default (drop, so every batch has the configured size); evaluation passes
// false so every sample is covered.
func (p *Pipeline) DropRemainder(drop bool) *Pipeline {
	p.dropRemainder = drop
	return p
}

// Run starts the pipeline and returns the batch stream and an error channel.
//
// The batch channel closes when all epochs are exhausted or ctx is canceled.
// At most one error is sent; after an error the batch channel closes.
// By default trailing samples that do not fill a batch are dropped, so every
// batch has exactly the configured size; DropRemainder(false) flushes them
// as a final short batch instead.
func (p *Pipeline) Run(ctx context.Context) (<-chan Batch, <-chan error) {
	out := make(chan Batch, p.prefetchCap)
	errCh := make(chan error, 1)

	indices := p.indexStream(ctx)
	samples := p.sampleStage(ctx, indices, errCh)

	go func() {
		defer close(out)
		h, w, c := p.ds.Bounds()
		classes := p.ds.NumClasses()
		buf := make([]Sample, 0, p.batchSize)
		for s := range samples {
			buf = append(buf, s)
			if len(buf) < p.batchSize {
				continue
			}
			batch, err := Collate(buf, h, w, c, classes)
			if err != nil {
				p.fail(errCh, err)
				return
			}
			select {
			case <-ctx.Done():
				return
			case out <- batch:
			}
			buf = buf[:0]
		}
		// The sample stage has exited, so errCh is quiet: a pending
		// error means the stream is broken and the remainder is stale.
		if p.dropRemainder || len(buf) == 0 || len(errCh) > 0 {
			return
		}
		batch, err := Collate(buf, h, w, c, classes)
		if err != nil {
			p.fail(errCh, err)
			return
		}
		select {
		case <-ctx.Done():
		case out <- batch:
		}
	}()

	return out, errCh
}

// indexStream emits sample indices for every epoch, shuffled through a
// bounded buffer when shuffling is enabled.
func (p *Pipeline) indexStream(ctx context.Context) <-chan int {
	out := make(chan int)
	go func() {
		defer close(out)
		var rng *rand.Rand
		if p.shuffleBuf > 0 {
			rng = rand.New(rand.NewSource(p.seed))
		}
		for epoch := 0; p.repeats < 0 || epoch < p.repeats; epoch++ {
			if !p.emitEpoch(ctx, out, rng) {
				return
			}
		}
	}()
	return out
}

// emitEpoch streams one pass over the dataset. Returns false when ctx ended.
func (p *Pipeline) emitEpoch(ctx context.Context, out chan<- int, rng *rand.Rand) bool {
	n := p.ds.Len()
	if rng == nil {
		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				return false
			case out <- i:
			}
		}
		return true
	}

	// Buffered shuffle: keep a window of pending indices and emit a random
	// element as each new index arrives. A window >= n is a full shuffle.
	window := make([]int, 0, p.shuffleBuf)
	for i := 0; i < n; i++ {
		window = append(window, i)
		if len(window) < p.shuffleBuf {
			continue
		}
		j := rng.Intn(len(window))
		pick := window[j]
		window[j] = window[len(window)-1]
		window = window[:len(window)-1]
		select {
		case <-ctx.Done():
			return false
		case out <- pick:
		}
	}
	rng.Shuffle(len(window), func(i, j int) { window[i], window[j] = window[j], window[i] })
	for _, pick := range window {
		select {
		case <-ctx.Done():
			return false
		case out <- pick:
		}
	}
	return true
}

// sampleStage loads (and maps) samples with mapWorkers parallel workers.
func (p *Pipeline) sampleStage(ctx context.Context, indices <-chan int, errCh chan<- error) <-chan Sample {
	out := make(chan Sample, p.mapWorkers)
	var wg sync.WaitGroup
	for i := 0; i < p.mapWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indices {
				s, err := p.ds.Sample(idx)
				if err != nil {
					p.fail(errCh, fmt.Errorf("data: sample %d: %w", idx, err))
					return
				}
				if p.mapFn != nil {
					if s, err = p.mapFn(s); err != nil {
						p.fail(errCh, fmt.Errorf("data: map sample %d: %w", idx, err))
						return
					}
				}
				select {
				case <-ctx.Done():
					return
				case out <- s:
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// fail reports the first error; later errors are dropped.
func (p *Pipeline) fail(errCh chan<- error, err error) {
	select {
	case errCh <- err:
	default:
	}
}
