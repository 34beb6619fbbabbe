package recorder

import "sync"

// Chunker queues samples arriving at arbitrary granularity and cuts them
// into fixed-size chunks, in arrival order. A remainder shorter than the
// chunk size stays queued for the next Push.
type Chunker struct {
	mu    sync.Mutex
	size  int
	queue []float32
}

func NewChunker(size int) *Chunker {
	if size <= 0 {
		panic("recorder: chunk size must be positive")
	}
	return &Chunker{size: size, queue: make([]float32, 0, size*2)}
}

// Push copies samples into the queue and returns every complete chunk.
// Returned chunks are owned by the caller.
func (c *Chunker) Push(samples []float32) [][]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue = append(c.queue, samples...)
	n := len(c.queue) / c.size
	if n == 0 {
		return nil
	}

	chunks := make([][]float32, n)
	backing := make([]float32, n*c.size)
	copy(backing, c.queue[:n*c.size])
	for i := range chunks {
		chunks[i] = backing[i*c.size : (i+1)*c.size : (i+1)*c.size]
	}
	c.queue = c.queue[:copy(c.queue, c.queue[n*c.size:])]
	return chunks
}

// Pending is the number of queued samples not yet emitted.
func (c *Chunker) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Chunker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = c.queue[:0]
}

func (c *Chunker) Size() int {
	return c.size
}
