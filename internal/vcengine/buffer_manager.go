package vcengine

import (
	"sync"

	"github.com/tphakala/rtvc/internal/errors"
	"github.com/tphakala/rtvc/internal/ring"
)

// bufferManager composes the three ring buffers (input, context, output)
// backing a single pipeline instance, plus the metadata needed to implement
// the atomic "read chunk with context, advance context" contract.
type bufferManager struct {
	mu sync.Mutex

	chunkSize   int
	contextSize int

	inputBuf   *ring.Buffer
	contextBuf *ring.Buffer
	outputBuf  *ring.Buffer
}

// newBufferManager allocates the three ring buffers sized per §4.2:
// input >= 2*CS, context == CS/4, output >= 4*CS.
func newBufferManager(chunkSize int) *bufferManager {
	contextSize := chunkSize / 4
	return &bufferManager{
		chunkSize:   chunkSize,
		contextSize: contextSize,
		inputBuf:    ring.New(2 * chunkSize),
		contextBuf:  ring.New(max(contextSize, 1)),
		outputBuf:   ring.New(4 * chunkSize),
	}
}

// writeInput appends captured samples to input_buf. Called by AudioIO
// capture from any goroutine.
func (b *bufferManager) writeInput(samples []Sample) {
	b.inputBuf.Write(samples)
}

// readChunkForProcessing atomically reads CS samples plus the current
// context, then advances context to the tail of the chunk just read. It
// returns ok=false when input_buf holds fewer than CS samples.
func (b *bufferManager) readChunkForProcessing() (chunk, context []Sample, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inputBuf.Size() < b.chunkSize {
		return nil, nil, false
	}

	chunk = b.inputBuf.Read(b.chunkSize)
	context = b.contextBuf.Peek(b.contextSize)

	b.contextBuf.Clear()
	if b.contextSize > 0 {
		tail := chunk
		if len(tail) > b.contextSize {
			tail = tail[len(tail)-b.contextSize:]
		}
		b.contextBuf.Write(tail)
	}

	return chunk, context, true
}

// writeOutput appends converted samples to output_buf.
func (b *bufferManager) writeOutput(samples []Sample) {
	b.outputBuf.Write(samples)
}

// readOutput returns up to n samples FIFO from output_buf.
func (b *bufferManager) readOutput(n int) []Sample {
	return b.outputBuf.Read(n)
}

// bufferHealth reports occupancy and drop counters across all three
// buffers, without blocking the worker.
func (b *bufferManager) bufferHealth() BufferHealth {
	return BufferHealth{
		InputFill:   b.inputBuf.Size(),
		OutputFill:  b.outputBuf.Size(),
		ContextFill: b.contextBuf.Size(),
		InputDrops:  b.inputBuf.Drops(),
		OutputDrops: b.outputBuf.Drops(),
	}
}

// reset clears all three buffers and their drop counters. Callers must only
// invoke this while the owning pipeline is not Running.
func (b *bufferManager) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputBuf.Clear()
	b.contextBuf.Clear()
	b.outputBuf.Clear()
}

// errNotRunning is returned by operations that require the pipeline to be
// stopped first, e.g. BufferManager.reset called from the public API.
var errNotRunning = errors.New(errors.NewStd("buffer reset requires pipeline to be stopped")).
	Component("vcengine").
	Category(errors.CategoryState).
	Build()
