package threadsock

import (
	"fmt"
	"math/bits"
	"sync/atomic"

	"github.com/slackhq/threadsock/ring"
)

// BlockPool is a free list of Blocks backed by a ring.Buffer. Acquire allocates when the pool is empty and Release
// drops the Block when the pool is full, so neither ever blocks or fails.
type BlockPool struct {
	free      *ring.Buffer[Block]
	blockSize int

	allocated atomic.Int64
	dropped   atomic.Int64
}

// NewBlockPool creates a pool holding up to capacity free blocks of blockSize bytes. No blocks are allocated up front.
func NewBlockPool(capacity, blockSize int) (*BlockPool, error) {
	if blockSize < 1 {
		return nil, fmt.Errorf("%w: block size %d must be positive", ring.ErrInvalidConfiguration, blockSize)
	}

	free, err := ring.New[Block](capacity)
	if err != nil {
		return nil, err
	}

	return &BlockPool{free: free, blockSize: blockSize}, nil
}

// Acquire returns a free Block or allocates a new one
func (p *BlockPool) Acquire() Block {
	if b, ok := p.free.TryDequeue(); ok {
		return b
	}

	p.allocated.Add(1)
	return make(Block, p.blockSize)
}

// Release returns b to the pool. It reports false when b was dropped instead, either because the pool is full or
// because b is smaller than the pool's block size. A dropped block is left to the garbage collector.
func (p *BlockPool) Release(b Block) bool {
	if cap(b) < p.blockSize {
		p.dropped.Add(1)
		return false
	}

	if !p.free.TryEnqueue(b[:p.blockSize]) {
		p.dropped.Add(1)
		return false
	}
	return true
}

// Len is the number of free blocks in the pool
func (p *BlockPool) Len() int {
	return p.free.Len()
}

// Cap is the most free blocks the pool holds before Release starts dropping
func (p *BlockPool) Cap() int {
	return p.free.Cap()
}

// BlockSize is the length of every block handed out by Acquire
func (p *BlockPool) BlockSize() int {
	return p.blockSize
}

// Allocated is the number of blocks Acquire had to allocate
func (p *BlockPool) Allocated() int64 {
	return p.allocated.Load()
}

// Dropped is the number of blocks Release could not keep
func (p *BlockPool) Dropped() int64 {
	return p.dropped.Load()
}

// poolCapacity sizes a socket's pool to hold every block that can be live at once: a full packet ring, the block the
// receiver is waiting to enqueue and the one cached by Poll. Pool capacities must be a power of two.
func poolCapacity(bufferSize int) int {
	n := bufferSize + 2
	if n < 2 {
		return n
	}
	return 1 << bits.Len(uint(n-1))
}
