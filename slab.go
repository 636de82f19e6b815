package evh

// slab.go - fixed-capacity arena of equal-sized slabs.
//
// A flat preallocated array indexed by a stable integer id, with no
// per-slab allocation once the arena is built. Free slabs are threaded
// on an intrusive free list using the same forward-link bytes the wire
// format reserves for the next-slab pointer, so freeing never
// allocates.

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// SlabID identifies a slab within a SlabPool. It is stable for the
// lifetime of the allocation.
type SlabID uint64

// invalidSlabID is never returned by Allocate and denotes "no slab" /
// end-of-chain sentinel.
const invalidSlabID SlabID = ^SlabID(0)

const (
	// DefaultPayloadSize is the default per-slab user payload size in
	// bytes.
	DefaultPayloadSize = 514
	// DefaultLinkWidth is the width, in bytes, of the big-endian
	// forward-link field appended after the payload.
	DefaultLinkWidth = 4
	// DefaultSlabSize is DefaultPayloadSize + DefaultLinkWidth.
	DefaultSlabSize = DefaultPayloadSize + DefaultLinkWidth

	// maxSlabCount is 2^48 - 1.
	maxSlabCount = (1 << 48) - 1
	// maxSlabSize is 2^16.
	maxSlabSize = 1 << 16
)

// SlabPool is a fixed-capacity arena of equal-sized slabs with O(1)
// allocate/free and stable integer ids. A SlabPool is
// exclusively owned by one worker; the internal mutex protects the
// free list, not concurrent chain mutation, which remains the owning
// worker's job.
type SlabPool struct {
	mu          sync.Mutex
	slabSize    int
	payloadSize int
	linkWidth   int
	arena       []byte
	freeHead    SlabID
	freeCount   int
	allocated   int
}

// NewSlabPool builds an arena of count slabs of slabSize bytes each,
// with payloadSize bytes of user payload per slab and the remainder
// reserved for the big-endian forward link. Slab size is capped at
// 2^16, count at 2^48-1, and a slab must be at least four link widths.
func NewSlabPool(count int, slabSize, payloadSize int) (*SlabPool, error) {
	if slabSize > maxSlabSize {
		return nil, &ConfigError{Field: "slab_size", Reason: "exceeds 2^16"}
	}
	if count > maxSlabCount {
		return nil, &ConfigError{Field: "slab_count", Reason: "exceeds 2^48-1"}
	}
	linkWidth := slabSize - payloadSize
	if linkWidth < 0 {
		return nil, &ConfigError{Field: "payload_size", Reason: "exceeds slab_size"}
	}
	if slabSize < 4*linkWidth {
		return nil, &ConfigError{Field: "slab_size", Reason: "must be at least 4x link width"}
	}
	p := &SlabPool{
		slabSize:    slabSize,
		payloadSize: payloadSize,
		linkWidth:   linkWidth,
		arena:       make([]byte, count*slabSize),
		freeHead:    invalidSlabID,
	}
	for i := count - 1; i >= 0; i-- {
		id := SlabID(i)
		p.setLink(id, p.freeHead)
		p.freeHead = id
		p.freeCount++
	}
	return p, nil
}

// PayloadSize returns the configured per-slab user payload size.
func (p *SlabPool) PayloadSize() int { return p.payloadSize }

func (p *SlabPool) slice(id SlabID) []byte {
	off := int(id) * p.slabSize
	return p.arena[off : off+p.slabSize]
}

func (p *SlabPool) setLink(id, next SlabID) {
	b := p.slice(id)[p.payloadSize:]
	if next == invalidSlabID {
		for i := range b {
			b[i] = 0xFF
		}
		return
	}
	switch p.linkWidth {
	case 4:
		binary.BigEndian.PutUint32(b, uint32(next))
	case 8:
		binary.BigEndian.PutUint64(b, uint64(next))
	default:
		v := uint64(next)
		for i := p.linkWidth - 1; i >= 0; i-- {
			b[i] = byte(v)
			v >>= 8
		}
	}
}

func (p *SlabPool) getLink(id SlabID) SlabID {
	b := p.slice(id)[p.payloadSize:]
	allOnes := true
	for _, c := range b {
		if c != 0xFF {
			allOnes = false
			break
		}
	}
	if allOnes {
		return invalidSlabID
	}
	switch p.linkWidth {
	case 4:
		return SlabID(binary.BigEndian.Uint32(b))
	case 8:
		return SlabID(binary.BigEndian.Uint64(b))
	default:
		var v uint64
		for _, c := range b {
			v = v<<8 | uint64(c)
		}
		return SlabID(v)
	}
}

// Allocate reserves a slab and initializes its link bytes to
// end-of-chain. Returns (invalidSlabID, *CapacityError) when
// the arena is exhausted.
func (p *SlabPool) Allocate() (SlabID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.freeHead == invalidSlabID {
		return invalidSlabID, &CapacityError{Resource: "slab_pool"}
	}
	id := p.freeHead
	p.freeHead = p.getLink(id)
	p.freeCount--
	p.allocated++
	p.setLink(id, invalidSlabID)
	return id, nil
}

// Free returns id to the pool. Double-free is a programming error; the
// pool does not track per-slab allocation state, so id validity is the
// caller's invariant, same as Get.
func (p *SlabPool) Free(id SlabID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setLink(id, p.freeHead)
	p.freeHead = id
	p.freeCount++
	p.allocated--
}

// Get returns the payload-plus-link bytes for id. Id validity is a
// caller invariant.
func (p *SlabPool) Get(id SlabID) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slice(id)
}

// GetMut returns a mutable view of the payload-plus-link bytes for id.
func (p *SlabPool) GetMut(id SlabID) []byte {
	return p.Get(id)
}

// Payload returns just the payload region of id, without the link
// bytes.
func (p *SlabPool) Payload(id SlabID) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slice(id)[:p.payloadSize]
}

// NextID returns the slab linked after id, or invalidSlabID at the end
// of the chain.
func (p *SlabPool) NextID(id SlabID) SlabID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getLink(id)
}

// LinkTo sets id's forward link to next.
func (p *SlabPool) LinkTo(id, next SlabID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setLink(id, next)
}

// String renders pool occupancy for diagnostics.
func (p *SlabPool) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("SlabPool{allocated=%d free=%d}", p.allocated, p.freeCount)
}
