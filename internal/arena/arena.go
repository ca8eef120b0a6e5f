// Package arena implements a K&R-style circular free-list allocator over a
// single caller-supplied byte buffer. It is the memory substrate for every
// other data-plane component (internal/ring, internal/taskset): by
// confining all dynamic state to one flat []byte, the same region could be
// mapped into multiple OS processes (the original design used POSIX shared
// memory) without any component holding a language-level pointer into it.
//
// Handles into the arena are expressed as Ref, a byte offset from the start
// of the buffer, rather than as *T pointers. This mirrors what a shared
// mapping would require: every process decodes the same logical reference
// independent of where the region happens to be mapped in its own address
// space. See blockHeader and metaHeader below for the on-buffer layout of
// headers.
package arena

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// UnitSize is the allocation granularity: the size of one block header.
// Every allocation is rounded up to a whole number of units, plus one unit
// for its own header, matching the spec's "unit size equals the alignment
// of the strictest scalar on the host" rule for a 64-bit host.
const UnitSize = 8

// Sentinel errors distinguishing the error kinds the spec calls out:
// resource exhaustion, out-of-range access, and bad arguments.
var (
	ErrOutOfMemory  = errors.New("arena: out of memory")
	ErrOutOfRange   = errors.New("arena: pointer out of range")
	ErrNilArgument  = errors.New("arena: nil argument")
	ErrBufferTooSmall = errors.New("arena: buffer smaller than minimum arena size")
)

// Ref is a handle to a byte offset within an Arena's buffer. The zero Ref
// is never a valid allocation (offset 0 always holds the arena's own
// metadata header), so it doubles as a "no reference" sentinel.
type Ref uint32

// blockHeader is the free-list node stored at the start of every free
// block, and former-header of every allocated block. next is a byte offset
// into the buffer and size a count of UnitSize units, never raw pointers.
type blockHeader struct {
	next uint32 // offset, in bytes, of the next free block (or of self/sentinel)
	size uint32 // size of this block in units, including this header
}

const blockHeaderSize = 8 // must equal UnitSize

// metaHeader sits at offset 0 of the buffer and tracks the allocator's own
// bookkeeping: the roving free-list pointer and the total capacity.
type metaHeader struct {
	freeList uint32 // offset of the roving predecessor pointer
	capacity uint32 // total data units available (excludes meta+sentinel)
}

const metaHeaderSize = 8 // must equal UnitSize

// sentinelOffset is always directly after the meta header.
const sentinelOffset = metaHeaderSize

// dataOffset is where the allocatable unit space begins.
const dataOffset = sentinelOffset + blockHeaderSize

// Arena is a free-list allocator installed in-place over a byte buffer.
// Arena itself performs no locking; per the scheduler's design, all
// mutation happens while the caller holds the task-set semaphore.
type Arena struct {
	buf []byte
}

// Install initializes a fresh Arena in-place within buf. It returns
// ErrBufferTooSmall if buf cannot hold the meta header, sentinel, and at
// least one minimal block (3 units), per the spec's minimum-size rule.
func Install(buf []byte) (*Arena, error) {
	minSize := dataOffset + 3*UnitSize
	if len(buf) < minSize {
		return nil, fmt.Errorf("%w: need >= %d bytes, got %d", ErrBufferTooSmall, minSize, len(buf))
	}

	a := &Arena{buf: buf}

	dataUnits := uint32((len(buf) - dataOffset) / UnitSize)
	usableDataBytes := int(dataUnits) * UnitSize

	a.putMeta(metaHeader{freeList: sentinelOffset, capacity: dataUnits})
	a.putBlock(sentinelOffset, blockHeader{next: dataOffset, size: 0})
	a.putBlock(dataOffset, blockHeader{next: sentinelOffset, size: dataUnits})

	// Zero any slack past the last whole unit so Bytes() never exposes
	// uninitialized tail bytes to a caller who over-reads by accident.
	for i := dataOffset + usableDataBytes; i < len(buf); i++ {
		buf[i] = 0
	}

	return a, nil
}

func (a *Arena) meta() metaHeader {
	return metaHeader{
		freeList: binary.LittleEndian.Uint32(a.buf[0:4]),
		capacity: binary.LittleEndian.Uint32(a.buf[4:8]),
	}
}

func (a *Arena) putMeta(m metaHeader) {
	binary.LittleEndian.PutUint32(a.buf[0:4], m.freeList)
	binary.LittleEndian.PutUint32(a.buf[4:8], m.capacity)
}

func (a *Arena) block(off uint32) blockHeader {
	b := a.buf[off : off+blockHeaderSize]
	return blockHeader{
		next: binary.LittleEndian.Uint32(b[0:4]),
		size: binary.LittleEndian.Uint32(b[4:8]),
	}
}

func (a *Arena) putBlock(off uint32, h blockHeader) {
	b := a.buf[off : off+blockHeaderSize]
	binary.LittleEndian.PutUint32(b[0:4], h.next)
	binary.LittleEndian.PutUint32(b[4:8], h.size)
}

// unitsFor rounds n bytes up to whole units and adds one unit for the
// block's own header.
func unitsFor(n int) uint32 {
	payloadUnits := (n + UnitSize - 1) / UnitSize
	return uint32(payloadUnits) + 1
}

// Alloc returns a Ref to a freshly carved block able to hold n bytes.
// It implements first-fit search over the circular free list starting at
// the roving free_list pointer, carving the request from the tail of an
// oversized block so the untouched head stays linked in the list.
func (a *Arena) Alloc(n int) (Ref, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: negative size", ErrNilArgument)
	}
	needed := unitsFor(n)

	m := a.meta()
	p := m.freeList
	start := p

	for {
		qOff := a.block(p).next
		q := a.block(qOff)

		if q.size >= needed {
			var allocOff uint32
			if q.size == needed {
				// Exact fit: unlink q entirely.
				pb := a.block(p)
				pb.next = q.next
				a.putBlock(p, pb)
				allocOff = qOff
			} else {
				// Carve the tail: q shrinks in place, the new block sits
				// at the end of what used to be q's span.
				q.size -= needed
				a.putBlock(qOff, q)
				allocOff = qOff + q.size*UnitSize
				a.putBlock(allocOff, blockHeader{size: needed})
			}

			m.freeList = p
			a.putMeta(m)
			return Ref(allocOff + blockHeaderSize), nil
		}

		if qOff == start {
			return 0, ErrOutOfMemory
		}
		p = qOff
	}
}

// Free releases a previously allocated Ref, coalescing it with any
// adjacent free blocks (forward and backward) in O(1) from the insertion
// point found by the circular free walk.
func (a *Arena) Free(ref Ref) error {
	if ref == 0 {
		return fmt.Errorf("%w: zero ref", ErrNilArgument)
	}
	bpOff := uint32(ref) - blockHeaderSize
	if bpOff < dataOffset || uint32(ref) >= uint32(len(a.buf)) {
		return ErrOutOfRange
	}

	m := a.meta()
	p := m.freeList

	// Walk the circle to find p such that p < bp < p.next, or bp sits in
	// the wrap-around gap (p >= p.next and bp is above p or below p.next).
	for {
		pNext := a.block(p).next
		if p < pNext {
			if p < bpOff && bpOff < pNext {
				break
			}
		} else {
			if bpOff > p || bpOff < pNext {
				break
			}
		}
		p = pNext
	}

	bp := a.block(bpOff)
	pHdr := a.block(p)

	// Forward coalesce: bp's span reaches exactly p.next.
	if bpOff+bp.size*UnitSize == pHdr.next {
		next := a.block(pHdr.next)
		bp.size += next.size
		bp.next = next.next
	} else {
		bp.next = pHdr.next
	}
	a.putBlock(bpOff, bp)

	// Backward coalesce: p's span reaches exactly bp.
	if p+pHdr.size*UnitSize == bpOff {
		pHdr.size += bp.size
		pHdr.next = bp.next
	} else {
		pHdr.next = bpOff
	}
	a.putBlock(p, pHdr)

	m.freeList = p
	a.putMeta(m)
	return nil
}

// Bytes returns a slice view onto n bytes of payload starting at ref. The
// slice aliases the arena's backing buffer; callers must not retain it
// past a Free of the same ref.
func (a *Arena) Bytes(ref Ref, n int) ([]byte, error) {
	if ref == 0 {
		return nil, fmt.Errorf("%w: zero ref", ErrNilArgument)
	}
	start := uint32(ref)
	end := start + uint32(n)
	if end > uint32(len(a.buf)) || start < dataOffset {
		return nil, ErrOutOfRange
	}
	return a.buf[start:end], nil
}

// FreeBytes returns the sum, in bytes, of every non-sentinel free block
// currently in the circular list.
func (a *Arena) FreeBytes() int {
	total := uint32(0)
	off := a.block(sentinelOffset).next
	for off != sentinelOffset {
		b := a.block(off)
		total += b.size * UnitSize
		off = b.next
	}
	return int(total)
}

// Capacity returns the total number of data bytes available to Alloc,
// i.e. the arena's size at full unification.
func (a *Arena) Capacity() int {
	return int(a.meta().capacity) * UnitSize
}

// Unified reports whether the free list holds exactly one non-sentinel
// block spanning the arena's full capacity -- the expected quiescent state
// after every outstanding Alloc has been matched by a Free.
func (a *Arena) Unified() bool {
	first := a.block(sentinelOffset).next
	if first == sentinelOffset {
		return a.meta().capacity == 0
	}
	b := a.block(first)
	return b.next == sentinelOffset && b.size == a.meta().capacity
}
