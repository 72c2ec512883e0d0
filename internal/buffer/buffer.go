// Package buffer implements the append-only fragmented byte store that
// backs the compiler's instruction stream (spec.md §4.1).
//
// The original C engine prepends new fragments to the head of a
// singly-linked list and reverses it before finalization
// (original_source/sljit_src/sljitLir.c's reverse_buf). That trick
// exists only to make head-insertion cheap in C; per spec.md's DESIGN
// NOTES §9 this implementation tail-appends into a slice of chunks
// instead, so Reverse is kept only as a documented no-op for API
// symmetry with the spec's described control flow.
package buffer

// chunkSize is the size of each fragment. Doubling it would not change
// asymptotic behavior; it is chosen to keep a handful of chunks warm
// for typical function bodies without wasting much on tiny ones.
const chunkSize = 2048

// Fragmented is an ordered sequence of fixed-size chunks. New bytes
// append into the current (last) chunk; a new chunk is allocated when
// the current one has no room left for the requested span.
type Fragmented struct {
	chunks [][]byte
	used   []int
}

// New returns an empty fragmented buffer with one pre-sized chunk.
func New() *Fragmented {
	return &Fragmented{
		chunks: [][]byte{make([]byte, chunkSize)},
		used:   []int{0},
	}
}

// NewSized pre-sizes the first chunk to at least hint bytes, rounded up
// to a chunk multiple, for a client-supplied size hint (SPEC_FULL.md
// "Compile-time size hinting").
func NewSized(hint int) *Fragmented {
	if hint <= chunkSize {
		return New()
	}
	n := (hint + chunkSize - 1) / chunkSize * chunkSize
	return &Fragmented{
		chunks: [][]byte{make([]byte, n)},
		used:   []int{0},
	}
}

// Len returns the total number of bytes appended so far.
func (f *Fragmented) Len() int64 {
	var total int64
	for i, u := range f.used {
		if i < len(f.used)-1 {
			total += int64(len(f.chunks[i]))
		} else {
			total += int64(u)
		}
	}
	// Chunks other than the last can end in unused bytes (Ensure rolls
	// over when the current chunk cannot fit the requested span), so the
	// length is the sum of the used bytes of every chunk.
	return f.preciseLen()
}

func (f *Fragmented) preciseLen() int64 {
	var total int64
	for _, u := range f.used {
		total += int64(u)
	}
	return total
}

// Ensure reserves n contiguous bytes and returns a slice over them for
// the caller to fill in. It never spans a chunk boundary: a metadata
// record or instruction word is always fully inside one chunk.
func (f *Fragmented) Ensure(n int) []byte {
	if n > chunkSize {
		// Oversized single request (e.g. a large constant pool):
		// give it its own chunk.
		f.chunks = append(f.chunks, make([]byte, n))
		f.used = append(f.used, n)
		return f.chunks[len(f.chunks)-1]
	}
	last := len(f.chunks) - 1
	if f.used[last]+n > len(f.chunks[last]) {
		f.chunks = append(f.chunks, make([]byte, chunkSize))
		f.used = append(f.used, 0)
		last++
	}
	start := f.used[last]
	f.used[last] = start + n
	return f.chunks[last][start : start+n]
}

// Append writes b into the buffer via Ensure and returns the byte
// offset from the base of the flattened stream at which it was
// written.
func (f *Fragmented) Append(b []byte) int64 {
	off := f.preciseLen()
	dst := f.Ensure(len(b))
	copy(dst, b)
	return off
}

// Reverse is a documented no-op; see the package comment.
func (f *Fragmented) Reverse() {}

// Flatten streams the fragments into one contiguous slice in emission
// order.
func (f *Fragmented) Flatten() []byte {
	out := make([]byte, 0, f.preciseLen())
	for i, u := range f.used {
		out = append(out, f.chunks[i][:u]...)
	}
	return out
}

// ByteAt returns a pointer to the byte at offset globalOffset of the
// flattened stream (nil past the end), for patching bytes already
// committed to an earlier chunk before Flatten runs. Since chunks are stored as plain byte slices, callers
// normally patch post-Flatten instead; this is kept for parity with
// the spec's "patch in place" pass-2 contract when in-place patching a
// not-yet-flattened chunk is cheaper (e.g. a constant pool flush).
func (f *Fragmented) ByteAt(globalOffset int64) *byte {
	off := globalOffset
	for i, u := range f.used {
		if off < int64(u) {
			return &f.chunks[i][off]
		}
		off -= int64(u)
	}
	return nil
}
