// Package bits reads MSB-first bit streams, as used by FLAC frame headers
// and subframes and by the fixed-layout headers of ADTS and MPEG audio.
package bits

// Reader reads bits MSB-first from a byte slice. Reads past the end set a
// sticky overflow flag and return zeros, so a parser can decode a whole
// structure and check Overflow once at the end.
type Reader struct {
	data     []byte
	bitPos   int
	overflow bool
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// BitsLeft reports how many bits remain.
func (r *Reader) BitsLeft() int {
	total := len(r.data) * 8
	if r.bitPos > total {
		return 0
	}
	return total - r.bitPos
}

// BitsRead reports how many bits have been consumed.
func (r *Reader) BitsRead() int {
	return r.bitPos
}

// BytesRead reports the consumed length rounded up to a whole byte.
func (r *Reader) BytesRead() int {
	return (r.bitPos + 7) / 8
}

// Overflow reports whether any read ran past the end of the data.
func (r *Reader) Overflow() bool {
	return r.overflow
}

func (r *Reader) ReadBit() bool {
	if r.bitPos >= len(r.data)*8 {
		r.overflow = true
		return false
	}
	byteIdx := r.bitPos / 8
	bitIdx := 7 - (r.bitPos % 8)
	r.bitPos++
	return (r.data[byteIdx]>>uint(bitIdx))&1 == 1
}

func (r *Reader) ReadUint32(n int) uint32 {
	var val uint32
	for i := 0; i < n; i++ {
		val <<= 1
		if r.ReadBit() {
			val |= 1
		}
	}
	return val
}

func (r *Reader) ReadUint64(n int) uint64 {
	var val uint64
	for i := 0; i < n; i++ {
		val <<= 1
		if r.ReadBit() {
			val |= 1
		}
	}
	return val
}

// ReadSigned reads an n-bit two's complement value, n in [1,64].
func (r *Reader) ReadSigned(n int) int64 {
	val := r.ReadUint64(n)
	if n < 64 && val&(1<<uint(n-1)) != 0 {
		val -= 1 << uint(n)
	}
	return int64(val)
}

// ReadUnary counts zero bits up to the terminating one bit. On overflow it
// returns the count so far rather than spinning.
func (r *Reader) ReadUnary() int {
	n := 0
	for !r.overflow && !r.ReadBit() {
		n++
	}
	return n
}

func (r *Reader) ReadBytes(n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(r.ReadUint32(8))
	}
	return out
}

func (r *Reader) Skip(n int) {
	r.bitPos += n
	if r.bitPos > len(r.data)*8 {
		r.overflow = true
	}
}

// AlignToByte discards bits up to the next byte boundary.
func (r *Reader) AlignToByte() {
	if rem := r.bitPos % 8; rem != 0 {
		r.Skip(8 - rem)
	}
}
