package siridb

import (
	"bytes"
	"math"

	"github.com/dgryski/go-bitstream"
	"github.com/golang/snappy"
)

// RawValuesThreshold is the number of changing double byte-positions above
// which the codec falls back to storing raw 8-byte values per point
// (spec section 4.3).
const RawValuesThreshold = 7

// cinfo layout (spec section 3): high byte is the value-store mask (8
// bits, one per byte position of the value encoding; 0xFF means "store
// raw 8-byte values"). Low byte: low nibble is tcount (bytes per
// inter-ts delta), high nibble is tshift (total ts prefix-shift bytes).

func cinfoPack(valueMask uint8, tcount, tshift uint8) uint16 {
	return uint16(valueMask)<<8 | uint16(tcount&0xf) | uint16(tshift&0xf)<<4
}

func cinfoUnpack(cinfo uint16) (valueMask uint8, tcount, tshift uint8) {
	valueMask = uint8(cinfo >> 8)
	tcount = uint8(cinfo & 0xf)
	tshift = uint8((cinfo >> 4) & 0xf)
	return
}

func popcount8(b uint8) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}

// highestSetByte returns the 1-indexed position of the highest non-zero
// byte of v (0 if v == 0). A return of 3 means bytes 0..2 must be stored
// to hold v's value.
func highestSetByte(v uint64) uint8 {
	for i := 7; i >= 0; i-- {
		if (v>>uint(i*8))&0xff != 0 {
			return uint8(i + 1)
		}
	}
	return 0
}

func zigzagEncode(d int64) uint64 {
	return uint64((d << 1) ^ (d >> 63))
}

func zigzagDecode(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// tsEncoding computes the shared-ts-prefix parameters described in spec
// section 4.3: tcount is the number of low bytes that vary across the
// chunk's inter-point deltas; the remaining bytes up to tshift are
// identical across every delta in the chunk (taken from the last delta)
// and are written once, in the chunk header, instead of once per point.
func tsEncoding(deltas []uint64) (tcount, tshift uint8, shared uint64) {
	if len(deltas) == 0 {
		return 0, 0, 0
	}
	ref := deltas[len(deltas)-1]
	var vary uint64
	for _, d := range deltas {
		vary |= d ^ ref
	}
	tcount = highestSetByte(vary)
	tshift = highestSetByte(ref)
	if tshift < tcount {
		tshift = tcount
	}
	shared = ref
	return
}

func appendBytesMSB(buf []byte, v uint64, n int) []byte {
	for i := n - 1; i >= 0; i-- {
		buf = append(buf, byte(v>>uint(i*8)))
	}
	return buf
}

func readBytesMSB(b []byte, n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// SizeFor recomputes a chunk's encoded byte size from (cinfo, length)
// alone, without touching the data (spec section 4.3's size_for
// contract).
func SizeFor(cinfo uint16, length int) int {
	if length <= 1 {
		return 16
	}
	valueMask, tcount, tshift := cinfoUnpack(cinfo)
	vcount := popcount8(valueMask)
	return 16 + int(tshift-tcount) + (int(tcount)+vcount)*(length-1)
}

// ZipInt encodes the half-open range points[a:b) of an integer series
// using zig-zag deltas between consecutive points (spec section 4.3).
func ZipInt(pts []Point, a, b int) (cinfo uint16, data []byte) {
	n := b - a
	anchor := pts[a]
	if n == 1 {
		buf := make([]byte, 0, 16)
		buf = appendBytesMSB(buf, anchor.Ts, 8)
		buf = appendBytesMSB(buf, uint64(anchor.Value.Int64), 8)
		return 0, buf
	}

	tsDeltas := make([]uint64, n-1)
	valDeltas := make([]uint64, n-1)
	var valOr uint64
	for k := 1; k < n; k++ {
		tsDeltas[k-1] = pts[a+k].Ts - pts[a+k-1].Ts
		vd := zigzagEncode(pts[a+k].Value.Int64 - pts[a+k-1].Value.Int64)
		valDeltas[k-1] = vd
		valOr |= vd
	}

	tcount, tshift, shared := tsEncoding(tsDeltas)
	w := highestSetByte(valOr)
	var valueMask uint8
	if w > 0 {
		valueMask = 0xff << (8 - w)
	}

	cinfo = cinfoPack(valueMask, tcount, tshift)

	buf := make([]byte, 0, SizeFor(cinfo, n))
	buf = appendBytesMSB(buf, anchor.Ts, 8)
	buf = appendBytesMSB(buf, uint64(anchor.Value.Int64), 8)
	for i := int(tshift) - 1; i >= int(tcount); i-- {
		buf = append(buf, byte(shared>>uint(i*8)))
	}
	for k := 0; k < n-1; k++ {
		buf = appendBytesMSB(buf, tsDeltas[k], int(tcount))
		if w > 0 {
			buf = appendBytesMSB(buf, valDeltas[k], int(w))
		}
	}
	return cinfo, buf
}

// UnzipInt decodes exactly length points from an integer chunk produced
// by ZipInt.
func UnzipInt(data []byte, length int, cinfo uint16) []Point {
	out := make([]Point, length)
	if length == 0 {
		return out
	}
	pos := 0
	anchorTs := readBytesMSB(data[pos:], 8)
	pos += 8
	anchorVal := int64(readBytesMSB(data[pos:], 8))
	pos += 8
	out[0] = Point{Ts: anchorTs, Value: Value{Int64: anchorVal}}
	if length == 1 {
		return out
	}

	valueMask, tcount, tshift := cinfoUnpack(cinfo)
	w := popcount8(valueMask)

	var shared uint64
	for i := int(tshift) - 1; i >= int(tcount); i-- {
		shared |= uint64(data[pos]) << uint(i*8)
		pos++
	}

	ts := anchorTs
	val := anchorVal
	for k := 1; k < length; k++ {
		low := readBytesMSB(data[pos:], int(tcount))
		pos += int(tcount)
		ts += shared | low
		if w > 0 {
			vd := readBytesMSB(data[pos:], w)
			pos += w
			val += zigzagDecode(vd)
		}
		out[k] = Point{Ts: ts, Value: Value{Int64: val}}
	}
	return out
}

// ZipDouble encodes the half-open range points[a:b) of a double series
// using a per-byte-position change bitmap relative to the anchor's raw
// IEEE-754 bits (spec section 4.3).
func ZipDouble(pts []Point, a, b int) (cinfo uint16, data []byte) {
	n := b - a
	anchor := pts[a]
	anchorBits := math.Float64bits(anchor.Value.Double)
	if n == 1 {
		buf := make([]byte, 0, 16)
		buf = appendBytesMSB(buf, anchor.Ts, 8)
		buf = appendBytesMSB(buf, anchorBits, 8)
		return 0, buf
	}

	tsDeltas := make([]uint64, n-1)
	bits := make([]uint64, n-1)
	var vdiff uint64
	for k := 1; k < n; k++ {
		tsDeltas[k-1] = pts[a+k].Ts - pts[a+k-1].Ts
		bk := math.Float64bits(pts[a+k].Value.Double)
		bits[k-1] = bk
		vdiff |= bk ^ anchorBits
	}

	tcount, tshift, shared := tsEncoding(tsDeltas)

	var valueMask uint8
	var positions []int
	for i := 0; i < 8; i++ {
		if (vdiff>>uint(i*8))&0xff != 0 {
			valueMask |= 1 << uint(i)
			positions = append(positions, i)
		}
	}
	raw := len(positions) > RawValuesThreshold
	if raw {
		valueMask = 0xff
	}

	cinfo = cinfoPack(valueMask, tcount, tshift)

	buf := make([]byte, 0, SizeFor(cinfo, n))
	buf = appendBytesMSB(buf, anchor.Ts, 8)
	buf = appendBytesMSB(buf, anchorBits, 8)
	for i := int(tshift) - 1; i >= int(tcount); i-- {
		buf = append(buf, byte(shared>>uint(i*8)))
	}
	for k := 0; k < n-1; k++ {
		buf = appendBytesMSB(buf, tsDeltas[k], int(tcount))
		if raw {
			buf = appendBytesMSB(buf, bits[k], 8)
			continue
		}
		for _, pos := range positions {
			buf = append(buf, byte(bits[k]>>uint(pos*8)))
		}
	}
	return cinfo, buf
}

// UnzipDouble decodes exactly length points from a double chunk produced
// by ZipDouble.
func UnzipDouble(data []byte, length int, cinfo uint16) []Point {
	out := make([]Point, length)
	if length == 0 {
		return out
	}
	pos := 0
	anchorTs := readBytesMSB(data[pos:], 8)
	pos += 8
	anchorBits := readBytesMSB(data[pos:], 8)
	pos += 8
	out[0] = Point{Ts: anchorTs, Value: Value{Double: math.Float64frombits(anchorBits)}}
	if length == 1 {
		return out
	}

	valueMask, tcount, tshift := cinfoUnpack(cinfo)
	raw := valueMask == 0xff
	var positions []int
	if !raw {
		for i := 0; i < 8; i++ {
			if valueMask&(1<<uint(i)) != 0 {
				positions = append(positions, i)
			}
		}
	}

	var shared uint64
	for i := int(tshift) - 1; i >= int(tcount); i-- {
		shared |= uint64(data[pos]) << uint(i*8)
		pos++
	}

	var clearMask uint64
	for _, pposn := range positions {
		clearMask |= 0xff << uint(pposn*8)
	}
	base := anchorBits &^ clearMask

	ts := anchorTs
	for k := 1; k < length; k++ {
		low := readBytesMSB(data[pos:], int(tcount))
		pos += int(tcount)
		ts += shared | low

		var bits uint64
		if raw {
			bits = readBytesMSB(data[pos:], 8)
			pos += 8
		} else {
			bits = base
			for _, pposn := range positions {
				bits |= uint64(data[pos]) << uint(pposn*8)
				pos++
			}
		}
		out[k] = Point{Ts: ts, Value: Value{Double: math.Float64frombits(bits)}}
	}
	return out
}

// Zip dispatches on the points container's value type. String (log)
// series use ZipLog/UnzipLog instead; Zip panics if given TpString.
func Zip(p *Points, a, b int) (cinfo uint16, data []byte) {
	switch p.Type {
	case TpInteger:
		return ZipInt(p.Slice(), a, b)
	case TpDouble:
		return ZipDouble(p.Slice(), a, b)
	default:
		panic("siridb: Zip called on a non-numeric points container")
	}
}

// Unzip is the counterpart of Zip.
func Unzip(tp ValueType, data []byte, length int, cinfo uint16) []Point {
	switch tp {
	case TpInteger:
		return UnzipInt(data, length, cinfo)
	case TpDouble:
		return UnzipDouble(data, length, cinfo)
	default:
		panic("siridb: Unzip called on a non-numeric points container")
	}
}

// ZipLog encodes a range of log (string) points as a simple
// length-prefixed sequence; log values have no fixed width so the
// integer/double delta scheme does not apply. It reuses go-bitstream's
// byte-oriented writer purely for its bit-aligned Flush semantics so the
// on-disk framing matches the numeric chunks this package also emits.
func ZipLog(pts []Point, a, b int) []byte {
	buf := new(bytes.Buffer)
	w := bitstream.NewWriter(buf)
	for i := a; i < b; i++ {
		p := pts[i]
		_ = w.WriteBits(p.Ts, 64)
		_ = w.WriteBits(uint64(len(p.Value.Str)), 64)
		for _, c := range p.Value.Str {
			_ = w.WriteBits(uint64(c), 8)
		}
	}
	_ = w.Flush(bitstream.Zero)
	return buf.Bytes()
}

// UnzipLog decodes exactly length log points.
func UnzipLog(data []byte, length int) []Point {
	r := bitstream.NewReader(bytes.NewReader(data))
	out := make([]Point, length)
	for i := 0; i < length; i++ {
		ts, _ := r.ReadBits(64)
		n, _ := r.ReadBits(64)
		s := make([]byte, n)
		for j := range s {
			c, _ := r.ReadBits(8)
			s[j] = byte(c)
		}
		out[i] = Point{Ts: ts, Value: Value{Str: s}}
	}
	return out
}

// CompressChunk applies the optional second-stage snappy compression to
// an already codec-packed chunk (spec section 3: shard flag
// IS_COMPRESSED). It is only worth calling above a small size since
// snappy has per-block overhead.
func CompressChunk(raw []byte) []byte {
	return snappy.Encode(nil, raw)
}

// DecompressChunk reverses CompressChunk.
func DecompressChunk(compressed []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, ErrCorruptChunk
	}
	return out, nil
}
