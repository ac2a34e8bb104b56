package siridb

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
)

// Packed-object tag space (spec §6.3). There is no third-party codec
// covering this exact tag layout (msgpack/protobuf/CBOR all use a
// different byte grammar), so this is a clean-room, stdlib-only
// implementation of the scheme the spec prose describes; see
// DESIGN.md.
const (
	tagPosIntMin = 0x00
	tagPosIntMax = 0x3f // 0..63 literal

	tagNegIntMin = 0x40
	tagNegIntMax = 0x7b // -1..-60, value = -(tag-tagNegIntMin+1)

	tagRawMin = 0x7c
	tagRawMax = 0xdf // fixed raw string, length = tag-tagRawMin, 0..99

	tagInt8    = 0xe0
	tagInt16   = 0xe1
	tagInt32   = 0xe2
	tagInt64   = 0xe3
	tagDouble  = 0xe4
	tagDouble0 = 0xe5
	tagDouble1 = 0xe6
	tagDoubleN = 0xe7 // -1.0

	tagArrayMin = 0xe8
	tagArrayMax = 0xed // fixed array, size = tag-tagArrayMin, 0..5

	tagMapMin = 0xee
	tagMapMax = 0xf3 // fixed map, size = tag-tagMapMin, 0..5

	tagOpenArray = 0xf4
	tagOpenMap   = 0xf5
	tagClose     = 0xf6
	tagRawOpen   = 0xf7 // raw string longer than 99 bytes: u32 LE length follows, then the bytes

	tagTrue  = 0xf8
	tagFalse = 0xf9
	tagNull  = 0xfa
)

// Packer serializes Go values into the packed-object byte stream.
type Packer struct {
	buf bytes.Buffer
}

// NewPacker returns an empty packer, optionally pre-sizing its buffer
// (callers mirror the reference's suggested-size heuristic, spec §4.11
// step 2).
func NewPacker(suggestedSize int) *Packer {
	p := &Packer{}
	if suggestedSize > 0 {
		p.buf.Grow(suggestedSize)
	}
	return p
}

// Bytes returns the packed byte stream built so far.
func (p *Packer) Bytes() []byte { return p.buf.Bytes() }

// PackInt writes v using the shortest applicable integer form.
func (p *Packer) PackInt(v int64) {
	switch {
	case v >= 0 && v <= tagPosIntMax:
		p.buf.WriteByte(byte(v))
	case v < 0 && v >= -60:
		p.buf.WriteByte(byte(tagNegIntMin + (-v - 1)))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		p.buf.WriteByte(tagInt8)
		p.buf.WriteByte(byte(v))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		p.buf.WriteByte(tagInt16)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		p.buf.Write(b[:])
	case v >= math.MinInt32 && v <= math.MaxInt32:
		p.buf.WriteByte(tagInt32)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v))
		p.buf.Write(b[:])
	default:
		p.buf.WriteByte(tagInt64)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v))
		p.buf.Write(b[:])
	}
}

// PackDouble writes v, using the dedicated single-byte forms for 0.0,
// 1.0 and -1.0.
func (p *Packer) PackDouble(v float64) {
	switch v {
	case 0.0:
		p.buf.WriteByte(tagDouble0)
	case 1.0:
		p.buf.WriteByte(tagDouble1)
	case -1.0:
		p.buf.WriteByte(tagDoubleN)
	default:
		p.buf.WriteByte(tagDouble)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
		p.buf.Write(b[:])
	}
}

// PackRaw writes a byte string using the fixed-length form when it fits
// (0..99 bytes), otherwise an open-ended raw block framed by an explicit
// uint32 length.
func (p *Packer) PackRaw(v []byte) {
	if len(v) <= 99 {
		p.buf.WriteByte(byte(tagRawMin + len(v)))
		p.buf.Write(v)
		return
	}
	p.buf.WriteByte(tagRawOpen)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(len(v)))
	p.buf.Write(b[:])
	p.buf.Write(v)
}

// PackBool writes a boolean.
func (p *Packer) PackBool(v bool) {
	if v {
		p.buf.WriteByte(tagTrue)
	} else {
		p.buf.WriteByte(tagFalse)
	}
}

// PackNull writes the null constant.
func (p *Packer) PackNull() { p.buf.WriteByte(tagNull) }

// OpenArray begins a streaming array; every subsequent Pack* call until
// CloseContainer belongs to it. Used when the element count is not
// known up front (spec §6.3's "streaming ... forms").
func (p *Packer) OpenArray() { p.buf.WriteByte(tagOpenArray) }

// OpenMap begins a streaming map.
func (p *Packer) OpenMap() { p.buf.WriteByte(tagOpenMap) }

// CloseContainer terminates the innermost OpenArray/OpenMap.
func (p *Packer) CloseContainer() { p.buf.WriteByte(tagClose) }

// FixedArrayHeader writes a fixed-size array header (0..5 elements);
// the caller still packs exactly n values afterward.
func (p *Packer) FixedArrayHeader(n int) bool {
	if n < 0 || n > 5 {
		return false
	}
	p.buf.WriteByte(byte(tagArrayMin + n))
	return true
}

// FixedMapHeader writes a fixed-size map header (0..5 key/value pairs).
func (p *Packer) FixedMapHeader(n int) bool {
	if n < 0 || n > 5 {
		return false
	}
	p.buf.WriteByte(byte(tagMapMin + n))
	return true
}

// Pack serializes an arbitrary Go value, choosing fixed containers when
// the element count is known and small, open containers otherwise.
func (p *Packer) Pack(v interface{}) error {
	switch val := v.(type) {
	case nil:
		p.PackNull()
	case bool:
		p.PackBool(val)
	case int:
		p.PackInt(int64(val))
	case int64:
		p.PackInt(val)
	case uint64:
		if val <= math.MaxInt64 {
			p.PackInt(int64(val))
		} else {
			p.PackDouble(float64(val))
		}
	case float64:
		p.PackDouble(val)
	case string:
		p.PackRaw([]byte(val))
	case []byte:
		p.PackRaw(val)
	case []interface{}:
		if len(val) <= 5 {
			p.FixedArrayHeader(len(val))
		} else {
			p.OpenArray()
		}
		for _, item := range val {
			if err := p.Pack(item); err != nil {
				return err
			}
		}
		if len(val) > 5 {
			p.CloseContainer()
		}
	case map[string]interface{}:
		if len(val) <= 5 {
			p.FixedMapHeader(len(val))
		} else {
			p.OpenMap()
		}
		for k, item := range val {
			p.PackRaw([]byte(k))
			if err := p.Pack(item); err != nil {
				return err
			}
		}
		if len(val) > 5 {
			p.CloseContainer()
		}
	default:
		return ErrUnsupportedValue
	}
	return nil
}

// Unpacker parses a packed-object byte stream back into plain Go
// values (nil, bool, int64, float64, []byte, []interface{},
// map[string]interface{}).
type Unpacker struct {
	r   *bytes.Reader
	eof bool
}

// NewUnpacker wraps raw for sequential decoding via Next.
func NewUnpacker(raw []byte) *Unpacker {
	return &Unpacker{r: bytes.NewReader(raw)}
}

// Next decodes and returns the following value, or io.EOF once the
// stream is exhausted.
func (u *Unpacker) Next() (interface{}, error) {
	tag, err := u.r.ReadByte()
	if err != nil {
		return nil, io.EOF
	}
	return u.decode(tag)
}

func (u *Unpacker) decode(tag byte) (interface{}, error) {
	switch {
	case tag <= tagPosIntMax:
		return int64(tag), nil
	case tag >= tagNegIntMin && tag <= tagNegIntMax:
		return -(int64(tag-tagNegIntMin) + 1), nil
	case tag >= tagRawMin && tag <= tagRawMax:
		n := int(tag - tagRawMin)
		buf := make([]byte, n)
		if _, err := io.ReadFull(u.r, buf); err != nil {
			return nil, ErrIllegalFrame
		}
		return buf, nil
	case tag == tagInt8:
		b, err := u.r.ReadByte()
		if err != nil {
			return nil, ErrIllegalFrame
		}
		return int64(int8(b)), nil
	case tag == tagInt16:
		var b [2]byte
		if _, err := io.ReadFull(u.r, b[:]); err != nil {
			return nil, ErrIllegalFrame
		}
		return int64(int16(binary.LittleEndian.Uint16(b[:]))), nil
	case tag == tagInt32:
		var b [4]byte
		if _, err := io.ReadFull(u.r, b[:]); err != nil {
			return nil, ErrIllegalFrame
		}
		return int64(int32(binary.LittleEndian.Uint32(b[:]))), nil
	case tag == tagInt64:
		var b [8]byte
		if _, err := io.ReadFull(u.r, b[:]); err != nil {
			return nil, ErrIllegalFrame
		}
		return int64(binary.LittleEndian.Uint64(b[:])), nil
	case tag == tagDouble:
		var b [8]byte
		if _, err := io.ReadFull(u.r, b[:]); err != nil {
			return nil, ErrIllegalFrame
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b[:])), nil
	case tag == tagDouble0:
		return 0.0, nil
	case tag == tagDouble1:
		return 1.0, nil
	case tag == tagDoubleN:
		return -1.0, nil
	case tag >= tagArrayMin && tag <= tagArrayMax:
		n := int(tag - tagArrayMin)
		out := make([]interface{}, 0, n)
		for i := 0; i < n; i++ {
			v, err := u.Next()
			if err != nil {
				return nil, ErrIllegalFrame
			}
			out = append(out, v)
		}
		return out, nil
	case tag >= tagMapMin && tag <= tagMapMax:
		n := int(tag - tagMapMin)
		out := make(map[string]interface{}, n)
		for i := 0; i < n; i++ {
			k, err := u.Next()
			if err != nil {
				return nil, ErrIllegalFrame
			}
			kb, ok := k.([]byte)
			if !ok {
				return nil, ErrIllegalFrame
			}
			v, err := u.Next()
			if err != nil {
				return nil, ErrIllegalFrame
			}
			out[string(kb)] = v
		}
		return out, nil
	case tag == tagOpenArray:
		var out []interface{}
		for {
			b, err := u.r.ReadByte()
			if err != nil {
				return nil, ErrIllegalFrame
			}
			if b == tagClose {
				break
			}
			v, err := u.decode(b)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		if out == nil {
			out = []interface{}{}
		}
		return out, nil
	case tag == tagOpenMap:
		out := make(map[string]interface{})
		for {
			b, err := u.r.ReadByte()
			if err != nil {
				return nil, ErrIllegalFrame
			}
			if b == tagClose {
				break
			}
			k, err := u.decode(b)
			if err != nil {
				return nil, err
			}
			kb, ok := k.([]byte)
			if !ok {
				return nil, ErrIllegalFrame
			}
			v, err := u.Next()
			if err != nil {
				return nil, ErrIllegalFrame
			}
			out[string(kb)] = v
		}
		return out, nil
	case tag == tagRawOpen:
		var lb [4]byte
		if _, err := io.ReadFull(u.r, lb[:]); err != nil {
			return nil, ErrIllegalFrame
		}
		n := binary.LittleEndian.Uint32(lb[:])
		buf := make([]byte, n)
		if _, err := io.ReadFull(u.r, buf); err != nil {
			return nil, ErrIllegalFrame
		}
		return buf, nil
	case tag == tagTrue:
		return true, nil
	case tag == tagFalse:
		return false, nil
	case tag == tagNull:
		return nil, nil
	default:
		return nil, ErrIllegalFrame
	}
}

// UnpackAll decodes every top-level value in the stream.
func (u *Unpacker) UnpackAll() ([]interface{}, error) {
	var out []interface{}
	for {
		v, err := u.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}
