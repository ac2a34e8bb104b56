package siridb

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randIntPoints(r *rand.Rand, n int) []Point {
	pts := make([]Point, n)
	ts := uint64(r.Intn(100) + 1)
	for i := 0; i < n; i++ {
		ts += uint64(r.Intn(50))
		pts[i] = Point{Ts: ts, Value: Value{Int64: r.Int63() - r.Int63()}}
	}
	return pts
}

func randDoublePoints(r *rand.Rand, n int) []Point {
	pts := make([]Point, n)
	ts := uint64(r.Intn(100) + 1)
	for i := 0; i < n; i++ {
		ts += uint64(r.Intn(50))
		pts[i] = Point{Ts: ts, Value: Value{Double: r.NormFloat64() * 1000}}
	}
	return pts
}

func TestZipIntRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, n := range []int{1, 2, 3, 5, 17, 64, 1024} {
		pts := randIntPoints(r, n)
		for trial := 0; trial < 5; trial++ {
			a := r.Intn(n)
			b := a + 1 + r.Intn(n-a)
			cinfo, data := ZipInt(pts, a, b)
			require.Equal(t, SizeFor(cinfo, b-a), len(data), "n=%d a=%d b=%d", n, a, b)
			out := UnzipInt(data, b-a, cinfo)
			for i := range out {
				assert.Equal(t, pts[a+i].Ts, out[i].Ts, "ts mismatch n=%d a=%d b=%d i=%d", n, a, b, i)
				assert.Equal(t, pts[a+i].Value.Int64, out[i].Value.Int64, "val mismatch n=%d a=%d b=%d i=%d", n, a, b, i)
			}
		}
	}
}

func TestZipDoubleRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for _, n := range []int{1, 2, 3, 5, 17, 64, 1024} {
		pts := randDoublePoints(r, n)
		for trial := 0; trial < 5; trial++ {
			a := r.Intn(n)
			b := a + 1 + r.Intn(n-a)
			cinfo, data := ZipDouble(pts, a, b)
			require.Equal(t, SizeFor(cinfo, b-a), len(data), "n=%d a=%d b=%d", n, a, b)
			out := UnzipDouble(data, b-a, cinfo)
			for i := range out {
				assert.Equal(t, pts[a+i].Ts, out[i].Ts, "ts mismatch n=%d a=%d b=%d i=%d", n, a, b, i)
				assert.Equal(t, pts[a+i].Value.Double, out[i].Value.Double, "val mismatch n=%d a=%d b=%d i=%d", n, a, b, i)
			}
		}
	}
}

func TestZipIntConstantDeltaIsCompact(t *testing.T) {
	pts := make([]Point, 100)
	for i := range pts {
		pts[i] = Point{Ts: uint64(i * 10), Value: Value{Int64: int64(i)}}
	}
	cinfo, data := ZipInt(pts, 0, len(pts))
	_, tcount, _ := cinfoUnpack(cinfo)
	assert.Equal(t, uint8(0), tcount, "constant ts delta should need zero variable ts bytes")
	out := UnzipInt(data, len(pts), cinfo)
	for i, p := range pts {
		assert.Equal(t, p.Ts, out[i].Ts)
		assert.Equal(t, p.Value.Int64, out[i].Value.Int64)
	}
}

func TestZipLogRoundTrip(t *testing.T) {
	pts := []Point{
		{Ts: 1, Value: Value{Str: []byte("hello")}},
		{Ts: 2, Value: Value{Str: []byte("")}},
		{Ts: 9, Value: Value{Str: []byte("world of logs")}},
	}
	data := ZipLog(pts, 0, len(pts))
	out := UnzipLog(data, len(pts))
	for i, p := range pts {
		assert.Equal(t, p.Ts, out[i].Ts)
		assert.Equal(t, string(p.Value.Str), string(out[i].Value.Str))
	}
}

func TestCompressChunkRoundTrip(t *testing.T) {
	pts := make([]Point, 200)
	for i := range pts {
		pts[i] = Point{Ts: uint64(i), Value: Value{Int64: int64(i % 7)}}
	}
	_, data := ZipInt(pts, 0, len(pts))
	compressed := CompressChunk(data)
	out, err := DecompressChunk(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}
