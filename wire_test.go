package siridb

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPkgEncodeDecodeRoundTrip(t *testing.T) {
	pkg, err := NewPkg(7, ReqInsert, map[string]interface{}{
		"cpu": []interface{}{[]interface{}{int64(1), int64(2)}},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, pkg.Encode(&buf))

	got, err := ReadPkg(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), got.PID)
	assert.Equal(t, ReqInsert, got.Type)

	val, err := got.Unpack()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"cpu": []interface{}{[]interface{}{int64(1), int64(2)}},
	}, val)
}

func TestReadPkgRejectsBadChecksum(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0, 0, 0, byte(ReqPing), 0x00}) // wrong checksum
	_, err := ReadPkg(&buf, 0)
	assert.ErrorIs(t, err, ErrIllegalFrame)
}

func TestReadPkgRejectsOversizePayload(t *testing.T) {
	pkg, err := NewPkg(1, ReqQuery, "payload larger than the configured cap")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, pkg.Encode(&buf))

	_, err = ReadPkg(&buf, 4) // cap far below the actual payload size
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestBprotoAckAndErrOffsets(t *testing.T) {
	ack := BprotoAck(BprotoInsertPool)
	errType := BprotoErr(BprotoInsertPool)
	assert.NotEqual(t, ack, errType)
	assert.NotEqual(t, ack, BprotoInsertPool)
}
