package siridb

import (
	"encoding/binary"
	"io"
)

// PkgHeaderSize is the fixed framed-packet header (spec §6.1): a u32 LE
// length, u16 LE package id, a u8 type and its XOR-0xFF checksum byte.
const PkgHeaderSize = 8

// MaxClientPkgSize is the largest payload a client-facing socket accepts
// before the connection is dropped (spec §6.1).
const MaxClientPkgSize = 20 * 1024 * 1024

// PkgType is the wire-level packet type carried in every frame header.
type PkgType uint8

// Client -> Server request types.
const (
	ReqQuery PkgType = iota + 1
	ReqInsert
	ReqAuth
	ReqPing
	ReqService
	ReqRegisterServer
	ReqFileServers
	ReqFileUsers
	ReqFileGroups
	ReqFileDatabase
)

// Server -> Client response types.
const (
	ResQuery PkgType = iota + 50
	ResInsert
	ResAuthSuccess
	ResAck
	ResFile
	AckService
	AckServiceData
	PktErrMsg
	PktErrQuery
	PktErrInsert
	PktErrServer
	PktErrPool
	PktErrUserAccess
	PktErrNotAuthenticated
	PktErrAuthCredentials
	PktErrAuthUnknownDB
	PktErrFile
	PktErrService
	PktErrServiceInvalidRequest
	PktErrGeneric
)

// Peer <-> Peer (inter-server) types.
const (
	BprotoAuthRequest PkgType = iota + 100
	BprotoFlagsUpdate
	BprotoLogLevelUpdate
	BprotoReplFinished
	BprotoQueryServer
	BprotoQueryUpdate
	BprotoInsertPool
	BprotoInsertServer
	BprotoInsertTestPool
	BprotoInsertTestServer
	BprotoInsertTestedPool
	BprotoInsertTestedServer
	BprotoRegisterServer
	BprotoDropSeries
	BprotoReqGroups
	BprotoEnableBackupMode
	BprotoDisableBackupMode

	// Every peer request above has a symmetric ACK and ERR response,
	// offset into disjoint ranges so a handler can dispatch on type
	// without tracking per-request state.
	bprotoAckBase = BprotoAuthRequest + 50
	bprotoErrBase = BprotoAuthRequest + 100
)

// BprotoAck returns the ACK type paired with a peer request type.
func BprotoAck(req PkgType) PkgType { return req - BprotoAuthRequest + bprotoAckBase }

// BprotoErr returns the ERR type paired with a peer request type.
func BprotoErr(req PkgType) PkgType { return req - BprotoAuthRequest + bprotoErrBase }

// Pkg is one decoded framed packet: header fields plus payload bytes.
type Pkg struct {
	PID  uint16
	Type PkgType
	Data []byte
}

// NewPkg builds a packet with pid and tp, packing v with a Packer sized
// for the payload.
func NewPkg(pid uint16, tp PkgType, v interface{}) (*Pkg, error) {
	p := NewPacker(0)
	if v != nil {
		if err := p.Pack(v); err != nil {
			return nil, err
		}
	}
	return &Pkg{PID: pid, Type: tp, Data: p.Bytes()}, nil
}

// Encode writes the 8-byte header followed by Data to w.
func (pkg *Pkg) Encode(w io.Writer) error {
	var header [PkgHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(pkg.Data)))
	binary.LittleEndian.PutUint16(header[4:6], pkg.PID)
	header[6] = byte(pkg.Type)
	header[7] = byte(pkg.Type) ^ 0xff
	if _, err := w.Write(header[:]); err != nil {
		return ErrSocketWrite
	}
	if len(pkg.Data) == 0 {
		return nil
	}
	if _, err := w.Write(pkg.Data); err != nil {
		return ErrSocketWrite
	}
	return nil
}

// ReadPkg reads and validates one framed packet from r, rejecting a
// corrupt checksum or a client payload over MaxClientPkgSize.
func ReadPkg(r io.Reader, maxSize int) (*Pkg, error) {
	var header [PkgHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(header[0:4])
	pid := binary.LittleEndian.Uint16(header[4:6])
	tp := header[6]
	check := header[7]
	if check != tp^0xff {
		return nil, ErrIllegalFrame
	}
	if maxSize > 0 && int(length) > maxSize {
		return nil, ErrPayloadTooLarge
	}

	data := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
	}
	return &Pkg{PID: pid, Type: PkgType(tp), Data: data}, nil
}

// Unpack decodes the packet's payload as a single packed-object value.
func (pkg *Pkg) Unpack() (interface{}, error) {
	if len(pkg.Data) == 0 {
		return nil, nil
	}
	return NewUnpacker(pkg.Data).Next()
}
