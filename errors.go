package siridb

import "github.com/pkg/errors"

// Error kinds used across the storage, insert, transport and cluster
// paths (see spec section 7). Each is a sentinel; the storage layer
// returns them unwrapped, while listen/accept failures (server.go) and
// per-pool forward failures (insert.go) are wrapped with
// github.com/pkg/errors.
var (
	// Validation
	ErrAmbiguousOption = errors.New("ambiguous option")
	ErrInvalidDBName   = errors.New("invalid database name")
	ErrInvalidWhere    = errors.New("invalid where expression")

	// Insert semantics
	ErrExpectingArray        = errors.New("expecting array")
	ErrExpectingSeriesName   = errors.New("expecting series name")
	ErrExpectingMapOrArray   = errors.New("expecting map or array")
	ErrExpectingIntegerTS    = errors.New("expecting integer timestamp")
	ErrTimestampOutOfRange   = errors.New("timestamp out of range")
	ErrUnsupportedValue      = errors.New("unsupported value")
	ErrExpectingPoint        = errors.New("expecting at least one point")
	ErrExpectingNameAndPoint = errors.New("expecting name and points")
	ErrIncompatibleVersion   = errors.New("incompatible server version")

	// Authorization
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnknownDatabase    = errors.New("unknown database")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrInsufficientAccess = errors.New("insufficient privileges")

	// Transport
	ErrSocketWrite     = errors.New("socket write error")
	ErrTimeout         = errors.New("timeout")
	ErrCancelled       = errors.New("cancelled promise")
	ErrUnexpectedPkg   = errors.New("unexpected packet type")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrIllegalFrame    = errors.New("illegal frame")

	// Storage
	ErrShardIO      = errors.New("shard I/O error")
	ErrCorruptChunk = errors.New("corrupt chunk")
	ErrDiskFull     = errors.New("disk full")
	ErrBufferIO     = errors.New("buffer I/O error")
	ErrDroppedFile  = errors.New("dropped-file write error")

	// Cluster
	ErrNoAvailableServer = errors.New("at least one pool has no server available to process the request")
	ErrServerUnavailable = errors.New("server not accessible")
	ErrVersionSkew       = errors.New("version skew")

	// Allocation
	ErrOutOfMemory = errors.New("out of memory")
)

// Critical is raised when allocation or irrecoverable I/O errors occur;
// it flips the process-wide critical flag observed by the main loop,
// which then initiates orderly shutdown (spec section 7).
type Critical struct {
	Err   error
	Stack string
}

func (c *Critical) Error() string { return c.Err.Error() }

func (c *Critical) Unwrap() error { return c.Err }
