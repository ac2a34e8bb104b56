package siridb

import (
	"context"

	"go.uber.org/zap"
)

// Dispatcher turns decoded client packets into responses for one
// attached database, implementing RequestHandler for TCPServer. Only
// REQ_PING and REQ_INSERT are handled directly here; REQ_QUERY is
// delegated to a pluggable query runner so this package does not need
// to depend on the query engine.
type Dispatcher struct {
	DB        *Database
	LocalPool uint16
	Metrics   *Metrics
	Logger    *zap.Logger
	Query     func(ctx context.Context, db *Database, pid uint16, raw interface{}) (*Pkg, error)
}

// Handle implements RequestHandler.
func (d *Dispatcher) Handle(ctx context.Context, pkg *Pkg) (*Pkg, error) {
	switch pkg.Type {
	case ReqPing:
		return &Pkg{PID: pkg.PID, Type: ResAck}, nil

	case ReqInsert:
		raw, err := pkg.Unpack()
		if err != nil {
			return &Pkg{PID: pkg.PID, Type: PktErrInsert}, nil
		}
		pipeline := &InsertPipeline{
			Lookup:    d.DB.Lookup,
			LocalPool: d.LocalPool,
			Precision: d.DB.Precision,
			Series:    d.DB,
			Forward:   d.DB,
		}
		n, err := pipeline.Insert(ctx, raw, 0)
		if d.Metrics != nil {
			d.Metrics.ObserveInsert(n, err)
		}
		if err != nil {
			return &Pkg{PID: pkg.PID, Type: PktErrInsert}, nil
		}
		return &Pkg{PID: pkg.PID, Type: ResInsert}, nil

	case ReqQuery:
		if d.Query == nil {
			return &Pkg{PID: pkg.PID, Type: PktErrQuery}, nil
		}
		raw, err := pkg.Unpack()
		if err != nil {
			return &Pkg{PID: pkg.PID, Type: PktErrQuery}, nil
		}
		return d.Query(ctx, d.DB, pkg.PID, raw)

	default:
		return &Pkg{PID: pkg.PID, Type: PktErrGeneric}, nil
	}
}

