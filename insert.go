package siridb

import (
	"context"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// InsertFlag mirrors the INSERT_FLAG_* bits carried on a client insert
// packet (spec §4.11): whether this is a re-index test insert, whether
// it targets a single pool directly, and whether it is itself the
// initial replication of another pool's data.
type InsertFlag uint8

const (
	InsertFlagTest InsertFlag = 1 << iota
	InsertFlagTested
	InsertFlagPool
	InsertFlagInitRepl
)

// RawInsertPayload is the decoded (but not yet validated) insert body:
// either a map of series name -> points, or a sequence of
// [name, points] pairs, both permitted by the wire format.
type RawInsertPayload interface{}

// InsertPoint is one decoded (ts, value) pair awaiting partition and
// apply.
type InsertPoint struct {
	Ts    uint64
	Value Value
}

// InsertSeries is one series' worth of points carried by a single
// insert payload, typed by its first point's value.
type InsertSeries struct {
	Name   string
	Type   ValueType
	Points []InsertPoint
}

// ParseInsertPayload walks raw with the same validation rules as the
// reference zero-copy unpacker (spec §4.11 step 1), producing a typed,
// per-series point list. It never scales or reorders timestamps; that
// is Series.AddPoint's job.
func ParseInsertPayload(raw RawInsertPayload, precision Precision) ([]InsertSeries, error) {
	pairs, err := rawPairs(raw)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, ErrExpectingArray
	}

	out := make([]InsertSeries, 0, len(pairs))
	for _, pr := range pairs {
		series, err := parseInsertSeries(pr.name, pr.points, precision)
		if err != nil {
			return nil, err
		}
		out = append(out, series)
	}
	return out, nil
}

type rawPair struct {
	name   string
	points interface{}
}

// rawPairs normalizes the two permitted outer shapes (map or array of
// pairs) into a uniform (name, points) list.
func rawPairs(raw RawInsertPayload) ([]rawPair, error) {
	switch v := raw.(type) {
	case map[string]interface{}:
		out := make([]rawPair, 0, len(v))
		for name, points := range v {
			out = append(out, rawPair{name: name, points: points})
		}
		return out, nil
	case []interface{}:
		out := make([]rawPair, 0, len(v))
		for _, item := range v {
			entry, ok := item.([]interface{})
			if !ok || len(entry) != 2 {
				return nil, ErrExpectingNameAndPoint
			}
			name, ok := entry[0].(string)
			if !ok {
				return nil, ErrExpectingSeriesName
			}
			out = append(out, rawPair{name: name, points: entry[1]})
		}
		return out, nil
	default:
		return nil, ErrExpectingMapOrArray
	}
}

func parseInsertSeries(name string, rawPoints interface{}, precision Precision) (InsertSeries, error) {
	if name == "" {
		return InsertSeries{}, ErrExpectingSeriesName
	}

	items, ok := rawPoints.([]interface{})
	if !ok || len(items) == 0 {
		return InsertSeries{}, ErrExpectingPoint
	}

	// A single [ts, value] pair is itself a valid "points" shape; detect
	// it by checking whether the first element is a scalar timestamp
	// rather than a nested point.
	if _, isPoint := items[0].([]interface{}); !isPoint {
		items = []interface{}{items}
	}

	series := InsertSeries{Name: name}
	series.Points = make([]InsertPoint, 0, len(items))
	typeSet := false

	for _, raw := range items {
		pair, ok := raw.([]interface{})
		if !ok || len(pair) != 2 {
			return InsertSeries{}, ErrExpectingNameAndPoint
		}
		ts, ok := toTimestamp(pair[0])
		if !ok {
			return InsertSeries{}, ErrExpectingIntegerTS
		}
		if !precision.InRange(ts) {
			return InsertSeries{}, ErrTimestampOutOfRange
		}
		val, tp, ok := toValue(pair[1])
		if !ok {
			return InsertSeries{}, ErrUnsupportedValue
		}
		if !typeSet {
			series.Type = tp
			typeSet = true
		} else if series.Type != tp {
			return InsertSeries{}, ErrUnsupportedValue
		}
		series.Points = append(series.Points, InsertPoint{Ts: ts, Value: val})
	}
	return series, nil
}

func toTimestamp(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint64:
		return n, true
	default:
		return 0, false
	}
}

func toValue(v interface{}) (Value, ValueType, bool) {
	switch n := v.(type) {
	case int64:
		return Value{Int64: n}, TpInteger, true
	case int:
		return Value{Int64: int64(n)}, TpInteger, true
	case float64:
		return Value{Double: n}, TpDouble, true
	case string:
		return Value{Str: []byte(n)}, TpString, true
	case []byte:
		return Value{Str: n}, TpString, true
	default:
		return Value{}, 0, false
	}
}

// PoolBatch is one pool's partition of an insert payload: the series
// destined for it and their total point count, equivalent to one
// per-pool qp_packer_t (spec §4.11 step 2-3).
type PoolBatch struct {
	PoolID    uint16
	Series    []InsertSeries
	NumPoints int
}

// PartitionByPool groups series by the pool C8's lookup table assigns
// them to.
func PartitionByPool(series []InsertSeries, lookup *Lookup) map[uint16]*PoolBatch {
	batches := make(map[uint16]*PoolBatch)
	for _, s := range series {
		pid := lookup.PoolFor([]byte(s.Name))
		b, ok := batches[pid]
		if !ok {
			b = &PoolBatch{PoolID: pid}
			batches[pid] = b
		}
		b.Series = append(b.Series, s)
		b.NumPoints += len(s.Points)
	}
	return batches
}

// SeriesResolver resolves (creating on first write) the local Series
// backing a name, for the local pool's batch.
type SeriesResolver interface {
	GetOrCreateSeries(name string, tp ValueType) (*Series, error)
}

// RemoteForwarder delivers a non-local pool's batch to that pool's
// server and blocks until it is acknowledged, using BPROTO_INSERT_POOL
// or, while test is set (re-index in progress), BPROTO_INSERT_TEST_POOL.
type RemoteForwarder interface {
	ForwardPool(ctx context.Context, batch *PoolBatch, test bool) error
}

// InsertPipeline wires parse, partition, forward and local-apply into
// the single operation spec §4.11 describes (C11).
type InsertPipeline struct {
	Lookup    *Lookup
	LocalPool uint16
	Precision Precision
	Series    SeriesResolver
	Forward   RemoteForwarder

	// FlushCapacity is the live-buffer point count at which a series is
	// packed into a shard chunk; Flush performs the actual write.
	FlushCapacity int
	Flush         func(series *Series) error
}

// Insert runs the full pipeline and returns the total number of points
// accepted. On failure it returns 0 and the local-apply error combined
// (multierr) with the first failed remote forward (spec §4.11 step 5).
func (p *InsertPipeline) Insert(ctx context.Context, raw RawInsertPayload, flags InsertFlag) (uint64, error) {
	series, err := ParseInsertPayload(raw, p.Precision)
	if err != nil {
		return 0, err
	}

	batches := PartitionByPool(series, p.Lookup)

	var total uint64
	var localBatch *PoolBatch
	test := flags&InsertFlagTest != 0

	g, gctx := errgroup.WithContext(ctx)
	for pid, batch := range batches {
		total += uint64(batch.NumPoints)
		if pid == p.LocalPool {
			localBatch = batch
			continue
		}
		batch := batch
		g.Go(func() error {
			span, spanCtx := opentracing.StartSpanFromContext(gctx, "insert.forward_pool")
			defer span.Finish()
			if err := p.Forward.ForwardPool(spanCtx, batch, test); err != nil {
				return errors.Wrapf(err, "pool %d", batch.PoolID)
			}
			return nil
		})
	}

	var localErr error
	if localBatch != nil {
		localErr = p.applyLocal(localBatch)
	}
	remoteErr := g.Wait()

	if combined := multierr.Combine(localErr, remoteErr); combined != nil {
		return 0, combined
	}
	return total, nil
}

func (p *InsertPipeline) applyLocal(batch *PoolBatch) error {
	for _, s := range batch.Series {
		series, err := p.Series.GetOrCreateSeries(s.Name, s.Type)
		if err != nil {
			return err
		}
		for _, pt := range s.Points {
			series.AddPoint(pt.Ts, pt.Value)
			if p.Flush != nil && series.ShouldFlush(p.FlushCapacity) {
				if err := p.Flush(series); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
