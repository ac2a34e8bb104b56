package query

import (
	"sort"

	siridb "github.com/siridb/siridb-go"
)

// AggregateFunc reduces a non-empty run of points (already known to share
// a single series' type) to one output point. The timestamp convention is
// the run's last point's ts, matching the windowing behaviour described
// for group-by: "every group's aggregate produces one output point."
type AggregateFunc func(tp siridb.ValueType, pts []siridb.Point) siridb.Point

// Aggregates maps the fixed set of supported function names (as they
// appear in a query's aggregate(...) clause) to their implementation.
var Aggregates = map[string]AggregateFunc{
	"mean":   aggMean,
	"min":    aggMin,
	"max":    aggMax,
	"sum":    aggSum,
	"count":  aggCount,
	"median": aggMedian,
	"first":  aggFirst,
	"last":   aggLast,
}

func aggMean(tp siridb.ValueType, pts []siridb.Point) siridb.Point {
	last := pts[len(pts)-1].Ts
	if tp == siridb.TpString {
		return aggLast(tp, pts)
	}
	var sum float64
	for _, p := range pts {
		sum += numericValue(tp, p.Value)
	}
	mean := sum / float64(len(pts))
	return siridb.Point{Ts: last, Value: fromFloat(tp, mean)}
}

func aggMin(tp siridb.ValueType, pts []siridb.Point) siridb.Point {
	if tp == siridb.TpString {
		return aggExtremeString(pts, true)
	}
	best := numericValue(tp, pts[0].Value)
	for _, p := range pts[1:] {
		if v := numericValue(tp, p.Value); v < best {
			best = v
		}
	}
	return siridb.Point{Ts: pts[len(pts)-1].Ts, Value: fromFloat(tp, best)}
}

func aggMax(tp siridb.ValueType, pts []siridb.Point) siridb.Point {
	if tp == siridb.TpString {
		return aggExtremeString(pts, false)
	}
	best := numericValue(tp, pts[0].Value)
	for _, p := range pts[1:] {
		if v := numericValue(tp, p.Value); v > best {
			best = v
		}
	}
	return siridb.Point{Ts: pts[len(pts)-1].Ts, Value: fromFloat(tp, best)}
}

func aggExtremeString(pts []siridb.Point, min bool) siridb.Point {
	best := pts[0]
	for _, p := range pts[1:] {
		less := string(p.Value.Str) < string(best.Value.Str)
		if less == min {
			best = p
		}
	}
	return siridb.Point{Ts: pts[len(pts)-1].Ts, Value: best.Value}
}

func aggSum(tp siridb.ValueType, pts []siridb.Point) siridb.Point {
	var sum float64
	for _, p := range pts {
		sum += numericValue(tp, p.Value)
	}
	return siridb.Point{Ts: pts[len(pts)-1].Ts, Value: fromFloat(tp, sum)}
}

func aggCount(_ siridb.ValueType, pts []siridb.Point) siridb.Point {
	return siridb.Point{Ts: pts[len(pts)-1].Ts, Value: siridb.Value{Int64: int64(len(pts))}}
}

// aggMedian sorts by value and picks the middle element; an even-length
// run averages the two middle numeric values, or takes the lower of the
// two for strings (ordering is well-defined but there is no meaningful
// average of two strings).
func aggMedian(tp siridb.ValueType, pts []siridb.Point) siridb.Point {
	sorted := make([]siridb.Point, len(pts))
	copy(sorted, pts)
	last := pts[len(pts)-1].Ts

	if tp == siridb.TpString {
		sort.Slice(sorted, func(i, j int) bool { return string(sorted[i].Value.Str) < string(sorted[j].Value.Str) })
		return siridb.Point{Ts: last, Value: sorted[(len(sorted)-1)/2].Value}
	}

	sort.Slice(sorted, func(i, j int) bool { return numericValue(tp, sorted[i].Value) < numericValue(tp, sorted[j].Value) })
	n := len(sorted)
	if n%2 == 1 {
		return siridb.Point{Ts: last, Value: sorted[n/2].Value}
	}
	mid := (numericValue(tp, sorted[n/2-1].Value) + numericValue(tp, sorted[n/2].Value)) / 2
	return siridb.Point{Ts: last, Value: fromFloat(tp, mid)}
}

func aggFirst(_ siridb.ValueType, pts []siridb.Point) siridb.Point {
	return siridb.Point{Ts: pts[len(pts)-1].Ts, Value: pts[0].Value}
}

func aggLast(_ siridb.ValueType, pts []siridb.Point) siridb.Point {
	return pts[len(pts)-1]
}

func numericValue(tp siridb.ValueType, v siridb.Value) float64 {
	if tp == siridb.TpDouble {
		return v.Double
	}
	return float64(v.Int64)
}

func fromFloat(tp siridb.ValueType, f float64) siridb.Value {
	if tp == siridb.TpDouble {
		return siridb.Value{Double: f}
	}
	return siridb.Value{Int64: int64(f)}
}

// GroupBy reduces pts into fixed-width, non-overlapping windows of
// intervalTicks (in the database's current time precision) starting at
// the first point's timestamp, applying fn once per non-empty window.
// Passing an interval of zero reduces the whole run to a single point.
func GroupBy(tp siridb.ValueType, pts *siridb.Points, intervalTicks uint64, fn AggregateFunc) *siridb.Points {
	out := siridb.NewPoints(tp, 0)
	if pts.Len() == 0 {
		return out
	}
	if intervalTicks == 0 {
		p := fn(tp, pts.Slice())
		out.AddPoint(p.Ts, p.Value)
		return out
	}

	windowStart := pts.At(0).Ts
	var run []siridb.Point
	flush := func() {
		if len(run) > 0 {
			p := fn(tp, run)
			out.AddPoint(p.Ts, p.Value)
			run = nil
		}
	}
	for i := 0; i < pts.Len(); i++ {
		p := pts.At(i)
		for p.Ts >= windowStart+intervalTicks {
			flush()
			windowStart += intervalTicks
		}
		run = append(run, p)
	}
	flush()
	return out
}
