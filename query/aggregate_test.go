package query

import (
	"testing"

	siridb "github.com/siridb/siridb-go"
)

func TestAggMeanSumMinMax(t *testing.T) {
	pts := []siridb.Point{
		{Ts: 1, Value: siridb.Value{Int64: 10}},
		{Ts: 2, Value: siridb.Value{Int64: 20}},
		{Ts: 3, Value: siridb.Value{Int64: 30}},
	}
	if got := aggMean(siridb.TpInteger, pts).Value.Int64; got != 20 {
		t.Fatalf("mean = %d, want 20", got)
	}
	if got := aggSum(siridb.TpInteger, pts).Value.Int64; got != 60 {
		t.Fatalf("sum = %d, want 60", got)
	}
	if got := aggMin(siridb.TpInteger, pts).Value.Int64; got != 10 {
		t.Fatalf("min = %d, want 10", got)
	}
	if got := aggMax(siridb.TpInteger, pts).Value.Int64; got != 30 {
		t.Fatalf("max = %d, want 30", got)
	}
	if got := aggCount(siridb.TpInteger, pts).Value.Int64; got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
}

func TestAggMedianEvenAndOdd(t *testing.T) {
	odd := []siridb.Point{
		{Ts: 1, Value: siridb.Value{Int64: 5}},
		{Ts: 2, Value: siridb.Value{Int64: 1}},
		{Ts: 3, Value: siridb.Value{Int64: 3}},
	}
	if got := aggMedian(siridb.TpInteger, odd).Value.Int64; got != 3 {
		t.Fatalf("median(odd) = %d, want 3", got)
	}

	even := []siridb.Point{
		{Ts: 1, Value: siridb.Value{Int64: 1}},
		{Ts: 2, Value: siridb.Value{Int64: 2}},
		{Ts: 3, Value: siridb.Value{Int64: 3}},
		{Ts: 4, Value: siridb.Value{Int64: 4}},
	}
	if got := aggMedian(siridb.TpInteger, even).Value.Int64; got != 2 {
		t.Fatalf("median(even) = %d, want avg(2,3)=2", got)
	}
}

func TestAggFirstLast(t *testing.T) {
	pts := []siridb.Point{
		{Ts: 1, Value: siridb.Value{Int64: 7}},
		{Ts: 9, Value: siridb.Value{Int64: 42}},
	}
	if got := aggFirst(siridb.TpInteger, pts).Value.Int64; got != 7 {
		t.Fatalf("first = %d, want 7", got)
	}
	if got := aggLast(siridb.TpInteger, pts).Value.Int64; got != 42 {
		t.Fatalf("last = %d, want 42", got)
	}
}

func TestGroupByWindows(t *testing.T) {
	pts := siridb.NewPoints(siridb.TpInteger, 0)
	for ts := uint64(0); ts < 10; ts++ {
		pts.AddPoint(ts, siridb.Value{Int64: int64(ts)})
	}
	grouped := GroupBy(siridb.TpInteger, pts, 5, aggSum)
	if grouped.Len() != 2 {
		t.Fatalf("expected 2 windows, got %d", grouped.Len())
	}
	// window [0,5): 0+1+2+3+4 = 10; window [5,10): 5+6+7+8+9 = 35
	if grouped.At(0).Value.Int64 != 10 {
		t.Fatalf("window 0 sum = %d, want 10", grouped.At(0).Value.Int64)
	}
	if grouped.At(1).Value.Int64 != 35 {
		t.Fatalf("window 1 sum = %d, want 35", grouped.At(1).Value.Int64)
	}
}

func TestGroupByZeroIntervalReducesWhole(t *testing.T) {
	pts := siridb.NewPoints(siridb.TpInteger, 0)
	pts.AddPoint(1, siridb.Value{Int64: 10})
	pts.AddPoint(2, siridb.Value{Int64: 20})
	grouped := GroupBy(siridb.TpInteger, pts, 0, aggMean)
	if grouped.Len() != 1 {
		t.Fatalf("expected a single point, got %d", grouped.Len())
	}
	if grouped.At(0).Value.Int64 != 15 {
		t.Fatalf("mean = %d, want 15", grouped.At(0).Value.Int64)
	}
}
