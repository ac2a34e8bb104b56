package query

import (
	"context"
	"testing"

	siridb "github.com/siridb/siridb-go"
)

func newTestDB(t *testing.T) *siridb.Database {
	t.Helper()
	return siridb.NewDatabase("test", siridb.PrecisionSeconds, 64, siridb.NewLookup(1))
}

func mustInsert(t *testing.T, db *siridb.Database, name string, points [][2]int64) {
	t.Helper()
	s, err := db.GetOrCreateSeries(name, siridb.TpInteger)
	if err != nil {
		t.Fatalf("GetOrCreateSeries: %v", err)
	}
	for _, p := range points {
		s.AddPoint(uint64(p[0]), siridb.Value{Int64: p[1]})
	}
}

func TestRunSelectWithoutAggregate(t *testing.T) {
	db := newTestDB(t)
	mustInsert(t, db, "cpu.user", [][2]int64{{1, 10}, {2, 20}})

	pkg, err := Run(context.Background(), db, 7, `select * from "cpu.user"`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pkg.Type != siridb.ResQuery {
		t.Fatalf("expected ResQuery, got %d", pkg.Type)
	}

	result, err := pkg.Unpack()
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	m, ok := result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map result, got %T", result)
	}
	if _, ok := m["cpu.user"]; !ok {
		t.Fatalf("expected cpu.user in result, got %v", m)
	}
}

func TestRunSelectWithAggregate(t *testing.T) {
	db := newTestDB(t)
	mustInsert(t, db, "cpu.user", [][2]int64{{1, 10}, {2, 20}, {3, 30}})

	pkg, err := Run(context.Background(), db, 1, `select sum from "cpu.user"`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	result, err := pkg.Unpack()
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	m := result.(map[string]interface{})
	series, ok := m["cpu.user"].([]interface{})
	if !ok || len(series) != 1 {
		t.Fatalf("expected one aggregated point, got %v", m["cpu.user"])
	}
}

func TestRunListSeries(t *testing.T) {
	db := newTestDB(t)
	mustInsert(t, db, "cpu.user", [][2]int64{{1, 1}})
	mustInsert(t, db, "cpu.sys", [][2]int64{{1, 1}})

	pkg, err := Run(context.Background(), db, 2, "list series")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	result, err := pkg.Unpack()
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	names, ok := result.([]interface{})
	if !ok || len(names) != 2 {
		t.Fatalf("expected 2 series names, got %v", result)
	}
}

func TestRunCountSeriesWithWhere(t *testing.T) {
	db := newTestDB(t)
	mustInsert(t, db, "cpu.user", [][2]int64{{1, 1}})
	mustInsert(t, db, "mem.used", [][2]int64{{1, 1}})

	pkg, err := Run(context.Background(), db, 3, `count series where name ~ cpu.*`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	result, err := pkg.Unpack()
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if result.(int64) != 1 {
		t.Fatalf("expected count 1, got %v", result)
	}
}

func TestRunDropSeries(t *testing.T) {
	db := newTestDB(t)
	mustInsert(t, db, "cpu.user", [][2]int64{{1, 1}})

	pkg, err := Run(context.Background(), db, 4, `drop series where name == cpu.user`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	result, err := pkg.Unpack()
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if result.(int64) != 1 {
		t.Fatalf("expected 1 dropped series, got %v", result)
	}
	if _, ok := db.LookupSeries("cpu.user"); ok {
		t.Fatal("expected series to be dropped")
	}
}

func TestRunInvalidStatementReturnsErrQuery(t *testing.T) {
	db := newTestDB(t)
	pkg, err := Run(context.Background(), db, 5, "not a real statement")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pkg.Type != siridb.PktErrQuery {
		t.Fatalf("expected PktErrQuery, got %d", pkg.Type)
	}
}
