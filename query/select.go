package query

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	siridb "github.com/siridb/siridb-go"
)

// Run parses and executes one query statement against db, returning the
// framed response packet. Its signature matches Dispatcher.Query, so a
// dispatcher wires it in directly as the pluggable query runner.
func Run(ctx context.Context, db *siridb.Database, pid uint16, raw interface{}) (*siridb.Pkg, error) {
	statement, err := statementText(raw)
	if err != nil {
		return &siridb.Pkg{PID: pid, Type: siridb.PktErrQuery}, nil
	}

	tree, err := Parse(statement)
	if err != nil {
		return &siridb.Pkg{PID: pid, Type: siridb.PktErrQuery}, nil
	}

	result, err := execute(ctx, db, tree)
	if err != nil {
		return &siridb.Pkg{PID: pid, Type: siridb.PktErrQuery}, nil
	}

	pkg, err := siridb.NewPkg(pid, siridb.ResQuery, result)
	if err != nil {
		return &siridb.Pkg{PID: pid, Type: siridb.PktErrQuery}, nil
	}
	return pkg, nil
}

func statementText(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case map[string]interface{}:
		if q, ok := v["query"].(string); ok {
			return q, nil
		}
	}
	return "", fmt.Errorf("query: payload does not contain a statement")
}

// seriesSubject adapts one series' properties to the where-expression
// Subject interface for the "series" object kind.
func seriesSubject(name string, s *siridb.Series) Subject {
	length, start, end := s.UpdateProps()
	return subjectFunc(func(prop string) (interface{}, bool) {
		switch prop {
		case "name":
			return name, true
		case "length":
			return int64(length), true
		case "start":
			return int64(start), true
		case "end":
			return int64(end), true
		default:
			return nil, false
		}
	})
}

// matchSeries builds the match predicate for a from-clause series
// expression: "*" matches everything, a pattern containing a regex
// metacharacter compiles as a regular expression anchored to the full
// name, anything else is an exact literal match.
func matchSeries(pattern string) (func(name string) bool, error) {
	if pattern == "*" {
		return func(string) bool { return true }, nil
	}
	if !strings.ContainsAny(pattern, `.*+?[]()^$|\`) {
		return func(name string) bool { return name == pattern }, nil
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, siridb.ErrInvalidWhere
	}
	return re.MatchString, nil
}

// selectedSeries walks db's series index, collecting every series whose
// name matches the from-clause pattern and, if present, the where-clause.
func selectedSeries(db *siridb.Database, seriesPattern string, where *Node) (map[string]*siridb.Series, error) {
	match, err := matchSeries(seriesPattern)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*siridb.Series)
	var walkErr error
	db.WalkSeries(func(name string, s *siridb.Series) bool {
		if !match(name) {
			return true
		}
		if where != nil {
			ok, err := Eval(where.Children[0], seriesSubject(name, s))
			if err != nil {
				walkErr = err
				return false
			}
			if !ok {
				return true
			}
		}
		out[name] = s
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}

func execute(ctx context.Context, db *siridb.Database, tree *Node) (interface{}, error) {
	switch tree.Gid {
	case GidList:
		return executeList(db, tree)
	case GidCount:
		return executeCount(db, tree)
	case GidDrop:
		return executeDrop(db, tree)
	case GidSelect:
		return executeSelect(ctx, db, tree)
	default:
		return nil, fmt.Errorf("query: unsupported statement kind %d", tree.Gid)
	}
}

func whereOf(children []*Node) *Node {
	for _, c := range children {
		if c.Gid == GidWhere {
			return c
		}
	}
	return nil
}

func executeList(db *siridb.Database, tree *Node) (interface{}, error) {
	all, err := selectedSeries(db, "*", whereOf(tree.Children))
	if err != nil {
		return nil, err
	}
	names := make([]interface{}, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	return names, nil
}

func executeCount(db *siridb.Database, tree *Node) (interface{}, error) {
	all, err := selectedSeries(db, "*", whereOf(tree.Children))
	if err != nil {
		return nil, err
	}
	return int64(len(all)), nil
}

func executeDrop(db *siridb.Database, tree *Node) (interface{}, error) {
	all, err := selectedSeries(db, "*", whereOf(tree.Children))
	if err != nil {
		return nil, err
	}
	n := 0
	for name := range all {
		if _, ok := db.DropSeries(name); ok {
			n++
		}
	}
	return int64(n), nil
}

// executeSelect builds one enter task per matched series (fetch its
// points, apply the requested aggregates, stash the result) plus a single
// exit task that has nothing left to do but exists to keep the walker's
// two-phase shape real rather than vestigial; additional exit-phase work
// (e.g. emitting per-query trace spans) has a natural home here.
func executeSelect(ctx context.Context, db *siridb.Database, tree *Node) (interface{}, error) {
	var aggrs []*Node
	var seriesExpr, where, between *Node
	for _, c := range tree.Children {
		switch c.Gid {
		case GidAggregate:
			// "select * from ..." means "no aggregate, raw points" —
			// the bare wildcard is not itself an aggregate function.
			if c.Text != "*" {
				aggrs = append(aggrs, c)
			}
		case GidSeriesExpr:
			seriesExpr = c
		case GidWhere:
			where = c
		case GidBetween:
			between = c
		}
	}
	if seriesExpr == nil {
		return nil, fmt.Errorf("query: select statement has no from-clause")
	}

	startTs, endTs := uint64(0), ^uint64(0)
	if between != nil {
		s, err1 := strconv.ParseUint(between.Children[0].Text, 10, 64)
		e, err2 := strconv.ParseUint(between.Children[1].Text, 10, 64)
		if err1 != nil || err2 != nil {
			return nil, siridb.ErrInvalidWhere
		}
		startTs, endTs = s, e
	}

	matches, err := selectedSeries(db, seriesExpr.Text, where)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	result := make(map[string]interface{}, len(matches))

	w := &Walker{}
	for name, s := range matches {
		name, s := name, s
		w.AddEnter(func(ctx context.Context) error {
			pts, err := s.GetPoints(startTs, endTs, db.Shard)
			if err != nil {
				return err
			}
			raw := applyAggregates(s.Type, pts, aggrs)
			mu.Lock()
			result[name] = raw
			mu.Unlock()
			return nil
		})
	}
	w.AddExit(func(context.Context) error { return nil })

	if err := w.Run(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// applyAggregates runs every requested aggregate(interval) clause over
// pts and flattens the (possibly several) resulting runs back into the
// same [[ts, value], ...] point-list shape a select with no aggregate at
// all produces.
func applyAggregates(tp siridb.ValueType, pts *siridb.Points, aggrs []*Node) []interface{} {
	if len(aggrs) == 0 {
		return pointsToRaw(pts)
	}

	merged := siridb.NewPoints(tp, 0)
	for _, a := range aggrs {
		fn, ok := Aggregates[strings.ToLower(a.Text)]
		if !ok {
			continue
		}
		var interval uint64
		if len(a.Children) > 0 {
			if v, err := strconv.ParseUint(a.Children[0].Text, 10, 64); err == nil {
				interval = v
			}
		}
		grouped := GroupBy(tp, pts, interval, fn)
		merged.Append(grouped)
	}
	merged.MergeSort()
	return pointsToRaw(merged)
}

func pointsToRaw(pts *siridb.Points) []interface{} {
	out := make([]interface{}, 0, pts.Len())
	for i := 0; i < pts.Len(); i++ {
		p := pts.At(i)
		out = append(out, []interface{}{int64(p.Ts), valueToRaw(pts.Type, p.Value)})
	}
	return out
}

func valueToRaw(tp siridb.ValueType, v siridb.Value) interface{} {
	switch tp {
	case siridb.TpDouble:
		return v.Double
	case siridb.TpString:
		return string(v.Str)
	default:
		return v.Int64
	}
}
