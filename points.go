package siridb

// ValueType tags which union member a series' points carry (Design Notes:
// "Dynamic typing of values" -> explicit tagged union).
type ValueType uint8

const (
	TpInteger ValueType = iota
	TpDouble
	TpString
)

// Value is a single point's payload. Exactly one field is meaningful,
// selected by the owning Points' Type.
type Value struct {
	Int64  int64
	Double float64
	Str    []byte
}

// Point is a single (ts, value) pair. Points within any container are
// ordered by Ts ascending (spec section 3); duplicates are permitted.
type Point struct {
	Ts    uint64
	Value Value
}

// Points is an ordered-by-timestamp typed array of points (C2). Insertion
// keeps ascending order by shifting elements right into place, mirroring
// the reference points_add_point loop.
type Points struct {
	Type  ValueType
	items []Point
}

// NewPoints allocates a Points container with room for capacity points
// without reallocating.
func NewPoints(tp ValueType, capacity int) *Points {
	return &Points{Type: tp, items: make([]Point, 0, capacity)}
}

// Len returns the number of points currently stored.
func (p *Points) Len() int { return len(p.items) }

// At returns the point at index i.
func (p *Points) At(i int) Point { return p.items[i] }

// Slice exposes the underlying points read-only; callers must not mutate
// the returned order.
func (p *Points) Slice() []Point { return p.items }

// Last returns the most recently added (highest-ts, barring duplicates)
// point and true, or the zero Point and false if empty.
func (p *Points) Last() (Point, bool) {
	if len(p.items) == 0 {
		return Point{}, false
	}
	return p.items[len(p.items)-1], true
}

// AddPoint inserts (ts, val) keeping ascending order; O(n) shift-right
// when it does not land at the tail. Growing beyond capacity reallocates
// with Go's slice-append doubling, matching the "capacity doubling under
// caller direction" clause of spec section 4.2 closely enough that
// callers who pre-size via NewPoints avoid the reallocation entirely.
func (p *Points) AddPoint(ts uint64, val Value) {
	i := len(p.items)
	p.items = append(p.items, Point{})
	for i > 0 && p.items[i-1].Ts > ts {
		p.items[i] = p.items[i-1]
		i--
	}
	p.items[i] = Point{Ts: ts, Value: val}
}

// Resize truncates or extends the logical length. Extending beyond the
// current backing array appends zero points; shrinking just re-slices.
func (p *Points) Resize(newLen int) {
	if newLen <= len(p.items) {
		p.items = p.items[:newLen]
		return
	}
	for len(p.items) < newLen {
		p.items = append(p.items, Point{})
	}
}

// Range returns a new Points holding a copy of items[a:b), used when a
// codec or merge step must not alias the source buffer.
func (p *Points) Range(a, b int) *Points {
	out := NewPoints(p.Type, b-a)
	out.items = append(out.items, p.items[a:b]...)
	return out
}

// Append adds q's points to the tail without re-sorting; callers use this
// only when they already know q's points sort after p's (e.g. concatenating
// shard-read output with the live buffer).
func (p *Points) Append(q *Points) {
	p.items = append(p.items, q.items...)
}

// MergeSort stable-sorts the container by Ts, preserving relative order of
// equal timestamps (spec section 3: duplicates preserve insertion order).
func (p *Points) MergeSort() {
	if len(p.items) < 2 {
		return
	}
	merged := make([]Point, len(p.items))
	copy(merged, p.items)
	mergeSortPoints(merged)
	p.items = merged
}

func mergeSortPoints(s []Point) {
	if len(s) < 2 {
		return
	}
	mid := len(s) / 2
	left := make([]Point, mid)
	right := make([]Point, len(s)-mid)
	copy(left, s[:mid])
	copy(right, s[mid:])
	mergeSortPoints(left)
	mergeSortPoints(right)

	i, j, k := 0, 0, 0
	for i < len(left) && j < len(right) {
		if left[i].Ts <= right[j].Ts {
			s[k] = left[i]
			i++
		} else {
			s[k] = right[j]
			j++
		}
		k++
	}
	for i < len(left) {
		s[k] = left[i]
		i++
		k++
	}
	for j < len(right) {
		s[k] = right[j]
		j++
		k++
	}
}
