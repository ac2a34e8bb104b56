package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	siridb "github.com/siridb/siridb-go"
)

// Additional grammar ids used only within where-expressions.
const (
	GidAnd GID = iota + 100
	GidOr
	GidComparison
)

// maxWhereDepth bounds how deeply parenthesized groups may nest before a
// where-expression is rejected as ambiguous, matching the fixed recursion
// budget the compiled grammar enforces elsewhere in the packet decoder.
const maxWhereDepth = 6

// parseWhereExpr parses a boolean combination of "prop OP operand" terms,
// joined by "and"/"or" and optionally grouped with parentheses, into a
// binary AND/OR tree whose leaves are GidComparison nodes.
func parseWhereExpr(p *parser) (*Node, error) {
	return parseOr(p, 0)
}

func parseOr(p *parser, depth int) (*Node, error) {
	left, err := parseAnd(p, depth)
	if err != nil {
		return nil, err
	}
	for strings.EqualFold(p.peek().text, "or") {
		p.next()
		right, err := parseAnd(p, depth)
		if err != nil {
			return nil, err
		}
		left = &Node{Gid: GidOr, Children: []*Node{left, right}}
	}
	return left, nil
}

func parseAnd(p *parser, depth int) (*Node, error) {
	left, err := parseWhereTerm(p, depth)
	if err != nil {
		return nil, err
	}
	for strings.EqualFold(p.peek().text, "and") {
		p.next()
		right, err := parseWhereTerm(p, depth)
		if err != nil {
			return nil, err
		}
		left = &Node{Gid: GidAnd, Children: []*Node{left, right}}
	}
	return left, nil
}

func parseWhereTerm(p *parser, depth int) (*Node, error) {
	if p.peek().kind == tokLParen {
		if depth+1 > maxWhereDepth {
			return nil, siridb.ErrAmbiguousOption
		}
		p.next()
		inner, err := parseOr(p, depth+1)
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("query: expected ')' in where-expression")
		}
		p.next()
		return inner, nil
	}
	return parseComparison(p)
}

func parseComparison(p *parser) (*Node, error) {
	prop := p.next()
	if prop.kind != tokIdent {
		return nil, fmt.Errorf("query: expected property name, got %q", prop.text)
	}
	op := p.next()
	if op.kind != tokOperator {
		return nil, fmt.Errorf("query: expected comparison operator, got %q", op.text)
	}
	operand := p.next()
	if operand.kind != tokIdent && operand.kind != tokString && operand.kind != tokNumber {
		return nil, fmt.Errorf("query: expected comparison operand, got %q", operand.text)
	}
	return &Node{
		Gid:  GidComparison,
		Text: op.text,
		Children: []*Node{
			{Text: prop.text},
			{Text: operand.text},
		},
	}, nil
}

// Subject exposes the named properties of whatever object kind a
// where-expression is being evaluated against (series, server, pool,
// user, group or shard) — one small interface per spec's per-object-kind
// where-callback design, implemented by subjectFuncs below rather than
// one type per kind.
type Subject interface {
	Prop(name string) (interface{}, bool)
}

// subjectFunc adapts a plain function to Subject.
type subjectFunc func(name string) (interface{}, bool)

func (f subjectFunc) Prop(name string) (interface{}, bool) { return f(name) }

// Eval walks a where-expression tree, applying comparisons against subj.
// An unknown property evaluates its containing comparison to false rather
// than erroring, since properties vary by object kind and a stray unknown
// name is far more likely than operator misuse.
func Eval(node *Node, subj Subject) (bool, error) {
	switch node.Gid {
	case GidAnd:
		l, err := Eval(node.Children[0], subj)
		if err != nil || !l {
			return false, err
		}
		return Eval(node.Children[1], subj)

	case GidOr:
		l, err := Eval(node.Children[0], subj)
		if err != nil {
			return false, err
		}
		if l {
			return true, nil
		}
		return Eval(node.Children[1], subj)

	case GidComparison:
		return evalComparison(node, subj)

	default:
		return false, fmt.Errorf("query: not a boolean node: %d", node.Gid)
	}
}

func evalComparison(node *Node, subj Subject) (bool, error) {
	propName := node.Children[0].Text
	operandText := node.Children[1].Text
	val, ok := subj.Prop(propName)
	if !ok {
		return false, nil
	}

	switch node.Text {
	case "~", "!~":
		re, err := regexp.Compile(operandText)
		if err != nil {
			return false, siridb.ErrInvalidWhere
		}
		matched := re.MatchString(fmt.Sprintf("%v", val))
		if node.Text == "!~" {
			matched = !matched
		}
		return matched, nil

	default:
		return compareOrdered(node.Text, val, operandText)
	}
}

// compareOrdered implements == != < <= > >= for numeric properties, and
// == != only for strings (an ordering operator against a string property
// is a where-expression authoring mistake, reported as invalid).
func compareOrdered(op string, val interface{}, operandText string) (bool, error) {
	if s, isStr := val.(string); isStr {
		switch op {
		case "==":
			return s == operandText, nil
		case "!=":
			return s != operandText, nil
		default:
			return false, siridb.ErrInvalidWhere
		}
	}

	lhs, err := toFloat64(val)
	if err != nil {
		return false, err
	}
	rhs, err := strconv.ParseFloat(operandText, 64)
	if err != nil {
		return false, siridb.ErrInvalidWhere
	}

	switch op {
	case "==":
		return lhs == rhs, nil
	case "!=":
		return lhs != rhs, nil
	case "<":
		return lhs < rhs, nil
	case "<=":
		return lhs <= rhs, nil
	case ">":
		return lhs > rhs, nil
	case ">=":
		return lhs >= rhs, nil
	default:
		return false, siridb.ErrInvalidWhere
	}
}

func toFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	default:
		return 0, siridb.ErrInvalidWhere
	}
}
