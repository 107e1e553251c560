package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// MaxDepth bounds the nesting of filters accepted from clients
const MaxDepth = 64

// Parse decodes the JSON form of a filter:
//
//	"all"
//	{"left": <filter>, "operator": "and" | "or", "right": <filter>}
//	{"<table>": {"<column>": {"<operator>": <value>}}}
func Parse(data []byte) (Node, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidFilter)
	}
	return parseNode(gjson.ParseBytes(data), 0)
}

// ParseString is Parse for a string payload
func ParseString(s string) (Node, error) {
	return Parse([]byte(s))
}

func parseNode(res gjson.Result, depth int) (Node, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: nested deeper than %d levels", ErrInvalidFilter, MaxDepth)
	}

	switch {
	case res.Type == gjson.String && res.Str == "all":
		return All(), nil
	case !res.IsObject():
		return nil, fmt.Errorf("%w: expected \"all\" or an object, got %s", ErrInvalidFilter, res.Raw)
	}

	if res.Get("operator").Exists() && res.Get("left").Exists() && res.Get("right").Exists() {
		return parseBranch(res, depth)
	}
	return parseLeaf(res)
}

func parseBranch(res gjson.Result, depth int) (Node, error) {
	var op BranchOp
	switch strings.ToLower(res.Get("operator").String()) {
	case "and":
		op = OpAnd
	case "or":
		op = OpOr
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidBranch, res.Get("operator").String())
	}

	left, err := parseNode(res.Get("left"), depth+1)
	if err != nil {
		return nil, err
	}
	right, err := parseNode(res.Get("right"), depth+1)
	if err != nil {
		return nil, err
	}

	return Branch{Left: left, Op: op, Right: right}, nil
}

func parseLeaf(res gjson.Result) (Node, error) {
	table, columnObj, err := singleEntry(res, "table")
	if err != nil {
		return nil, err
	}

	column, opObj, err := singleEntry(columnObj, "column")
	if err != nil {
		return nil, fmt.Errorf("table %q: %w", table, err)
	}

	opToken, valueRes, err := singleEntry(opObj, "operator")
	if err != nil {
		return nil, fmt.Errorf("column %q.%q: %w", table, column, err)
	}

	op := Operator(strings.ReplaceAll(strings.ToLower(opToken), "_", "-"))
	if _, err := op.Symbol(); err != nil {
		return nil, err
	}

	return NewLeaf(Table(table), column, op, resultValue(valueRes)), nil
}

// singleEntry returns the only key of an object and its value
func singleEntry(res gjson.Result, what string) (string, gjson.Result, error) {
	if !res.IsObject() {
		return "", gjson.Result{}, fmt.Errorf("%w: expected an object keyed by %s", ErrInvalidFilter, what)
	}

	var (
		key   string
		value gjson.Result
		count int
	)
	res.ForEach(func(k, v gjson.Result) bool {
		count++
		key = k.String()
		value = v
		return count < 2
	})

	if count != 1 {
		return "", gjson.Result{}, fmt.Errorf("%w: expected exactly one %s", ErrInvalidFilter, what)
	}
	return key, value, nil
}

func resultValue(res gjson.Result) interface{} {
	switch res.Type {
	case gjson.Null:
		return nil
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.Number:
		return res.Num
	default:
		return res.String()
	}
}

// Encode renders the canonical JSON form of a filter. Map keys are sorted by
// encoding/json, so equal trees always encode to equal bytes.
func Encode(n Node) ([]byte, error) {
	v, err := encodeNode(n)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func encodeNode(n Node) (interface{}, error) {
	switch node := n.(type) {
	case allNode:
		return "all", nil
	case Leaf:
		return map[string]interface{}{
			string(node.Table): map[string]interface{}{
				node.Column: map[string]interface{}{
					string(node.Operator): node.Value,
				},
			},
		}, nil
	case Branch:
		left, err := encodeNode(node.Left)
		if err != nil {
			return nil, err
		}
		right, err := encodeNode(node.Right)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"left":     left,
			"operator": strings.ToLower(string(node.Op)),
			"right":    right,
		}, nil
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrInvalidFilter, n)
	}
}
