package filter

import (
	"fmt"
)

// Table is a logical table name. A logical table is a stable abstraction over one or more
// physical tables or views; each dialect maps it to its own physical columns.
type Table string

const (
	TableRequest        Table = "request"
	TableResponse       Table = "response"
	TableProperties     Table = "properties"
	TableScores         Table = "scores"
	TableFeedback       Table = "feedback"
	TableUserMetrics    Table = "user_metrics"
	TableSessionMetrics Table = "session_metrics"
)

// BranchOp joins the two sides of a branch
type BranchOp string

const (
	OpAnd BranchOp = "AND"
	OpOr  BranchOp = "OR"
)

// Node is a filter expression: a Leaf, a Branch or the All sentinel.
// Nodes are values and are never mutated after construction.
type Node interface {
	isNode()
}

// Leaf is a single column/operator/value condition on a logical table
type Leaf struct {
	Table    Table
	Column   string
	Operator Operator
	Value    interface{}
}

// Branch combines two sub-trees with AND or OR
type Branch struct {
	Left  Node
	Op    BranchOp
	Right Node
}

type allNode struct{}

func (Leaf) isNode()    {}
func (Branch) isNode()  {}
func (allNode) isNode() {}

// NewLeaf builds a leaf node
func NewLeaf(table Table, column string, op Operator, value interface{}) Node {
	return Leaf{Table: table, Column: column, Operator: op, Value: value}
}

// And builds "left AND right"
func And(left, right Node) Node {
	return Branch{Left: left, Op: OpAnd, Right: right}
}

// Or builds "left OR right"
func Or(left, right Node) Node {
	return Branch{Left: left, Op: OpOr, Right: right}
}

// All returns the always-true filter
func All() Node {
	return allNode{}
}

// IsAll reports whether n is the always-true sentinel
func IsAll(n Node) bool {
	_, ok := n.(allNode)
	return ok
}

// FromList folds nodes into a right-leaning tree joined by op.
// An empty list yields All, a single node is returned as is, and the first element is
// always the outermost left operand so the generated SQL is stable for a given input.
func FromList(nodes []Node, op BranchOp) Node {
	switch len(nodes) {
	case 0:
		return All()
	case 1:
		return nodes[0]
	}
	return Branch{Left: nodes[0], Op: op, Right: FromList(nodes[1:], op)}
}

// Condition is a flat equality or range condition, used to build filters from
// simple key/value request parameters.
type Condition struct {
	Table    Table       `json:"table"`
	Column   string      `json:"column"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

// FromConditions folds a flat list of conditions with op
func FromConditions(conditions []Condition, op BranchOp) Node {
	nodes := make([]Node, 0, len(conditions))
	for _, c := range conditions {
		nodes = append(nodes, NewLeaf(c.Table, c.Column, c.Operator, c.Value))
	}
	return FromList(nodes, op)
}

// Validate checks the structure of a tree: no nil children, AND/OR branches only, and
// every leaf names a table and a column.
func Validate(n Node) error {
	switch node := n.(type) {
	case nil:
		return fmt.Errorf("%w: nil node", ErrInvalidFilter)
	case allNode:
		return nil
	case Leaf:
		if node.Table == "" {
			return fmt.Errorf("%w: leaf must have a table", ErrInvalidFilter)
		}
		if node.Column == "" {
			return fmt.Errorf("%w: leaf on %q must have a column", ErrInvalidFilter, node.Table)
		}
		if _, err := node.Operator.Symbol(); err != nil {
			return err
		}
		return nil
	case Branch:
		if node.Op != OpAnd && node.Op != OpOr {
			return fmt.Errorf("%w: %q", ErrInvalidBranch, node.Op)
		}
		if err := Validate(node.Left); err != nil {
			return fmt.Errorf("left: %w", err)
		}
		if err := Validate(node.Right); err != nil {
			return fmt.Errorf("right: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown node type %T", ErrInvalidFilter, n)
	}
}
