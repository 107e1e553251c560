package filter

import (
	"fmt"
	"time"

	"github.com/Notifuse/insights/pkg/logger"
)

// nullLiteral is the filter value that compiles to IS NULL / IS NOT NULL
const nullLiteral = "null"

// CompiledFilter is a boolean SQL fragment and the arguments its placeholders refer to,
// in placeholder order.
type CompiledFilter struct {
	SQL  string
	Args []interface{}

	scoped bool
}

// TenantScoped reports whether the fragment was produced by CompileWhere and therefore
// carries the tenant predicate.
func (c CompiledFilter) TenantScoped() bool {
	return c.scoped
}

// CompileOption configures a compilation
type CompileOption func(*compileOptions)

type compileOptions struct {
	args       []interface{}
	tenantLeaf TenantLeafFunc
	logger     logger.Logger
}

// WithArgs continues numbering after arguments that are already bound in the enclosing
// query, e.g. compiling a HAVING clause after its WHERE clause.
func WithArgs(args []interface{}) CompileOption {
	return func(o *compileOptions) {
		o.args = args
	}
}

// WithTenantLeaf overrides the tenant predicate used by CompileWhere for logical tables
// whose tenant column is not request.organization_id.
func WithTenantLeaf(f TenantLeafFunc) CompileOption {
	return func(o *compileOptions) {
		o.tenantLeaf = f
	}
}

// WithLogger logs leaves that compile to no-ops
func WithLogger(l logger.Logger) CompileOption {
	return func(o *compileOptions) {
		o.logger = l
	}
}

func newCompileOptions(opts []CompileOption) *compileOptions {
	o := &compileOptions{tenantLeaf: DefaultTenantLeaf}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CompileWhere scopes filter to tenantID and compiles it for the WHERE clause of d
func CompileWhere(filter Node, tenantID string, d *Dialect, opts ...CompileOption) (CompiledFilter, error) {
	o := newCompileOptions(opts)

	scoped, err := Scoped(tenantID, filter, o.tenantLeaf)
	if err != nil {
		return CompiledFilter{}, err
	}

	c := &compiler{dialect: d, clause: ClauseWhere, logger: o.logger}
	sql, args, err := c.compile(scoped, copyArgs(o.args))
	if err != nil {
		return CompiledFilter{}, err
	}

	return CompiledFilter{SQL: sql, Args: args, scoped: true}, nil
}

// CompileHaving compiles a post-aggregation filter for d. The tenant predicate belongs to
// the WHERE clause of the same query and is not added here.
func CompileHaving(filter Node, d *Dialect, opts ...CompileOption) (CompiledFilter, error) {
	o := newCompileOptions(opts)

	c := &compiler{dialect: d, clause: ClauseHaving, logger: o.logger}
	sql, args, err := c.compile(filter, copyArgs(o.args))
	if err != nil {
		return CompiledFilter{}, err
	}

	return CompiledFilter{SQL: sql, Args: args}, nil
}

func copyArgs(args []interface{}) []interface{} {
	out := make([]interface{}, len(args), len(args)+8)
	copy(out, args)
	return out
}

type compiler struct {
	dialect *Dialect
	clause  Clause
	logger  logger.Logger
}

// compile walks the tree. args is threaded through the recursion: the right side of a
// branch is compiled with the arguments returned by the left side, so placeholder indices
// grow monotonically from left to right.
func (c *compiler) compile(node Node, args []interface{}) (string, []interface{}, error) {
	switch n := node.(type) {
	case allNode:
		return "true", args, nil
	case Branch:
		return c.compileBranch(n, args)
	case Leaf:
		return c.compileLeaf(n, args)
	case nil:
		return "", nil, &CompileError{Clause: c.clause, Err: fmt.Errorf("%w: nil node", ErrInvalidFilter)}
	default:
		return "", nil, &CompileError{Clause: c.clause, Err: fmt.Errorf("%w: unknown node type %T", ErrInvalidFilter, node)}
	}
}

func (c *compiler) compileBranch(b Branch, args []interface{}) (string, []interface{}, error) {
	if b.Op != OpAnd && b.Op != OpOr {
		return "", nil, &CompileError{Clause: c.clause, Err: fmt.Errorf("%w: %q", ErrInvalidBranch, b.Op)}
	}

	left, args, err := c.compile(b.Left, args)
	if err != nil {
		return "", nil, err
	}

	right, args, err := c.compile(b.Right, args)
	if err != nil {
		return "", nil, err
	}

	return "(" + left + " " + string(b.Op) + " " + right + ")", args, nil
}

func (c *compiler) compileLeaf(leaf Leaf, args []interface{}) (string, []interface{}, error) {
	col, err := c.dialect.Resolvers(c.clause).Resolve(leaf)
	if err != nil {
		return "", nil, c.leafError(leaf, err)
	}

	if col.Ignored {
		if c.logger != nil {
			c.logger.WithField("table", string(leaf.Table)).
				WithField("column", leaf.Column).
				WithField("dialect", string(c.dialect.Kind())).
				Debug("Filter column not stored by dialect, leaf compiled to true")
		}
		return "true", args, nil
	}

	if isNullValue(leaf.Value) {
		switch leaf.Operator {
		case OpEquals:
			return col.Expr + " IS NULL", args, nil
		case OpNotEquals:
			return col.Expr + " IS NOT NULL", args, nil
		}
	}

	symbol, err := leaf.Operator.Symbol()
	if err != nil {
		return "", nil, c.leafError(leaf, err)
	}

	if !col.Family.Allows(leaf.Operator) {
		return "", nil, c.leafError(leaf, fmt.Errorf("%w: %s on %s column", ErrOperatorFamily, leaf.Operator, col.Family))
	}

	leafValue := leaf.Value
	if col.Family == FamilyTimestamp {
		if leafValue, err = timestampValue(leafValue); err != nil {
			return "", nil, c.leafError(leaf, err)
		}
	}

	value := bindValue(leaf.Operator, leafValue)
	placeholder := c.dialect.Placeholder(len(args), value)

	return col.Expr + " " + symbol + " " + placeholder, append(args, value), nil
}

func (c *compiler) leafError(leaf Leaf, err error) error {
	return &CompileError{Table: leaf.Table, Column: leaf.Column, Clause: c.clause, Err: err}
}

// timestampValue binds RFC 3339 strings as instants so stores receive typed timestamps
func timestampValue(v interface{}) (interface{}, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	return t.UTC(), nil
}

func isNullValue(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == nullLiteral
}
