package filter

import (
	"fmt"
)

// Clause is the SQL context a filter is compiled for
type Clause string

const (
	// ClauseWhere filters rows before aggregation
	ClauseWhere Clause = "WHERE"
	// ClauseHaving filters groups after aggregation
	ClauseHaving Clause = "HAVING"
)

// Column is the physical target of a logical column
type Column struct {
	// Expr is a SQL fragment: a column path, a JSON/map accessor or a coalesce(...)
	Expr string
	// Family decides which operators are legal against the column
	Family Family
	// Ignored marks an optional dimension this dialect does not store. A leaf on an
	// ignored column compiles to "true".
	Ignored bool
}

// TableMapper maps leaves of one logical table to physical columns
type TableMapper interface {
	MapLeaf(leaf Leaf) (Column, error)
}

// Fields is a static column map for a logical table
type Fields map[string]Column

// MapLeaf implements TableMapper
func (f Fields) MapLeaf(leaf Leaf) (Column, error) {
	col, ok := f[leaf.Column]
	if !ok {
		return Column{}, fmt.Errorf("%w: %s", ErrUnknownColumn, leaf.Column)
	}
	return col, nil
}

// ignored marks a column as known but not stored
func ignored(family Family) Column {
	return Column{Family: family, Ignored: true}
}

// DynamicKeys maps leaves of a map/JSON typed logical table, where the column name of the
// leaf is an arbitrary user key. The key is validated before it reaches Accessor.
type DynamicKeys struct {
	// Accessor renders the text accessor for a validated key
	Accessor func(key string) string
	// Numeric renders the numeric accessor for a validated key. When nil the table is
	// text only.
	Numeric func(key string) string
	// Family is the family of values stored under the keys. Text tables switch to the
	// number family when a leaf compares a numeric value with a range operator.
	Family Family
}

// MapLeaf implements TableMapper
func (d DynamicKeys) MapLeaf(leaf Leaf) (Column, error) {
	if err := ValidateIdentifier(leaf.Column); err != nil {
		return Column{}, err
	}

	if d.Family == FamilyNumber {
		return Column{Expr: d.Numeric(leaf.Column), Family: FamilyNumber}, nil
	}

	if d.Numeric != nil && isNumber(leaf.Value) && isRangeOperator(leaf.Operator) {
		return Column{Expr: d.Numeric(leaf.Column), Family: FamilyNumber}, nil
	}

	return Column{Expr: d.Accessor(leaf.Column), Family: d.Family}, nil
}

// ResolverSet holds the table mappers of one dialect for one clause
type ResolverSet map[Table]TableMapper

// Resolve maps a leaf to its physical column. A table without a mapper in this set is
// not implemented and fails the compilation.
func (r ResolverSet) Resolve(leaf Leaf) (Column, error) {
	mapper, ok := r[leaf.Table]
	if !ok {
		return Column{}, fmt.Errorf("%w: table %q", ErrNotImplemented, leaf.Table)
	}
	return mapper.MapLeaf(leaf)
}

func isRangeOperator(op Operator) bool {
	switch op {
	case OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}
