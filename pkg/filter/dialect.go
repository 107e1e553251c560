package filter

import (
	"fmt"
	"strconv"
	"time"
)

// Kind identifies a SQL rendering target
type Kind string

const (
	// KindPostgres is the row-oriented transactional store
	KindPostgres Kind = "postgres"
	// KindClickHouse is the column-oriented analytical store
	KindClickHouse Kind = "clickhouse"
)

// Placeholder renders the positional marker for the argument at index (0-based)
type Placeholder func(index int, value interface{}) string

// Dialect bundles everything that differs between SQL targets: placeholder syntax, the
// resolver sets for each clause and the physical source of each logical table.
type Dialect struct {
	kind        Kind
	placeholder Placeholder
	where       ResolverSet
	having      ResolverSet
	sources     map[Table]string
}

// NewDialect creates a dialect. Postgres and ClickHouse cover the production stores; this
// constructor is for custom table layouts.
func NewDialect(kind Kind, placeholder Placeholder, where, having ResolverSet, sources map[Table]string) *Dialect {
	return &Dialect{
		kind:        kind,
		placeholder: placeholder,
		where:       where,
		having:      having,
		sources:     sources,
	}
}

var (
	// Postgres renders $1, $2, ... placeholders
	Postgres = NewDialect(KindPostgres, PostgresPlaceholder, postgresWhere, postgresHaving, postgresSources)
	// ClickHouse renders typed {val_0:String} placeholders
	ClickHouse = NewDialect(KindClickHouse, ClickHousePlaceholder, clickhouseWhere, clickhouseHaving, clickhouseSources)
)

// DialectFor returns the built-in dialect for a configuration name
func DialectFor(name string) (*Dialect, error) {
	switch Kind(name) {
	case KindPostgres:
		return Postgres, nil
	case KindClickHouse:
		return ClickHouse, nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", name)
	}
}

// Kind returns the dialect kind
func (d *Dialect) Kind() Kind {
	return d.kind
}

// Placeholder renders the marker for argument index
func (d *Dialect) Placeholder(index int, value interface{}) string {
	return d.placeholder(index, value)
}

// Resolvers returns the resolver set for a clause
func (d *Dialect) Resolvers(clause Clause) ResolverSet {
	if clause == ClauseHaving {
		return d.having
	}
	return d.where
}

// Source returns the physical FROM expression of a logical table
func (d *Dialect) Source(table Table) (string, error) {
	src, ok := d.sources[table]
	if !ok {
		return "", fmt.Errorf("%w: no %s source for table %q", ErrNotImplemented, d.kind, table)
	}
	return src, nil
}

// ResolveColumn maps a logical table/column pair in the WHERE context. It is used by
// query builders for trusted, code-defined columns (time axis, group keys).
func (d *Dialect) ResolveColumn(table Table, column string) (Column, error) {
	col, err := d.where.Resolve(Leaf{Table: table, Column: column})
	if err != nil {
		return Column{}, err
	}
	if col.Ignored {
		return Column{}, fmt.Errorf("%w: %s.%s is not stored in %s", ErrNotImplemented, table, column, d.kind)
	}
	return col, nil
}

// PostgresPlaceholder renders 1-based $N markers
func PostgresPlaceholder(index int, _ interface{}) string {
	return "$" + strconv.Itoa(index+1)
}

// ClickHousePlaceholder renders server-side typed parameters, e.g. {val_0:String}.
// ClickHouse needs the parameter type in the query text.
func ClickHousePlaceholder(index int, value interface{}) string {
	return fmt.Sprintf("{%s:%s}", ParamName(index), ClickHouseType(value))
}

// ParamName is the ClickHouse parameter name of argument index
func ParamName(index int) string {
	return "val_" + strconv.Itoa(index)
}

// ClickHouseType returns the parameter type for a Go value
func ClickHouseType(value interface{}) string {
	switch value.(type) {
	case nil:
		return "Nullable(String)"
	case bool:
		return "Bool"
	case int, int8, int16, int32, int64:
		return "Int64"
	case uint, uint8, uint16, uint32, uint64:
		return "UInt64"
	case float32, float64:
		return "Float64"
	case time.Time:
		return "DateTime64(3)"
	default:
		return "String"
	}
}

// ClickHouseDateTimeFormat is the text form of DateTime64(3) parameters (always UTC)
const ClickHouseDateTimeFormat = "2006-01-02 15:04:05.000"

// FormatClickHouseValue renders a bound argument as the text ClickHouse parses for the
// type returned by ClickHouseType.
func FormatClickHouseValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return `\N`
	case bool:
		return strconv.FormatBool(v)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return v.UTC().Format(ClickHouseDateTimeFormat)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
