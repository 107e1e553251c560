package filter

import (
	"fmt"
	"strings"
)

// Family is the value-type family a column belongs to. It fixes which operators are legal
// against the column and the shape of the bound value.
type Family string

const (
	FamilyText      Family = "text"
	FamilyNumber    Family = "number"
	FamilyBoolean   Family = "boolean"
	FamilyTimestamp Family = "timestamp"
)

// Operator is a comparison operator of a filter leaf
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not-equals"
	OpLike        Operator = "like"
	OpILike       Operator = "ilike"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not-contains"
	OpGte         Operator = "gte"
	OpGt          Operator = "gt"
	OpLte         Operator = "lte"
	OpLt          Operator = "lt"
)

var operatorSymbols = map[Operator]string{
	OpEquals:      "=",
	OpNotEquals:   "!=",
	OpLike:        "LIKE",
	OpILike:       "ILIKE",
	OpContains:    "ILIKE",
	OpNotContains: "NOT ILIKE",
	OpGte:         ">=",
	OpGt:          ">",
	OpLte:         "<=",
	OpLt:          "<",
}

var familyOperators = map[Family]map[Operator]bool{
	FamilyText: {
		OpEquals: true, OpNotEquals: true, OpLike: true, OpILike: true,
		OpContains: true, OpNotContains: true,
	},
	FamilyNumber: {
		OpEquals: true, OpNotEquals: true, OpGte: true, OpGt: true, OpLte: true, OpLt: true,
	},
	FamilyBoolean: {
		OpEquals: true, OpNotEquals: true,
	},
	FamilyTimestamp: {
		OpEquals: true, OpGte: true, OpGt: true, OpLte: true, OpLt: true,
	},
}

// Symbol returns the dialect-neutral SQL form of the operator
func (o Operator) Symbol() (string, error) {
	sym, ok := operatorSymbols[o]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedOperator, o)
	}
	return sym, nil
}

// Allows reports whether op is legal against a column of family f
func (f Family) Allows(op Operator) bool {
	ops, ok := familyOperators[f]
	if !ok {
		return false
	}
	return ops[op]
}

// IsValid reports whether f is one of the known families
func (f Family) IsValid() bool {
	_, ok := familyOperators[f]
	return ok
}

// ParseOperator validates a raw operator token against the expected family
func ParseOperator(token string, family Family) (Operator, error) {
	op := Operator(strings.ToLower(strings.TrimSpace(token)))
	// underscore spelling is accepted for JSON payloads
	op = Operator(strings.ReplaceAll(string(op), "_", "-"))

	if _, ok := operatorSymbols[op]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedOperator, token)
	}
	if !family.Allows(op) {
		return "", fmt.Errorf("%w: %s is not valid for %s columns", ErrOperatorFamily, op, family)
	}
	return op, nil
}

// bindValue returns the value that is appended to the argument list for op.
// contains/not-contains wrap the value in wildcards here, never in the SQL text.
func bindValue(op Operator, value interface{}) interface{} {
	if op != OpContains && op != OpNotContains {
		return value
	}
	return "%" + escapeLike(fmt.Sprint(value)) + "%"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike escapes LIKE metacharacters so that contains matches the literal text
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
