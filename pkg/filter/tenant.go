package filter

import (
	"fmt"
	"strings"
)

// TenantLeafFunc builds the ownership predicate of a tenant
type TenantLeafFunc func(tenantID string) Node

// DefaultTenantLeaf restricts request rows to the tenant's organization
func DefaultTenantLeaf(tenantID string) Node {
	return NewLeaf(TableRequest, "organization_id", OpEquals, tenantID)
}

// Scoped conjoins the tenant predicate with filter: And(tenantLeaf(tenantID), filter).
// The tenant predicate is always the left operand of the top level AND, so nothing in
// filter can widen it.
func Scoped(tenantID string, filter Node, tenantLeaf TenantLeafFunc) (Node, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrMissingTenant
	}
	// "null" would compile to IS NULL and match rows that belong to nobody
	if tenantID == nullLiteral {
		return nil, fmt.Errorf("%w: %q is not a valid tenant id", ErrMissingTenant, tenantID)
	}
	if tenantLeaf == nil {
		tenantLeaf = DefaultTenantLeaf
	}
	if filter == nil {
		filter = All()
	}
	return And(tenantLeaf(tenantID), filter), nil
}
