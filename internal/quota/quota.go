// Package quota resolves per-organization event retention at publish time.
package quota

import "context"

// DefaultRetentionDays applies when an organization has no explicit policy.
const DefaultRetentionDays = 90

type Resolver interface {
	RetentionDays(ctx context.Context, organizationID int64) (int, error)
}

// Static resolves every organization to the same value.
type Static struct {
	Days int
}

func (s Static) RetentionDays(context.Context, int64) (int, error) {
	if s.Days <= 0 {
		return DefaultRetentionDays, nil
	}
	return s.Days, nil
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, organizationID int64) (int, error)

func (f ResolverFunc) RetentionDays(ctx context.Context, organizationID int64) (int, error) {
	return f(ctx, organizationID)
}
