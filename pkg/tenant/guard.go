package tenant

import (
	"context"
	"fmt"

	"github.com/orderflow-io/orderflow/pkg/model"
)

// Owned is anything that carries a tenant id.
type Owned interface {
	Tenant() string
}

// Stamp sets the tenant id on a write, failing when the entity already
// carries a different tenant. The guard is the first check on every write
// path; downstream components assume tenant consistency.
func Stamp(ctx context.Context, entityTenant *string) error {
	tid, err := ID(ctx)
	if err != nil {
		return err
	}
	if *entityTenant == "" {
		*entityTenant = tid
		return nil
	}
	if *entityTenant != tid {
		return fmt.Errorf("tenant mismatch: %w", model.ErrNotFound)
	}
	return nil
}

// Check verifies a read result belongs to the caller's tenant. A mismatch is
// reported as not-found, never as forbidden.
func Check(ctx context.Context, entityTenant string) error {
	tid, err := ID(ctx)
	if err != nil {
		return err
	}
	if entityTenant != tid {
		return model.ErrNotFound
	}
	return nil
}
