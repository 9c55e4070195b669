package store

import (
	"context"
	"errors"

	"github.com/BrandonDHaskell/gradebridge/internal/gradebridge/types"
)

// TeeAuditLog fans each entry out to every wrapped log.  All logs are
// attempted even if one fails; the errors are joined.
type TeeAuditLog []AuditLog

func (t TeeAuditLog) Append(ctx context.Context, entry types.AuditEntry) error {
	var errs []error
	for _, l := range t {
		if l == nil {
			continue
		}
		if err := l.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
