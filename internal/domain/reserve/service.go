// Package reserve implements the Commander's Reserve protocol: moving stock
// between the general and reserve pools and gated reserve allocation.
//
// Every mutating call checks the reserve access policy before touching the
// ledger, so a rejected caller never causes a partial mutation.
package reserve

import (
	"context"

	"quartermaster/internal/core/apperror"
	"quartermaster/internal/core/security"
	"quartermaster/internal/core/tx"
	"quartermaster/internal/core/types"
	"quartermaster/internal/domain/ledger"
	"quartermaster/pkg/logger"
)

// DocumentType is the recorder type of journal rows written by this package.
const DocumentType = "reserve"

// Ledger is the subset of the ledger service the protocol drives.
type Ledger interface {
	GetForUpdate(ctx context.Context, key ledger.Key) (*ledger.Entry, error)
	MoveBetweenPools(ctx context.Context, key ledger.Key, from ledger.Pool, qty types.Quantity, src ledger.Source) (*ledger.Entry, error)
	AllocateReserve(ctx context.Context, key ledger.Key, qty types.Quantity, src ledger.Source) (*ledger.Entry, error)
	ReleaseReserveAllocation(ctx context.Context, key ledger.Key, qty types.Quantity, src ledger.Source) (*ledger.Entry, error)
	SetThresholds(ctx context.Context, key ledger.Key, reorderPoint, minimumReserve types.Quantity) (*ledger.Entry, error)
}

// Service moves quantity between pools under the reserve access policy.
type Service struct {
	ledger     Ledger
	authorizer security.ReserveAuthorizer
	txManager  tx.Manager
}

// NewService creates a reserve service.
func NewService(l Ledger, authorizer security.ReserveAuthorizer, txManager tx.Manager) *Service {
	return &Service{
		ledger:     l,
		authorizer: authorizer,
		txManager:  txManager,
	}
}

// MoveGeneralToReserve tops up the reserve from available general stock.
func (s *Service) MoveGeneralToReserve(ctx context.Context, key ledger.Key, qty types.Quantity, src ledger.Source) (*ledger.Entry, error) {
	if err := s.authorizer.AuthorizeReserve(ctx, security.ActionMoveToReserve); err != nil {
		return nil, err
	}
	entry, err := s.ledger.MoveBetweenPools(ctx, key, ledger.PoolGeneral, qty, withDefault(src))
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "moved general stock to reserve", "key", key.String(), "quantity", qty.String())
	return entry, nil
}

// ReleaseReserveToGeneral draws available reserve stock down into the general pool.
func (s *Service) ReleaseReserveToGeneral(ctx context.Context, key ledger.Key, qty types.Quantity, src ledger.Source) (*ledger.Entry, error) {
	if err := s.authorizer.AuthorizeReserve(ctx, security.ActionReleaseToGeneral); err != nil {
		return nil, err
	}
	entry, err := s.ledger.MoveBetweenPools(ctx, key, ledger.PoolReserve, qty, withDefault(src))
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "released reserve stock to general", "key", key.String(), "quantity", qty.String())
	return entry, nil
}

// AdjustReserveTarget sets the reserve pool to target by moving the difference
// between pools. A target equal to the current reserve is a no-op.
func (s *Service) AdjustReserveTarget(ctx context.Context, key ledger.Key, target types.Quantity, src ledger.Source) (*ledger.Entry, error) {
	if err := s.authorizer.AuthorizeReserve(ctx, security.ActionAdjustTarget); err != nil {
		return nil, err
	}
	if target.IsNegative() {
		return nil, apperror.NewValidation("reserve target must not be negative").WithDetail("target", target.String())
	}

	src = withDefault(src)
	var result *ledger.Entry
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		current, err := s.ledger.GetForUpdate(ctx, key)
		if err != nil {
			return err
		}

		delta := target - current.ReserveQuantity
		switch {
		case delta.IsZero():
			result = current
			return nil
		case delta.IsPositive():
			result, err = s.ledger.MoveBetweenPools(ctx, key, ledger.PoolGeneral, delta, src)
		default:
			result, err = s.ledger.MoveBetweenPools(ctx, key, ledger.PoolReserve, delta.Neg(), src)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "reserve target adjusted", "key", key.String(), "target", target.String())
	return result, nil
}

// AllocateReserve earmarks reserve stock for an authorized requisition.
func (s *Service) AllocateReserve(ctx context.Context, key ledger.Key, qty types.Quantity, src ledger.Source) (*ledger.Entry, error) {
	if err := s.authorizer.AuthorizeReserve(ctx, security.ActionAllocateReserve); err != nil {
		return nil, err
	}
	return s.ledger.AllocateReserve(ctx, key, qty, withDefault(src))
}

// ReleaseReserveAllocation consummates a reserve earmark into a deduction.
func (s *Service) ReleaseReserveAllocation(ctx context.Context, key ledger.Key, qty types.Quantity, src ledger.Source) (*ledger.Entry, error) {
	if err := s.authorizer.AuthorizeReserve(ctx, security.ActionReleaseAllocation); err != nil {
		return nil, err
	}
	return s.ledger.ReleaseReserveAllocation(ctx, key, qty, withDefault(src))
}

// SetMinimumReserve changes the minimum reserve while keeping the reorder point.
func (s *Service) SetMinimumReserve(ctx context.Context, key ledger.Key, minimum types.Quantity) (*ledger.Entry, error) {
	if err := s.authorizer.AuthorizeReserve(ctx, security.ActionSetMinimum); err != nil {
		return nil, err
	}

	var result *ledger.Entry
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		current, err := s.ledger.GetForUpdate(ctx, key)
		if err != nil {
			return err
		}
		result, err = s.ledger.SetThresholds(ctx, key, current.ReorderPoint, minimum)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetThresholds sets the reorder point and minimum reserve of an entry.
// Changing the minimum requires reserve access; the comparison and the write
// happen under the entry lock.
func (s *Service) SetThresholds(ctx context.Context, key ledger.Key, reorderPoint, minimum types.Quantity) (*ledger.Entry, error) {
	var result *ledger.Entry
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		current, err := s.ledger.GetForUpdate(ctx, key)
		if err != nil {
			return err
		}
		if minimum != current.MinimumReserveRequired {
			if err := s.authorizer.AuthorizeReserve(ctx, security.ActionSetMinimum); err != nil {
				return err
			}
		}
		result, err = s.ledger.SetThresholds(ctx, key, reorderPoint, minimum)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func withDefault(src ledger.Source) ledger.Source {
	if src.DocumentType == "" {
		src.DocumentType = DocumentType
	}
	return src
}
