package accounts

import (
	"context"
	"errors"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Repository provides the configuration the resolver reads.
type Repository interface {
	ItemAccounts(ctx context.Context, companyID, itemID int64) (ItemAccounts, error)
	AccountIDByCode(ctx context.Context, companyID int64, code string) (int64, error)
}

// Resolver maps (item, reason) onto ledger accounts. It holds no state.
type Resolver struct {
	repo  Repository
	codes map[Role]string
}

// NewResolver builds a Resolver. Nil codes select DefaultFallbackCodes.
func NewResolver(repo Repository, codes map[Role]string) *Resolver {
	if codes == nil {
		codes = DefaultFallbackCodes
	}
	return &Resolver{repo: repo, codes: codes}
}

// Pair is the two sides of an inventory posting.
type Pair struct {
	Inventory int64
	Counter   int64
}

// Resolve returns the inventory and counter accounts for a movement of item
// with reason.
func (r *Resolver) Resolve(ctx context.Context, tenant shared.TenantContext, itemID int64, reason Reason) (Pair, error) {
	rule, err := RuleFor(reason)
	if err != nil {
		return Pair{}, err
	}
	item, err := r.repo.ItemAccounts(ctx, tenant.CompanyID, itemID)
	if err != nil && !errors.Is(err, ErrAccountNotConfigured) {
		return Pair{}, err
	}
	inv, err := r.account(ctx, tenant, item, RoleInventory)
	if err != nil {
		return Pair{}, err
	}
	counter, err := r.account(ctx, tenant, item, rule.Counter)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Inventory: inv, Counter: counter}, nil
}

func (r *Resolver) account(ctx context.Context, tenant shared.TenantContext, item ItemAccounts, role Role) (int64, error) {
	if id := item.forRole(role); id != 0 {
		return id, nil
	}
	code, ok := r.codes[role]
	if !ok {
		return 0, ErrAccountNotConfigured
	}
	return r.repo.AccountIDByCode(ctx, tenant.CompanyID, code)
}
