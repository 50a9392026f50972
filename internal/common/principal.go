package common

import "context"

// Role names understood by the core. Anything else is treated as staff
// without elevated rights.
const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
	RoleBarista = "barista"
)

// Principal is the authenticated staff identity handed to the core by the
// session layer.
type Principal struct {
	UserID   string `json:"userId"`
	Role     string `json:"role"`
	BranchID string `json:"branchId,omitempty"`
}

// IsAdmin reports whether the principal may act across branches.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// CanAccessBranch reports whether the principal is allowed to act on branchID.
func (p *Principal) CanAccessBranch(branchID string) bool {
	if p == nil {
		return false
	}
	if p.IsAdmin() {
		return true
	}
	return p.BranchID != "" && p.BranchID == branchID
}

type ctxKey string

const (
	principalKey ctxKey = "auth/principal"
	slotKey      ctxKey = "auth/principal-slot"
)

type principalSlot struct {
	p *Principal
}

// WithPrincipal stores the authenticated principal on the provided context.
// Any slot registered with TrackPrincipal further up the chain is filled too.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	if slot, ok := ctx.Value(slotKey).(*principalSlot); ok {
		cp := p
		slot.p = &cp
	}
	return context.WithValue(ctx, principalKey, p)
}

// TrackPrincipal lets outer middleware see the principal that authentication
// attaches deeper in the chain. The returned func reports it once the inner
// handler has run. Calling it again on a tracked context shares the slot.
func TrackPrincipal(ctx context.Context) (context.Context, func() *Principal) {
	slot, ok := ctx.Value(slotKey).(*principalSlot)
	if !ok {
		slot = &principalSlot{}
		ctx = context.WithValue(ctx, slotKey, slot)
	}
	return ctx, func() *Principal {
		if slot.p == nil || slot.p.UserID == "" {
			return nil
		}
		return slot.p
	}
}

// PrincipalFrom extracts the authenticated principal from the context if present.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok || p.UserID == "" {
		return nil, false
	}
	return &p, true
}
