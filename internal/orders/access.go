package orders

type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleCashier Role = "CASHIER"
	RoleBarista Role = "BARISTA"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleCashier, RoleBarista:
		return true
	}
	return false
}

// Actor is the authenticated user behind an operation, as supplied by the
// identity layer. StoreID is the user's assigned store.
type Actor struct {
	UserID  string
	Role    Role
	StoreID string
}

var (
	checkoutRoles  = []Role{RoleAdmin, RoleManager, RoleCashier}
	discountRoles  = []Role{RoleAdmin, RoleManager}
	reversalRoles  = []Role{RoleAdmin, RoleManager}
	kitchenRoles   = []Role{RoleAdmin, RoleManager, RoleBarista, RoleCashier}
	shiftRoles     = []Role{RoleAdmin, RoleManager, RoleCashier}
	backofficeRole = []Role{RoleAdmin, RoleManager}
)

func (a Actor) HasRole(allowed ...Role) bool {
	for _, r := range allowed {
		if a.Role == r {
			return true
		}
	}
	return false
}

// HasStoreAccess: ADMIN reaches every store, everyone else only their own.
func (a Actor) HasStoreAccess(storeID string) bool {
	if !a.Role.Valid() || storeID == "" {
		return false
	}
	if a.Role == RoleAdmin {
		return true
	}
	return a.StoreID == storeID
}

func (a Actor) CanCheckout() bool       { return a.HasRole(checkoutRoles...) }
func (a Actor) CanDiscount() bool       { return a.HasRole(discountRoles...) }
func (a Actor) CanManageShifts() bool   { return a.HasRole(shiftRoles...) }
func (a Actor) CanUseBackoffice() bool  { return a.HasRole(backofficeRole...) }
func (a Actor) CanEditPayments() bool   { return a.HasRole(backofficeRole...) }
func (a Actor) CanAdvanceKitchen() bool { return a.HasRole(kitchenRoles...) }

// CanTransitionTo applies the role gate for a target status.
func (a Actor) CanTransitionTo(target Status) bool {
	if target.IsReversal() {
		return a.HasRole(reversalRoles...)
	}
	return a.HasRole(kitchenRoles...)
}
