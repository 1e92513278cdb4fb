package accounts

import "errors"

// Reason is the closed set of causes a stock movement can carry. It selects
// the counter account of the inventory posting.
type Reason string

const (
	ReasonPurchase       Reason = "purchase"
	ReasonOpening        Reason = "opening"
	ReasonSalesReturn    Reason = "sales_return"
	ReasonProduction     Reason = "production"
	ReasonAdjustment     Reason = "adjustment"
	ReasonSales          Reason = "sales"
	ReasonPurchaseReturn Reason = "purchase_return"
	ReasonConsumption    Reason = "consumption"
	ReasonScrap          Reason = "scrap"
	ReasonCountSurplus   Reason = "count_surplus"
	ReasonCountShortage  Reason = "count_shortage"
)

// Role names an account slot: either an item-level account or a company
// fallback looked up by code.
type Role string

const (
	RoleInventory  Role = "inventory"
	RoleCOGS       Role = "cogs"
	RoleSales      Role = "sales"
	RolePurchase   Role = "purchase"
	RolePayable    Role = "payable"
	RoleReceivable Role = "receivable"
	RoleEquity     Role = "equity"
	RoleProduction Role = "production"
	RoleAdjustment Role = "adjustment"
)

// ItemAccounts are the accounts configured on an item. Zero means unset.
type ItemAccounts struct {
	Inventory int64
	COGS      int64
	Sales     int64
	Purchase  int64
}

func (a ItemAccounts) forRole(role Role) int64 {
	switch role {
	case RoleInventory:
		return a.Inventory
	case RoleCOGS:
		return a.COGS
	case RoleSales:
		return a.Sales
	case RolePurchase:
		return a.Purchase
	}
	return 0
}

var (
	// ErrAccountNotConfigured indicates neither the item nor the company fallback has an account.
	ErrAccountNotConfigured = errors.New("accounting: account not configured")
	// ErrUnknownReason indicates a reason outside the closed set.
	ErrUnknownReason = errors.New("accounting: unknown movement reason")
)
