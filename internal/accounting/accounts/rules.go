package accounts

// Rule describes how to pick the counter account for a reason. Counter is
// tried on the item first and then via the company fallback code.
type Rule struct {
	Counter Role
}

var rules = map[Reason]Rule{
	ReasonPurchase:       {Counter: RolePayable},
	ReasonOpening:        {Counter: RoleEquity},
	ReasonSalesReturn:    {Counter: RoleReceivable},
	ReasonProduction:     {Counter: RoleProduction},
	ReasonAdjustment:     {Counter: RoleAdjustment},
	ReasonSales:          {Counter: RoleCOGS},
	ReasonPurchaseReturn: {Counter: RolePayable},
	ReasonConsumption:    {Counter: RoleProduction},
	ReasonScrap:          {Counter: RoleAdjustment},
	ReasonCountSurplus:   {Counter: RoleAdjustment},
	ReasonCountShortage:  {Counter: RoleAdjustment},
}

// DefaultFallbackCodes maps each role to the well-known company account code
// used when the item carries no account of its own.
var DefaultFallbackCodes = map[Role]string{
	RoleInventory:  "1400",
	RoleReceivable: "1200",
	RolePayable:    "2100",
	RoleEquity:     "3100",
	RoleSales:      "4100",
	RoleCOGS:       "5100",
	RolePurchase:   "5000",
	RoleProduction: "5200",
	RoleAdjustment: "5900",
}

// RuleFor returns the rule registered for reason.
func RuleFor(reason Reason) (Rule, error) {
	rule, ok := rules[reason]
	if !ok {
		return Rule{}, ErrUnknownReason
	}
	return rule, nil
}

// Reasons lists every reason known to the rule table.
func Reasons() []Reason {
	out := make([]Reason, 0, len(rules))
	for r := range rules {
		out = append(out, r)
	}
	return out
}

// ParseReason validates a reason string.
func ParseReason(v string) (Reason, error) {
	r := Reason(v)
	if _, ok := rules[r]; !ok {
		return "", ErrUnknownReason
	}
	return r, nil
}
