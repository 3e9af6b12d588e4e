package billing

// ChangePolicy names how a plan change is applied.
type ChangePolicy string

const (
	// PolicyImmediate switches the plan now, prorating the price difference.
	PolicyImmediate ChangePolicy = "immediate"
	// PolicyDeferred records the change and applies it at the next renewal.
	PolicyDeferred ChangePolicy = "deferred"
)

// ChangeStrategy picks the policy for moving from one price to another.
type ChangeStrategy func(from, to Price) ChangePolicy

// DeferDowngrades switches immediately when the new price is at least the
// current one and defers cheaper prices to the next period boundary.
func DeferDowngrades(from, to Price) ChangePolicy {
	if to.Amount >= from.Amount {
		return PolicyImmediate
	}
	return PolicyDeferred
}

// ImmediateAlways switches every change at once. A negative net proration is
// absorbed without a refund.
func ImmediateAlways(from, to Price) ChangePolicy {
	return PolicyImmediate
}
