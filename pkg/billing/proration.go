package billing

import (
	"math/big"
	"time"
)

// Proration is the outcome of a mid-period price change.
// Net is Charge minus Credit; a positive Net is owed by the customer.
type Proration struct {
	Credit            int64
	Charge            int64
	Net               int64
	RemainingFraction float64
}

// Prorate computes the unused value of oldAmount and the cost of newAmount
// for the rest of [periodStart, periodEnd] as seen at now. now is clamped
// into the period. Amounts are scaled by remaining/total nanoseconds and
// rounded half-up to the minor unit.
func Prorate(oldAmount, newAmount int64, periodStart, periodEnd, now time.Time) Proration {
	total := periodEnd.Sub(periodStart)
	if total <= 0 {
		return Proration{}
	}
	switch {
	case now.Before(periodStart):
		now = periodStart
	case now.After(periodEnd):
		now = periodEnd
	}
	remaining := periodEnd.Sub(now)

	credit := scaleHalfUp(oldAmount, int64(remaining), int64(total))
	charge := scaleHalfUp(newAmount, int64(remaining), int64(total))
	fraction, _ := new(big.Rat).SetFrac64(int64(remaining), int64(total)).Float64()

	return Proration{
		Credit:            credit,
		Charge:            charge,
		Net:               charge - credit,
		RemainingFraction: fraction,
	}
}

// scaleHalfUp returns round(amount*num/den) with halves rounded up. All
// arguments are non-negative; amount*num can exceed int64.
func scaleHalfUp(amount, num, den int64) int64 {
	if amount == 0 || num == 0 {
		return 0
	}
	q, r := new(big.Int).QuoRem(
		new(big.Int).Mul(big.NewInt(amount), big.NewInt(num)),
		big.NewInt(den),
		new(big.Int),
	)
	if r.Lsh(r, 1).Cmp(big.NewInt(den)) >= 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Int64()
}
