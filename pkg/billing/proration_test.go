package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/billsdk/pkg/billing"
)

func TestProrate(t *testing.T) {
	t.Parallel()

	end := start.AddDate(0, 0, 30)
	day := 24 * time.Hour

	tests := []struct {
		name     string
		old, new int64
		now      time.Time
		want     billing.Proration
	}{
		{
			name: "half period upgrade",
			old:  1000,
			new:  2000,
			now:  start.Add(15 * day),
			want: billing.Proration{Credit: 500, Charge: 1000, Net: 500, RemainingFraction: 0.5},
		},
		{
			name: "at period start",
			old:  1000,
			new:  2000,
			now:  start,
			want: billing.Proration{Credit: 1000, Charge: 2000, Net: 1000, RemainingFraction: 1},
		},
		{
			name: "at period end",
			old:  1000,
			new:  2000,
			now:  end,
			want: billing.Proration{},
		},
		{
			name: "before period clamps to start",
			old:  1000,
			new:  2000,
			now:  start.Add(-day),
			want: billing.Proration{Credit: 1000, Charge: 2000, Net: 1000, RemainingFraction: 1},
		},
		{
			name: "after period clamps to end",
			old:  1000,
			new:  2000,
			now:  end.Add(day),
			want: billing.Proration{},
		},
		{
			name: "downgrade is negative",
			old:  2000,
			new:  0,
			now:  start.Add(15 * day),
			want: billing.Proration{Credit: 1000, Charge: 0, Net: -1000, RemainingFraction: 0.5},
		},
		{
			name: "rounds half up",
			old:  0,
			new:  1,
			now:  start.Add(15 * day),
			want: billing.Proration{Credit: 0, Charge: 1, Net: 1, RemainingFraction: 0.5},
		},
		{
			name: "rounds to nearest",
			old:  0,
			new:  100,
			now:  start.Add(29*day + 12*time.Hour),
			// 100 * 12h / 720h = 1.67
			want: billing.Proration{Credit: 0, Charge: 2, Net: 2, RemainingFraction: 12.0 / 720.0},
		},
		{
			name: "rounds down below half",
			old:  0,
			new:  10,
			now:  start.Add(29*day + 12*time.Hour),
			want: billing.Proration{Credit: 0, Charge: 0, Net: 0, RemainingFraction: 12.0 / 720.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := billing.Prorate(tt.old, tt.new, start, end, tt.now)
			assert.Equal(t, tt.want.Credit, got.Credit)
			assert.Equal(t, tt.want.Charge, got.Charge)
			assert.Equal(t, tt.want.Net, got.Net)
			assert.InDelta(t, tt.want.RemainingFraction, got.RemainingFraction, 1e-9)
		})
	}

	t.Run("empty period", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, billing.Proration{}, billing.Prorate(1000, 2000, end, start, start))
	})

	t.Run("large amounts do not overflow", func(t *testing.T) {
		t.Parallel()
		yearEnd := start.AddDate(1, 0, 0)
		mid := start.Add(yearEnd.Sub(start) / 2)
		got := billing.Prorate(0, 1<<50, start, yearEnd, mid)
		assert.Equal(t, int64(1<<49), got.Charge)
	})
}

func TestChangeStrategies(t *testing.T) {
	t.Parallel()

	cheap := billing.Price{Amount: 1000, Currency: "USD", Interval: billing.IntervalMonthly}
	dear := billing.Price{Amount: 2000, Currency: "USD", Interval: billing.IntervalMonthly}

	assert.Equal(t, billing.PolicyImmediate, billing.DeferDowngrades(cheap, dear))
	assert.Equal(t, billing.PolicyImmediate, billing.DeferDowngrades(cheap, cheap))
	assert.Equal(t, billing.PolicyDeferred, billing.DeferDowngrades(dear, cheap))

	assert.Equal(t, billing.PolicyImmediate, billing.ImmediateAlways(cheap, dear))
	assert.Equal(t, billing.PolicyImmediate, billing.ImmediateAlways(dear, cheap))
}
