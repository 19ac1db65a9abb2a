package utils

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSecureCodeSource_Range(t *testing.T) {
	src := SecureCodeSource{}

	tests := []struct {
		name string
		n    int
	}{
		{name: "single value", n: 1},
		{name: "small range", n: 3},
		{name: "unique code range", n: 999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 200; i++ {
				v := src.Intn(tt.n)
				assert.GreaterOrEqual(t, v, 0)
				assert.Less(t, v, tt.n)
			}
		})
	}
}

func TestFixedClock_Advance(t *testing.T) {
	start := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	clock := NewFixedClock(start)

	assert.Equal(t, start, clock.Now())

	clock.Advance(15 * time.Minute)
	assert.Equal(t, start.Add(15*time.Minute), clock.Now())

	clock.Set(start)
	assert.Equal(t, start, clock.Now())
}

func TestSumDecimals(t *testing.T) {
	total := SumDecimals(decimal.NewFromInt(100000), decimal.NewFromInt(50000), decimal.RequireFromString("0.50"))
	assert.True(t, total.Equal(decimal.RequireFromString("150000.50")), "got %s", total)
	assert.True(t, SumDecimals().Equal(decimal.Zero))
}

func TestUniqueSortedIDs(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000001")

	result := UniqueSortedIDs([]uuid.UUID{a, b, a})

	assert.Equal(t, []uuid.UUID{b, a}, result)
}
