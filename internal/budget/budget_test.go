package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountantDebit(t *testing.T) {
	a := NewAccountant(1000, 0)

	require.NoError(t, a.Debit(300))
	assert.Equal(t, int64(300), a.Used())
	assert.Equal(t, int64(700), a.Remaining())

	require.NoError(t, a.Debit(700))
	assert.Equal(t, int64(0), a.Remaining())
}

func TestAccountantDebitRefusesOverspend(t *testing.T) {
	a := NewAccountant(1000, 900)

	err := a.Debit(200)
	require.ErrorIs(t, err, ErrInsufficientBudget)

	// A refused debit changes nothing.
	assert.Equal(t, int64(900), a.Used())
	assert.Equal(t, int64(100), a.Remaining())
}

func TestAccountantDebitRefusesNegative(t *testing.T) {
	a := NewAccountant(1000, 0)

	require.Error(t, a.Debit(-1))
	assert.Equal(t, int64(0), a.Used())
}

func TestAccountantExactRemainingIsAffordable(t *testing.T) {
	a := NewAccountant(1000, 200)

	assert.True(t, a.CanAfford(800))
	assert.False(t, a.CanAfford(801))
	require.NoError(t, a.Debit(800))
	assert.False(t, a.CanAfford(1))
}

func TestAccountantTopUpRestoresCapacity(t *testing.T) {
	a := NewAccountant(500, 500)
	require.False(t, a.CanAfford(1))

	a.TopUp(250)
	assert.Equal(t, int64(750), a.Total())
	assert.Equal(t, int64(250), a.Remaining())
	require.NoError(t, a.Debit(250))
}

func TestAccountantZeroDebit(t *testing.T) {
	a := NewAccountant(100, 100)

	// Zero-cost work is always affordable, even at exhaustion.
	require.NoError(t, a.Debit(0))
	assert.Equal(t, int64(100), a.Used())
}
