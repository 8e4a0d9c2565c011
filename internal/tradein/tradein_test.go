package tradein

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"altarath/pos/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestAddEntryAndTotal(t *testing.T) {
	l := NewLedger()

	a, err := l.AddEntry(70, domain.ConditionScrap, dec("3.500"))
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)

	_, err = l.AddEntry(100, domain.ConditionResellable, dec("9.000"))
	require.NoError(t, err)

	assert.Len(t, l.Entries(), 2)
	assert.True(t, l.Total().Equal(dec("12.500")))
}

func TestAddEntryNamesEveryBadField(t *testing.T) {
	l := NewLedger()

	_, err := l.AddEntry(55, "mint", dec("0"))
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{"batterySize", "condition", "amount"}, verr.Fields)

	// rejected add leaves the ledger untouched
	assert.Empty(t, l.Entries())
	assert.True(t, l.Total().IsZero())
}

func TestAddEntryRejectsNegativeAmount(t *testing.T) {
	l := NewLedger()
	_, err := l.AddEntry(40, domain.ConditionScrap, dec("-1"))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"amount"}, verr.Fields)
}

func TestUpdateEntry(t *testing.T) {
	l := NewLedger()
	entry, err := l.AddEntry(60, domain.ConditionScrap, dec("2.000"))
	require.NoError(t, err)

	updated, err := l.UpdateEntry(entry.ID, 80, domain.ConditionResellable, dec("6.000"))
	require.NoError(t, err)
	assert.Equal(t, 80, updated.BatterySize)
	assert.True(t, l.Total().Equal(dec("6.000")))
}

func TestUpdateEntryInvalidLeavesOriginal(t *testing.T) {
	l := NewLedger()
	entry, err := l.AddEntry(60, domain.ConditionScrap, dec("2.000"))
	require.NoError(t, err)

	_, err = l.UpdateEntry(entry.ID, 61, domain.ConditionScrap, dec("2.000"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	entries := l.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 60, entries[0].BatterySize)
}

func TestUpdateUnknownEntry(t *testing.T) {
	l := NewLedger()
	_, err := l.UpdateEntry("missing", 60, domain.ConditionScrap, dec("2.000"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEntryNotFound))

	var verr *ValidationError
	assert.False(t, errors.As(err, &verr))
}

func TestRemoveEntry(t *testing.T) {
	l := NewLedger()
	entry, err := l.AddEntry(40, domain.ConditionScrap, dec("1.500"))
	require.NoError(t, err)

	assert.True(t, l.RemoveEntry(entry.ID))
	assert.False(t, l.RemoveEntry(entry.ID))
	assert.Empty(t, l.Entries())
}
