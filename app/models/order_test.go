package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderTotalMinorUnits(t *testing.T) {
	tests := []struct {
		name     string
		total    string
		currency string
		want     int64
	}{
		{"two decimals", "200.00", "eur", 20000},
		{"whole amount", "19", "usd", 1900},
		{"cents", "0.99", "EUR", 99},
		{"zero decimal currency", "1500", "jpy", 1500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Order{TotalAmount: decimal.RequireFromString(tt.total), Currency: tt.currency}
			got, err := o.TotalMinorUnits()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrderTotalMinorUnits_RejectsExcessPrecision(t *testing.T) {
	o := &Order{ID: 7, TotalAmount: decimal.RequireFromString("10.005"), Currency: "eur"}
	_, err := o.TotalMinorUnits()
	assert.Error(t, err)

	o = &Order{ID: 8, TotalAmount: decimal.RequireFromString("10.5"), Currency: "jpy"}
	_, err = o.TotalMinorUnits()
	assert.Error(t, err)
}

func TestOrderIsSettled(t *testing.T) {
	assert.False(t, (&Order{PaymentStatus: OrderPaymentPending}).IsSettled())
	assert.False(t, (&Order{PaymentStatus: OrderPaymentFailed}).IsSettled())
	assert.True(t, (&Order{PaymentStatus: OrderPaymentPaid}).IsSettled())
	assert.True(t, (&Order{PaymentStatus: OrderPaymentPending, Fulfilled: true}).IsSettled())
}

func TestPaymentAttemptIsTerminal(t *testing.T) {
	for _, s := range []string{PaymentAttemptSucceeded, PaymentAttemptRefunded, PaymentAttemptCanceled} {
		assert.True(t, (&PaymentAttempt{Status: s}).IsTerminal(), s)
	}
	for _, s := range []string{PaymentAttemptPending, PaymentAttemptRequiresAction, PaymentAttemptFailed} {
		assert.False(t, (&PaymentAttempt{Status: s}).IsTerminal(), s)
	}
}
