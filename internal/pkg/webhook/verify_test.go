package webhook

import (
	"testing"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/payment"
	"github.com/ManuelReschke/PayFox/internal/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyAmount(t *testing.T) {
	order := &models.Order{ID: 1, TotalAmount: decimal.RequireFromString("200.00"), Currency: "eur"}

	assert.NoError(t, verifyAmount(order, 20000, "eur"))
	assert.NoError(t, verifyAmount(order, 20000, "EUR"))
	assert.NoError(t, verifyAmount(order, 20000, ""))
	assert.ErrorIs(t, verifyAmount(order, 10000, "eur"), ErrAmountMismatch)
	assert.ErrorIs(t, verifyAmount(order, 20001, "eur"), ErrAmountMismatch)
	assert.ErrorIs(t, verifyAmount(order, 20000, "usd"), ErrAmountMismatch)

	jpy := &models.Order{ID: 2, TotalAmount: decimal.RequireFromString("1500"), Currency: "jpy"}
	assert.NoError(t, verifyAmount(jpy, 1500, "jpy"))
	assert.ErrorIs(t, verifyAmount(jpy, 150000, "jpy"), ErrAmountMismatch)
}

func TestResolveAttempt_Order(t *testing.T) {
	db := testutil.NewTestDB(t)
	seed := testutil.SeedOrder(t, db, testutil.OrderSeed{ChargeID: "pi_charge", LegacyID: "pi_old"})
	repo := repository.NewPaymentAttemptRepository(db)

	newer := &models.PaymentAttempt{
		OrderID: seed.Order.ID, UserID: seed.Order.UserID, Amount: 20000, Currency: "eur",
		Status: models.PaymentAttemptPending, Provider: models.PaymentProviderStripe, ProviderSessionID: "cs_newer",
	}
	require.NoError(t, db.Create(newer).Error)

	tests := []struct {
		name string
		ev   payment.Event
		want uint
	}{
		{"session id", payment.Event{ProviderPaymentID: seed.Attempt.ProviderSessionID}, seed.Attempt.ID},
		{"charge id", payment.Event{ProviderPaymentID: "pi_charge", ProviderChargeID: "pi_charge"}, seed.Attempt.ID},
		{"historical id", payment.Event{ProviderPaymentID: "pi_old", ProviderChargeID: "pi_old"}, seed.Attempt.ID},
		{"order reference picks newest", payment.Event{ProviderPaymentID: "pi_nothing", OrderID: seed.Order.ID}, newer.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.ev.Provider = models.PaymentProviderStripe
			tt.ev.EventID = "evt_" + tt.name
			attempt, err := resolveAttempt(repo, &tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, attempt.ID)
		})
	}

	_, err := resolveAttempt(repo, &payment.Event{Provider: "stripe", EventID: "evt_x", ProviderPaymentID: "pi_none", OrderID: 999})
	assert.ErrorIs(t, err, errAttemptNotFound)
}

func TestLedger(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewProcessedEventRepository(db)
	ev := &payment.Event{Provider: "stripe", EventID: "evt_ledger", EventType: "payment_intent.succeeded", RawPayload: []byte(`{"id":"evt_ledger"}`)}

	existing, err := Lookup(repo, ev)
	require.NoError(t, err)
	assert.Nil(t, existing)

	accepted, row, err := TryAcquire(repo, ev, testNow())
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.NotZero(t, row.ID)

	accepted, row2, err := TryAcquire(repo, ev, testNow())
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, row.ID, row2.ID)

	existing, err = Lookup(repo, ev)
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.JSONEq(t, `{"id":"evt_ledger"}`, existing.PayloadJSON)
}

func testNow() time.Time {
	return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
}
