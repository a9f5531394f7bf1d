package checkout

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/payment"
	"github.com/ManuelReschke/PayFox/internal/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	requests []payment.CheckoutRequest
	err      error
}

func (f *fakeProvider) InitiatePayment(_ context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &payment.CheckoutSession{
		SessionID: "cs_test_new",
		URL:       "https://checkout.stripe.test/c/pay/cs_test_new",
		Metadata:  map[string]string{"order_id": "1"},
	}, nil
}

func (f *fakeProvider) AuthenticateWebhook(context.Context, []byte, http.Header) (*payment.Event, error) {
	return nil, errors.New("not used")
}

func (f *fakeProvider) QueryStatus(context.Context, string) (*payment.StatusResult, error) {
	return nil, errors.New("not used")
}

type countingRecorder struct {
	attempts int
}

func (c *countingRecorder) PaymentAttempt(string)                  { c.attempts++ }
func (c *countingRecorder) PaymentSucceeded(string, string, int64) {}
func (c *countingRecorder) PaymentFailed(string)                   {}
func (c *countingRecorder) AmountMismatch(string)                  {}
func (c *countingRecorder) WebhookOutcome(string)                  {}
func (c *countingRecorder) WebhookDuration(string, time.Duration)  {}

func TestStart_CreatesAttemptAndSession(t *testing.T) {
	db := testutil.NewTestDB(t)
	seed := testutil.SeedOrder(t, db, testutil.OrderSeed{})
	provider := &fakeProvider{}
	rec := &countingRecorder{}
	svc := NewService(db, provider, Options{Recorder: rec})

	res, err := svc.Start(context.Background(), Request{OrderID: seed.Order.ID, UserID: seed.Order.UserID})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_new", res.SessionID)
	assert.Equal(t, int64(20000), res.AmountMinor)
	assert.Equal(t, "eur", res.Currency)
	assert.NotEmpty(t, res.CheckoutURL)

	require.Len(t, provider.requests, 1)
	sent := provider.requests[0]
	assert.Equal(t, seed.Order.ID, sent.OrderID)
	assert.Equal(t, res.AttemptID, sent.AttemptID)
	assert.Equal(t, int64(20000), sent.AmountMinor)
	assert.NotEmpty(t, sent.IdempotencyKey)

	attempt := testutil.ReloadAttempt(t, db, res.AttemptID)
	assert.Equal(t, models.PaymentAttemptPending, attempt.Status)
	assert.Equal(t, models.PaymentProviderStripe, attempt.Provider)
	assert.Equal(t, "cs_test_new", attempt.ProviderSessionID)
	assert.Equal(t, int64(20000), attempt.Amount)
	assert.JSONEq(t, `{"order_id":"1"}`, attempt.ProviderMetadata)
	assert.Equal(t, 1, rec.attempts)
}

func TestStart_Validation(t *testing.T) {
	svc := NewService(testutil.NewTestDB(t), &fakeProvider{}, Options{})

	_, err := svc.Start(context.Background(), Request{UserID: 1})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Start(context.Background(), Request{OrderID: 1, UserID: 1, SuccessURL: "not a url"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestStart_UnknownOrForeignOrder(t *testing.T) {
	db := testutil.NewTestDB(t)
	seed := testutil.SeedOrder(t, db, testutil.OrderSeed{})
	svc := NewService(db, &fakeProvider{}, Options{})

	_, err := svc.Start(context.Background(), Request{OrderID: 999, UserID: seed.Order.UserID})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = svc.Start(context.Background(), Request{OrderID: seed.Order.ID, UserID: seed.Order.UserID + 1})
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestStart_SettledOrderIsNotPayable(t *testing.T) {
	db := testutil.NewTestDB(t)
	seed := testutil.SeedOrder(t, db, testutil.OrderSeed{})
	require.NoError(t, db.Model(&models.Order{}).Where("id = ?", seed.Order.ID).
		Updates(map[string]interface{}{"payment_status": models.OrderPaymentPaid, "status": models.OrderStatusConfirmed}).Error)
	provider := &fakeProvider{}
	svc := NewService(db, provider, Options{})

	_, err := svc.Start(context.Background(), Request{OrderID: seed.Order.ID, UserID: seed.Order.UserID})
	assert.ErrorIs(t, err, ErrOrderNotPayable)
	assert.Empty(t, provider.requests)
}

func TestStart_ProviderFailureMarksAttemptFailed(t *testing.T) {
	db := testutil.NewTestDB(t)
	seed := testutil.SeedOrder(t, db, testutil.OrderSeed{})
	svc := NewService(db, &fakeProvider{err: errors.New("stripe down")}, Options{})

	_, err := svc.Start(context.Background(), Request{OrderID: seed.Order.ID, UserID: seed.Order.UserID})
	require.ErrorContains(t, err, "stripe down")

	var attempts []models.PaymentAttempt
	require.NoError(t, db.Where("order_id = ? AND id <> ?", seed.Order.ID, seed.Attempt.ID).Find(&attempts).Error)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.PaymentAttemptFailed, attempts[0].Status)
}
