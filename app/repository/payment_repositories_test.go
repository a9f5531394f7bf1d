package repository

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestOrderRepository_ClaimFulfillmentOnce(t *testing.T) {
	db := testutil.NewTestDB(t)
	seed := testutil.SeedOrder(t, db, testutil.OrderSeed{})
	repo := NewOrderRepository(db)

	claimed, err := repo.ClaimFulfillment(seed.Order.ID, testNow)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.ClaimFulfillment(seed.Order.ID, testNow)
	require.NoError(t, err)
	assert.False(t, claimed)

	order, err := repo.GetByID(seed.Order.ID)
	require.NoError(t, err)
	assert.True(t, order.Fulfilled)
	require.NotNil(t, order.FulfilledAt)
	assert.Len(t, order.Items, 2)
}

func TestOrderRepository_SettledOrderIsNeverDowngraded(t *testing.T) {
	db := testutil.NewTestDB(t)
	seed := testutil.SeedOrder(t, db, testutil.OrderSeed{})
	repo := NewOrderRepository(db)

	updated, err := repo.UpdatePaymentStatus(seed.Order.ID, models.OrderPaymentPending)
	require.NoError(t, err)
	assert.True(t, updated)

	require.NoError(t, repo.MarkPaid(seed.Order.ID))

	updated, err = repo.UpdatePaymentStatus(seed.Order.ID, models.OrderPaymentFailed)
	require.NoError(t, err)
	assert.False(t, updated)

	cancelled, err := repo.Cancel(seed.Order.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	order := testutil.ReloadOrder(t, db, seed.Order.ID)
	assert.Equal(t, models.OrderPaymentPaid, order.PaymentStatus)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)
}

func TestOrderRepository_CancelAndReview(t *testing.T) {
	db := testutil.NewTestDB(t)
	seed := testutil.SeedOrder(t, db, testutil.OrderSeed{})
	repo := NewOrderRepository(db)

	cancelled, err := repo.Cancel(seed.Order.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)
	order := testutil.ReloadOrder(t, db, seed.Order.ID)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	assert.Equal(t, models.OrderPaymentFailed, order.PaymentStatus)

	require.NoError(t, repo.MarkForReview(seed.Order.ID, "stock mismatch"))
	order = testutil.ReloadOrder(t, db, seed.Order.ID)
	assert.Equal(t, models.OrderStatusNeedsReview, order.Status)
	assert.Equal(t, "stock mismatch", order.ReviewNote)
}

func TestProductRepository_DecrementStock(t *testing.T) {
	db := testutil.NewTestDB(t)
	seed := testutil.SeedOrder(t, db, testutil.OrderSeed{Lines: []testutil.Line{{Stock: 3, Quantity: 1, Price: "200.00"}}})
	repo := NewProductRepository(db)
	id := seed.Products[0].ID

	require.NoError(t, repo.DecrementStock(id, 2))
	assert.Equal(t, 1, testutil.StockOf(t, db, id))

	assert.ErrorIs(t, repo.DecrementStock(id, 2), ErrInsufficientStock)
	assert.Equal(t, 1, testutil.StockOf(t, db, id))

	assert.ErrorIs(t, repo.DecrementStock(9999, 1), ErrInsufficientStock)
}

func TestProductRepository_ConcurrentDecrementNeverOversells(t *testing.T) {
	db := testutil.NewTestDB(t)
	seed := testutil.SeedOrder(t, db, testutil.OrderSeed{Lines: []testutil.Line{{Stock: 5, Quantity: 1, Price: "200.00"}}})
	repo := NewProductRepository(db)
	id := seed.Products[0].ID

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.DecrementStock(id, 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 0, testutil.StockOf(t, db, id))
}

func TestCartRepository_ClearIsIdempotent(t *testing.T) {
	db := testutil.NewTestDB(t)
	seed := testutil.SeedOrder(t, db, testutil.OrderSeed{})
	repo := NewCartRepository(db)

	n, err := repo.ClearByUserID(seed.Order.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.ClearByUserID(seed.Order.UserID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPaymentAttemptRepository_Lookups(t *testing.T) {
	db := testutil.NewTestDB(t)
	seed := testutil.SeedOrder(t, db, testutil.OrderSeed{LegacyID: "pi_legacy"})
	repo := NewPaymentAttemptRepository(db)

	got, err := repo.FindBySessionID(models.PaymentProviderStripe, "cs_test_a1")
	require.NoError(t, err)
	assert.Equal(t, seed.Attempt.ID, got.ID)

	got, err = repo.FindByChargeID(models.PaymentProviderStripe, "pi_legacy")
	require.NoError(t, err)
	assert.Equal(t, seed.Attempt.ID, got.ID)

	_, err = repo.FindByChargeID(models.PaymentProviderStripe, "pi_other")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	// The charge id is written once.
	require.NoError(t, repo.AttachChargeID(seed.Attempt.ID, "pi_first"))
	require.NoError(t, repo.AttachChargeID(seed.Attempt.ID, "pi_second"))
	assert.Equal(t, "pi_first", testutil.ReloadAttempt(t, db, seed.Attempt.ID).ProviderChargeID)

	got, err = repo.FindByChargeID(models.PaymentProviderStripe, "pi_first")
	require.NoError(t, err)
	assert.Equal(t, seed.Attempt.ID, got.ID)
}

func TestPaymentAttemptRepository_CountSucceededForOrder(t *testing.T) {
	db := testutil.NewTestDB(t)
	seed := testutil.SeedOrder(t, db, testutil.OrderSeed{})
	repo := NewPaymentAttemptRepository(db)

	second := &models.PaymentAttempt{
		OrderID:  seed.Order.ID,
		UserID:   seed.Order.UserID,
		Amount:   20000,
		Currency: "eur",
		Status:   models.PaymentAttemptSucceeded,
		Provider: models.PaymentProviderStripe,
	}
	require.NoError(t, repo.Create(second))

	n, err := repo.CountSucceededForOrder(seed.Order.ID, seed.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.CountSucceededForOrder(seed.Order.ID, second.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	latest, err := repo.FindLatestByOrderID(seed.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}

func TestProcessedEventRepository_CreateIfNotExists(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewProcessedEventRepository(db)

	first := &models.ProcessedEvent{Provider: "stripe", EventID: "evt_1", EventType: "payment_intent.succeeded", PayloadJSON: `{"n":1}`, ProcessedAt: testNow}
	created, stored, err := repo.CreateIfNotExists(first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, stored.ID)

	dup := &models.ProcessedEvent{Provider: "stripe", EventID: "evt_1", EventType: "payment_intent.succeeded", PayloadJSON: `{"n":2}`, ProcessedAt: testNow}
	created, stored, err = repo.CreateIfNotExists(dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, stored.ID)
	assert.Equal(t, `{"n":1}`, stored.PayloadJSON)

	// Same event id from another provider is a different event.
	other := &models.ProcessedEvent{Provider: "paypal", EventID: "evt_1", EventType: "x", PayloadJSON: "{}", ProcessedAt: testNow}
	created, _, err = repo.CreateIfNotExists(other)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestProcessedEventRepository_RetentionQueries(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewProcessedEventRepository(db)
	for i, at := range []time.Time{testNow.Add(-72 * time.Hour), testNow.Add(-48 * time.Hour), testNow} {
		_, _, err := repo.CreateIfNotExists(&models.ProcessedEvent{
			Provider: "stripe", EventID: string(rune('a' + i)), EventType: "t", PayloadJSON: "{}", ProcessedAt: at,
		})
		require.NoError(t, err)
	}

	old, err := repo.ListOlderThan(testNow.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, old, 2)
	assert.Equal(t, "a", old[0].EventID)

	n, err := repo.DeleteByIDs([]uint{old[0].ID, old[1].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.DeleteByIDs(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFailedEventRepository_Lifecycle(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewFailedEventRepository(db)

	fe := &models.FailedEvent{
		Provider: "stripe", EventID: "evt_f", EventType: "payment_intent.succeeded",
		PayloadJSON: "{}", MaxAttempts: 2, NextRetryAt: testNow, Status: models.FailedEventPending,
	}
	created, err := repo.CreateIfNotExists(fe)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateIfNotExists(&models.FailedEvent{
		Provider: "stripe", EventID: "evt_f", EventType: "payment_intent.succeeded",
		PayloadJSON: "{}", MaxAttempts: 2, NextRetryAt: testNow, Status: models.FailedEventPending,
	})
	require.NoError(t, err)
	assert.False(t, created)

	due, err := repo.FindDue(testNow.Add(-time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = repo.FindDue(testNow, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	claimed, err := repo.Claim(fe.ID, testNow, time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = repo.Claim(fe.ID, testNow, time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed, "a leased row cannot be claimed twice")

	got, err := repo.GetByID(fe.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FailedEventRetrying, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.LastAttemptAt)

	require.NoError(t, repo.Reschedule(fe.ID, "boom", testNow.Add(5*time.Second)))
	claimed, err = repo.Claim(fe.ID, testNow.Add(5*time.Second), time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	// attempt_count reached max_attempts: never due again.
	require.NoError(t, repo.Reschedule(fe.ID, "boom", testNow.Add(time.Minute)))
	due, err = repo.FindDue(testNow.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, repo.MarkFailed(fe.ID, "boom"))
	rearmed, err := repo.Rearm(fe.ID, testNow.Add(time.Hour), 2)
	require.NoError(t, err)
	assert.True(t, rearmed)
	got, err = repo.GetByID(fe.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FailedEventPending, got.Status)
	assert.Equal(t, 4, got.MaxAttempts)

	rearmed, err = repo.Rearm(fe.ID, testNow, 2)
	require.NoError(t, err)
	assert.False(t, rearmed, "only failed rows can be re-armed")

	due, err = repo.FindDue(testNow.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	require.NoError(t, repo.MarkSucceeded(fe.ID))
	listed, err := repo.List(models.FailedEventSucceeded, 0, 10)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
	listed, err = repo.List(models.FailedEventFailed, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

// Two transactions open on separate connections: the second one's insert and
// stock update only run once the first commits, and must then lose on the
// unique index and the stock guard instead of duplicating or overselling.
func TestOpenTransactionsCollideOnLedgerAndStock(t *testing.T) {
	db := testutil.NewConcurrentTestDB(t)
	seed := testutil.SeedOrder(t, db, testutil.OrderSeed{Lines: []testutil.Line{{Stock: 5, Quantity: 3, Price: "200.00"}}})
	productID := seed.Products[0].ID

	row := func() *models.ProcessedEvent {
		return &models.ProcessedEvent{Provider: "stripe", EventID: "evt_open_tx", EventType: "payment_intent.succeeded", PayloadJSON: "{}", ProcessedAt: testNow}
	}

	first := db.Begin()
	require.NoError(t, first.Error)
	accepted, _, err := NewProcessedEventRepository(first).CreateIfNotExists(row())
	require.NoError(t, err)
	require.True(t, accepted)
	require.NoError(t, NewProductRepository(first).DecrementStock(productID, 3))

	type outcome struct {
		accepted bool
		existing *models.ProcessedEvent
		ledger   error
		stock    error
		commit   error
	}
	started := make(chan struct{})
	done := make(chan outcome, 1)
	go func() {
		close(started)
		var out outcome
		second := db.Begin()
		if second.Error != nil {
			out.commit = second.Error
			done <- out
			return
		}
		out.accepted, out.existing, out.ledger = NewProcessedEventRepository(second).CreateIfNotExists(row())
		out.stock = NewProductRepository(second).DecrementStock(productID, 3)
		out.commit = second.Commit().Error
		done <- out
	}()

	<-started
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, first.Commit().Error)

	out := <-done
	require.NoError(t, out.ledger)
	require.NoError(t, out.commit)
	assert.False(t, out.accepted)
	require.NotNil(t, out.existing)
	assert.Equal(t, "evt_open_tx", out.existing.EventID)
	assert.True(t, errors.Is(out.stock, ErrInsufficientStock))

	assert.Equal(t, int64(1), testutil.Count(t, db, &models.ProcessedEvent{}, "event_id = ?", "evt_open_tx"))
	assert.Equal(t, 2, testutil.StockOf(t, db, productID))
}

func TestFailedEventRepository_FailAbandoned(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewFailedEventRepository(db)

	mk := func(id string, status string, attempts, max int, due time.Time) *models.FailedEvent {
		fe := &models.FailedEvent{Provider: "stripe", EventID: id, EventType: "x", PayloadJSON: "{}",
			AttemptCount: attempts, MaxAttempts: max, NextRetryAt: due, Status: status}
		require.NoError(t, db.Create(fe).Error)
		return fe
	}
	abandoned := mk("evt_abandoned", models.FailedEventRetrying, 6, 6, testNow.Add(-time.Minute))
	leased := mk("evt_leased", models.FailedEventRetrying, 6, 6, testNow.Add(time.Minute))
	midway := mk("evt_midway", models.FailedEventRetrying, 2, 6, testNow.Add(-time.Minute))

	n, err := repo.FailAbandoned(testNow, "worker gone")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetByID(abandoned.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FailedEventFailed, got.Status)
	assert.Equal(t, "worker gone", got.LastError)

	for _, id := range []uint{leased.ID, midway.ID} {
		got, err := repo.GetByID(id)
		require.NoError(t, err)
		assert.Equal(t, models.FailedEventRetrying, got.Status)
	}
}
