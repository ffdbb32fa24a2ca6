package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukaanware/dukasync/internal/events"
	"github.com/dukaanware/dukasync/internal/models"
	"github.com/dukaanware/dukasync/internal/netmon"
	"github.com/dukaanware/dukasync/internal/store"
	"github.com/dukaanware/dukasync/internal/transport"
)

func testConfig() Config {
	return Config{
		MaxRetries:   3,
		BaseBackoff:  time.Millisecond,
		MaxBackoff:   10 * time.Millisecond,
		InitialDelay: time.Millisecond,
	}
}

func newTestQueue(t *testing.T, online bool) (*Service, *store.MockStore, *transport.MockGateway, *netmon.ManualMonitor) {
	t.Helper()

	st := store.NewMockStore()
	require.NoError(t, st.SetStoreID("store-1"))

	gw := transport.NewMockGateway()
	mon := netmon.NewManualMonitor(online)
	logger := events.NewTestLogger(events.ErrorLevel, "text", os.Stderr)

	return NewService(st, gw, mon, testConfig(), logger), st, gw, mon
}

func createItem(t *testing.T, rec models.Record) models.SyncQueueItem {
	t.Helper()

	payload, err := models.EncodeRecord(rec)
	require.NoError(t, err)
	return models.SyncQueueItem{
		ID:      rec.RecordID(),
		Entity:  rec.Entity(),
		Action:  models.ActionCreate,
		Payload: payload,
	}
}

func TestEnqueueUpserts(t *testing.T) {
	svc, st, _, _ := newTestQueue(t, false)

	first := createItem(t, &models.Product{ID: "local_1_aaaa", Name: "Soap", Stock: 10})
	require.NoError(t, svc.Enqueue(first))

	// Same key again with fresh payload and stale retry bookkeeping.
	second := createItem(t, &models.Product{ID: "local_1_aaaa", Name: "Soap", Stock: 7})
	second.RetryCount = 4
	second.NextAttemptAt = time.Now().Add(time.Hour)
	second.LastError = "stale"
	require.NoError(t, svc.Enqueue(second))

	other := createItem(t, &models.Product{ID: "local_2_bbbb", Name: "Oil"})
	require.NoError(t, svc.Enqueue(other))

	queue, err := st.Queue()
	require.NoError(t, err)
	require.Len(t, queue, 2, "one slot per (id, entity)")

	assert.Equal(t, "local_1_aaaa", queue[0].ID)
	assert.Zero(t, queue[0].RetryCount, "re-enqueue resets retries")
	assert.True(t, queue[0].NextAttemptAt.IsZero())
	assert.Empty(t, queue[0].LastError)

	rec, err := models.DecodeRecord(models.EntityProduct, queue[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, 7, rec.(*models.Product).Stock, "latest payload wins")
}

func TestProcessQueueOffline(t *testing.T) {
	svc, _, gw, _ := newTestQueue(t, false)
	require.NoError(t, svc.Enqueue(createItem(t, &models.Product{ID: "local_1_aaaa", Name: "Soap"})))

	result, err := svc.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result)
	assert.Empty(t, gw.Calls)
}

func TestProcessQueueWithoutStoreID(t *testing.T) {
	svc, st, gw, _ := newTestQueue(t, true)
	require.NoError(t, st.SetStoreID(""))
	require.NoError(t, st.SaveQueue([]models.SyncQueueItem{
		createItem(t, &models.Product{ID: "local_1_aaaa", Name: "Soap"}),
	}))

	result, err := svc.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result)
	assert.Empty(t, gw.Calls)
}

func TestProcessQueueSyncsInOrder(t *testing.T) {
	svc, st, gw, mon := newTestQueue(t, false)

	require.NoError(t, svc.Enqueue(createItem(t, &models.Product{ID: "local_1_aaaa", Name: "Soap"})))
	require.NoError(t, svc.Enqueue(createItem(t, &models.Customer{ID: "local_2_bbbb", Name: "Ravi"})))
	mon.SetOnline(true)

	result, err := svc.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SyncResult{Synced: 2}, result)

	require.Len(t, gw.Calls, 2)
	assert.Contains(t, gw.Calls[0], "create product")
	assert.Contains(t, gw.Calls[1], "create customer")

	queue, err := st.Queue()
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestProcessQueueRetriesWithBackoff(t *testing.T) {
	svc, st, gw, mon := newTestQueue(t, false)
	gw.CallErrors["create product"] = errors.New("http 500")

	require.NoError(t, svc.Enqueue(createItem(t, &models.Product{ID: "local_1_aaaa", Name: "Soap"})))
	mon.SetOnline(true)

	result, err := svc.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SyncResult{Pending: 1}, result)

	queue, err := st.Queue()
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, 1, queue[0].RetryCount)
	assert.True(t, queue[0].NextAttemptAt.After(time.Now()), "item backs off into the future")
	assert.Contains(t, queue[0].LastError, "http 500")
}

func TestProcessQueueSkipsItemsInBackoff(t *testing.T) {
	svc, st, gw, _ := newTestQueue(t, true)

	item := createItem(t, &models.Product{ID: "local_1_aaaa", Name: "Soap"})
	item.EnqueuedAt = time.Now().UTC()
	item.RetryCount = 1
	item.NextAttemptAt = time.Now().Add(time.Hour)
	require.NoError(t, st.SaveQueue([]models.SyncQueueItem{item}))

	result, err := svc.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SyncResult{Pending: 1}, result)
	assert.Empty(t, gw.Calls, "backing-off item is not attempted")

	queue, err := st.Queue()
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, 1, queue[0].RetryCount, "skip does not count as an attempt")
}

func TestProcessQueueDeadLettersAfterMaxRetries(t *testing.T) {
	svc, st, gw, _ := newTestQueue(t, true)
	gw.CallErrors["create product"] = errors.New("http 500")

	item := createItem(t, &models.Product{ID: "local_1_aaaa", Name: "Soap"})
	item.EnqueuedAt = time.Now().UTC()
	item.RetryCount = 2 // one attempt away from the bound of 3
	require.NoError(t, st.SaveQueue([]models.SyncQueueItem{item}))

	result, err := svc.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SyncResult{Failed: 1}, result)

	queue, err := st.Queue()
	require.NoError(t, err)
	assert.Empty(t, queue)

	dead, err := st.DeadLetters()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "local_1_aaaa", dead[0].ID)
	assert.Equal(t, 3, dead[0].RetryCount)
	assert.False(t, dead[0].FailedAt.IsZero())
}

func TestRequeueDead(t *testing.T) {
	svc, st, gw, _ := newTestQueue(t, false)
	_ = gw

	dead := models.DeadItem{
		SyncQueueItem: models.SyncQueueItem{
			ID: "local_1_aaaa", Entity: models.EntityProduct, Action: models.ActionCreate,
			RetryCount: 3, LastError: "http 500",
		},
		FailedAt: time.Now().UTC(),
	}
	require.NoError(t, st.SaveDeadLetters([]models.DeadItem{dead}))

	t.Run("unknown key", func(t *testing.T) {
		err := svc.RequeueDead("nope", models.EntityProduct)
		assert.ErrorIs(t, err, models.ErrRecordNotFound)
	})

	t.Run("moves item back with reset retries", func(t *testing.T) {
		require.NoError(t, svc.RequeueDead("local_1_aaaa", models.EntityProduct))

		remaining, err := st.DeadLetters()
		require.NoError(t, err)
		assert.Empty(t, remaining)

		queue, err := st.Queue()
		require.NoError(t, err)
		require.Len(t, queue, 1)
		assert.Zero(t, queue[0].RetryCount)
		assert.Empty(t, queue[0].LastError)
	})
}

func TestRequeueDeadPicksRequestedItem(t *testing.T) {
	svc, st, _, _ := newTestQueue(t, false)

	require.NoError(t, st.SaveDeadLetters([]models.DeadItem{
		{SyncQueueItem: models.SyncQueueItem{ID: "local_1_aaaa", Entity: models.EntityProduct, Action: models.ActionCreate}},
		{SyncQueueItem: models.SyncQueueItem{ID: "local_2_bbbb", Entity: models.EntityBill, Action: models.ActionDelete}},
	}))

	require.NoError(t, svc.RequeueDead("local_1_aaaa", models.EntityProduct))

	queue, err := st.Queue()
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "local_1_aaaa", queue[0].ID)
	assert.Equal(t, models.EntityProduct, queue[0].Entity)

	remaining, err := st.DeadLetters()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "local_2_bbbb", remaining[0].ID)
}

func TestRequeueAllDead(t *testing.T) {
	svc, st, _, _ := newTestQueue(t, false)

	require.NoError(t, st.SaveDeadLetters([]models.DeadItem{
		{SyncQueueItem: models.SyncQueueItem{ID: "a", Entity: models.EntityProduct, Action: models.ActionDelete}},
		{SyncQueueItem: models.SyncQueueItem{ID: "b", Entity: models.EntityBill, Action: models.ActionDelete}},
	}))

	n, err := svc.RequeueAllDead()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	queue, err := st.Queue()
	require.NoError(t, err)
	assert.Len(t, queue, 2)

	dead, err := st.DeadLetters()
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestIdentifierRemap(t *testing.T) {
	svc, st, gw, mon := newTestQueue(t, false)
	gw.SetNextID(101)

	productID := "local_1_aaaa"
	customerID := "local_2_bbbb"

	// Local cache created offline: a product, a customer, and a bill plus
	// ledger entry referencing both.
	require.NoError(t, st.SaveRecords(models.EntityProduct, []models.Record{
		&models.Product{ID: productID, Name: "Parle-G", Price: decimal.NewFromInt(10)},
	}))
	require.NoError(t, st.SaveRecords(models.EntityCustomer, []models.Record{
		&models.Customer{ID: customerID, Name: "Ravi"},
	}))
	bill := &models.Bill{
		ID:         "local_3_cccc",
		CustomerID: customerID,
		Items:      []models.BillItem{{ProductID: productID, Name: "Parle-G", Quantity: 2}},
	}
	require.NoError(t, st.SaveRecords(models.EntityBill, []models.Record{bill}))
	require.NoError(t, st.SaveRecords(models.EntityLedgerEntry, []models.Record{
		&models.LedgerEntry{ID: "local_4_dddd", CustomerID: customerID, BillID: "local_3_cccc", Kind: "credit"},
	}))

	require.NoError(t, svc.Enqueue(createItem(t, &models.Product{ID: productID, Name: "Parle-G"})))
	require.NoError(t, svc.Enqueue(createItem(t, &models.Customer{ID: customerID, Name: "Ravi"})))
	require.NoError(t, svc.Enqueue(createItem(t, bill)))
	mon.SetOnline(true)

	result, err := svc.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Synced)

	// Server ids 101, 102, 103 in enqueue order.
	products, err := st.ListRecords(models.EntityProduct)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "101", products[0].RecordID())

	customers, err := st.ListRecords(models.EntityCustomer)
	require.NoError(t, err)
	assert.Equal(t, "102", customers[0].RecordID())

	bills, err := st.ListRecords(models.EntityBill)
	require.NoError(t, err)
	gotBill := bills[0].(*models.Bill)
	assert.Equal(t, "103", gotBill.ID)
	assert.Equal(t, "102", gotBill.CustomerID, "reference follows the customer's server id")
	assert.Equal(t, "101", gotBill.Items[0].ProductID)

	entries, err := st.ListRecords(models.EntityLedgerEntry)
	require.NoError(t, err)
	gotEntry := entries[0].(*models.LedgerEntry)
	assert.Equal(t, "102", gotEntry.CustomerID)
	assert.Equal(t, "103", gotEntry.BillID)

	// The bill payload sent to the server already carried remapped refs.
	remoteBills := gw.Records(models.EntityBill)
	require.Len(t, remoteBills, 1)
	sent := remoteBills[0].(*models.Bill)
	assert.Equal(t, "102", sent.CustomerID)
	assert.Equal(t, "101", sent.Items[0].ProductID)
}

func TestSingleFlight(t *testing.T) {
	svc, st, _, mon := newTestQueue(t, false)
	require.NoError(t, svc.Enqueue(createItem(t, &models.Product{ID: "local_1_aaaa", Name: "Soap"})))
	mon.SetOnline(true)

	// With the guard held, an overlapping pass returns immediately.
	svc.mu.Lock()
	svc.syncing = true
	svc.mu.Unlock()

	result, err := svc.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result)

	// Once the guard clears the queue drains normally.
	svc.mu.Lock()
	svc.syncing = false
	svc.mu.Unlock()

	result, err = svc.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)

	queue, err := st.Queue()
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestConcurrentEnqueues(t *testing.T) {
	svc, st, _, _ := newTestQueue(t, false)

	// Enqueue read-modify-writes the persisted queue; interleaved callers
	// must not lose each other's items.
	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item := createItem(t, &models.Product{ID: fmt.Sprintf("local_%d_aaaa", i), Name: "Soap"})
			assert.NoError(t, svc.Enqueue(item))
		}(i)
	}
	wg.Wait()

	queue, err := st.Queue()
	require.NoError(t, err)
	assert.Len(t, queue, n)
}

func TestEnqueueDuringPassIsKept(t *testing.T) {
	svc, st, gw, mon := newTestQueue(t, false)

	first := createItem(t, &models.Product{ID: "local_1_aaaa", Name: "Soap"})
	require.NoError(t, svc.Enqueue(first))

	// Another caller enqueues while the pass is mid-dispatch; the new item
	// must survive the pass's queue rewrite. The expense create is made to
	// fail so follow-up passes cannot drain it before the assertion.
	gw.CallErrors["create expense"] = errors.New("http 500")
	var once sync.Once
	gw.CreateHook = func() {
		once.Do(func() {
			expense := createItem(t, &models.Expense{ID: "local_2_bbbb", Category: "rent"})
			assert.NoError(t, svc.Enqueue(expense))
		})
	}

	mon.SetOnline(true)
	result, err := svc.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)

	queue, err := st.Queue()
	require.NoError(t, err)
	require.Len(t, queue, 1, "mid-pass enqueue survives reconciliation")
	assert.Equal(t, "local_2_bbbb", queue[0].ID)
}

func TestEventsEmitted(t *testing.T) {
	svc, _, _, mon := newTestQueue(t, false)
	require.NoError(t, svc.Enqueue(createItem(t, &models.Product{ID: "local_1_aaaa", Name: "Soap"})))
	mon.SetOnline(true)

	_, err := svc.ProcessQueue(context.Background())
	require.NoError(t, err)

	select {
	case result := <-svc.Events():
		assert.Equal(t, 1, result.Synced)
	case <-time.After(time.Second):
		t.Fatal("no completion event")
	}
}

func TestStartProcessesOnReconnect(t *testing.T) {
	svc, st, _, mon := newTestQueue(t, false)
	require.NoError(t, svc.Enqueue(createItem(t, &models.Product{ID: "local_1_aaaa", Name: "Soap"})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	mon.SetOnline(true)

	require.Eventually(t, func() bool {
		queue, err := st.Queue()
		return err == nil && len(queue) == 0
	}, 2*time.Second, 10*time.Millisecond, "queue drains after reconnect")
}

func TestOfflineBillScenario(t *testing.T) {
	// A shop sells 2 packs of Parle-G while offline: the product edit and
	// the bill queue up, the sale is recorded immediately, and everything
	// reconciles once connectivity returns.
	svc, st, gw, mon := newTestQueue(t, false)
	gw.SetNextID(201)

	productID := models.NewLocalID()
	require.NoError(t, st.SaveRecords(models.EntityProduct, []models.Record{
		&models.Product{ID: productID, Name: "Parle-G", Price: decimal.NewFromInt(10), Stock: 24},
	}))
	require.NoError(t, svc.Enqueue(createItem(t, &models.Product{ID: productID, Name: "Parle-G", Price: decimal.NewFromInt(10), Stock: 24})))

	// Sale recorded offline.
	billID := models.NewLocalID()
	bill := &models.Bill{
		ID:    billID,
		Items: []models.BillItem{{ProductID: productID, Name: "Parle-G", Quantity: 2, Total: decimal.NewFromInt(20)}},
		Total: decimal.NewFromInt(20),
		Paid:  true,
	}
	require.NoError(t, st.SaveRecords(models.EntityBill, []models.Record{bill}))
	require.NoError(t, svc.Enqueue(createItem(t, bill)))

	status, err := svc.Status()
	require.NoError(t, err)
	assert.Equal(t, 2, status.PendingCount)
	assert.False(t, status.IsOnline)

	// Back online.
	mon.SetOnline(true)
	result, err := svc.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SyncResult{Synced: 2}, result)

	bills, err := st.ListRecords(models.EntityBill)
	require.NoError(t, err)
	gotBill := bills[0].(*models.Bill)
	assert.False(t, models.IsLocalID(gotBill.ID))
	assert.Equal(t, "201", gotBill.Items[0].ProductID, "bill line follows the product's server id")

	status, err = svc.Status()
	require.NoError(t, err)
	assert.Zero(t, status.PendingCount)
	assert.Zero(t, status.DeadCount)
}

func TestBackoffGrowthAndCap(t *testing.T) {
	base := 2 * time.Second
	max := 5 * time.Minute

	prevCeil := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoff(attempt, base, max)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, max)

		// The jitter window is [delay/2, delay]; the ceiling must never
		// shrink as attempts grow.
		ceil := base << (attempt - 1)
		if ceil > max || ceil <= 0 {
			ceil = max
		}
		assert.LessOrEqual(t, d, ceil)
		assert.GreaterOrEqual(t, ceil, prevCeil)
		prevCeil = ceil
	}
}
