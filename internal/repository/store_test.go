package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"invoicebridge/internal/common"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(context.Background(), common.DatabaseConfig{SQLitePath: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db, "sqlite")
}

func TestSaveRunUpsert(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	rec := RunRecord{
		ID:            "run-1",
		Filename:      "invoice.pdf",
		Status:        RunStatusAwaiting,
		VendorName:    "Suministros Lopez SL",
		InvoiceNumber: "2024-0042",
		GrandTotal:    7260,
		Currency:      "EUR",
	}
	if err := store.SaveRun(ctx, rec); err != nil {
		t.Fatal(err)
	}

	rec.Status = RunStatusSubmitted
	rec.VendorID = 7
	rec.BillID = 501
	rec.Unresolved = []string{"line 0: tax \"9\""}
	if err := store.SaveRun(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != RunStatusSubmitted || got.BillID != 501 || got.GrandTotal != 7260 {
		t.Errorf("run = %+v", got)
	}
	if len(got.Unresolved) != 1 || got.Unresolved[0] != `line 0: tax "9"` {
		t.Errorf("unresolved = %v", got.Unresolved)
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := testStore(t)
	_, err := store.GetRun(context.Background(), "missing")
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("err = %v, want NotFound", err)
	}
}

func TestListRunsFiltersByStatus(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	for _, r := range []RunRecord{
		{ID: "a", Filename: "a.pdf", Status: RunStatusSubmitted},
		{ID: "b", Filename: "b.pdf", Status: RunStatusFailed},
		{ID: "c", Filename: "c.pdf", Status: RunStatusDuplicate},
	} {
		if err := store.SaveRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.ListRuns(ctx, []string{RunStatusSubmitted, RunStatusDuplicate}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d runs, want 2: %+v", len(got), got)
	}

	all, err := store.ListRuns(ctx, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("got %d runs, want 3", len(all))
	}
}

func TestConfirmationTakeOnce(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	pc := PendingConfirmation{
		Token:     "tok-1",
		RunID:     "run-1",
		Payload:   []byte(`{"draft":{}}`),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := store.SaveConfirmation(ctx, pc); err != nil {
		t.Fatal(err)
	}

	got, err := store.TakeConfirmation(ctx, "tok-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.RunID != "run-1" || string(got.Payload) != `{"draft":{}}` {
		t.Errorf("confirmation = %+v", got)
	}

	if _, err := store.TakeConfirmation(ctx, "tok-1"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("second take: err = %v, want NotFound", err)
	}
}

func TestConfirmationExpired(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveConfirmation(ctx, PendingConfirmation{
		Token:     "tok-old",
		RunID:     "run-2",
		Payload:   []byte(`{}`),
		ExpiresAt: time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := store.TakeConfirmation(ctx, "tok-old"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("err = %v, want NotFound for expired token", err)
	}
}

func TestPurgeExpiredConfirmations(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_ = store.SaveConfirmation(ctx, PendingConfirmation{
		Token: "live", RunID: "r", Payload: []byte(`{}`), ExpiresAt: time.Now().Add(time.Hour)})
	_ = store.SaveConfirmation(ctx, PendingConfirmation{
		Token: "dead", RunID: "r", Payload: []byte(`{}`), ExpiresAt: time.Now().Add(-time.Hour)})

	n, err := store.PurgeExpiredConfirmations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	if _, err := store.TakeConfirmation(ctx, "live"); err != nil {
		t.Errorf("live token gone: %v", err)
	}
}
