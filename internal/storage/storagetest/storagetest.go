// Package storagetest holds behaviour tests shared by storage backends.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/falak/mailrelay/internal/storage"
)

// Run exercises a storage.Store implementation. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("Logs", func(t *testing.T) { testLogs(t, newStore(t)) })
	t.Run("LogFilters", func(t *testing.T) { testLogFilters(t, newStore(t)) })
	t.Run("DeleteLogsBefore", func(t *testing.T) { testDeleteLogsBefore(t, newStore(t)) })
	t.Run("Keys", func(t *testing.T) { testKeys(t, newStore(t)) })
	t.Run("KeyRehash", func(t *testing.T) { testKeyRehash(t, newStore(t)) })
	t.Run("TouchKey", func(t *testing.T) { testTouchKey(t, newStore(t)) })
	t.Run("Counters", func(t *testing.T) { testCounters(t, newStore(t)) })
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func addLog(t *testing.T, s storage.Store, id string, ts time.Time, status storage.LogStatus) {
	t.Helper()
	err := s.AddLog(context.Background(), &storage.EmailLog{
		ID:        id,
		Timestamp: ts,
		Recipient: "user@example.com",
		Subject:   "Subject " + id,
		Sender:    "noreply@example.com",
		Status:    status,
		Provider:  "notificationapi",
	})
	if err != nil {
		t.Fatalf("AddLog(%s) error = %v", id, err)
	}
}

func testLogs(t *testing.T, s storage.Store) {
	ctx := context.Background()

	addLog(t, s, "a", base, storage.StatusSuccess)
	addLog(t, s, "b", base.Add(time.Minute), storage.StatusFailed)
	addLog(t, s, "c", base.Add(2*time.Minute), storage.StatusFallback)

	logs, err := s.ListLogs(ctx, storage.LogFilter{})
	if err != nil {
		t.Fatalf("ListLogs() error = %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("ListLogs() returned %d logs, want 3", len(logs))
	}
	if logs[0].ID != "c" || logs[2].ID != "a" {
		t.Errorf("ListLogs() order = %s,%s,%s, want c,b,a", logs[0].ID, logs[1].ID, logs[2].ID)
	}
	if logs[1].Status != storage.StatusFailed {
		t.Errorf("logs[1].Status = %v, want failed", logs[1].Status)
	}
	if !logs[2].Timestamp.Equal(base) {
		t.Errorf("logs[2].Timestamp = %v, want %v", logs[2].Timestamp, base)
	}

	page, err := s.ListLogs(ctx, storage.LogFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListLogs(page) error = %v", err)
	}
	if len(page) != 1 || page[0].ID != "b" {
		t.Errorf("ListLogs(limit=1, offset=1) = %v, want [b]", page)
	}

	total, err := s.CountLogs(ctx, storage.LogFilter{})
	if err != nil {
		t.Fatalf("CountLogs() error = %v", err)
	}
	if total != 3 {
		t.Errorf("CountLogs() = %d, want 3", total)
	}

	if err := s.DeleteLog(ctx, "b"); err != nil {
		t.Fatalf("DeleteLog() error = %v", err)
	}
	if err := s.DeleteLog(ctx, "b"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteLog(missing) error = %v, want ErrNotFound", err)
	}

	failed, err := s.CountLogs(ctx, storage.LogFilter{Status: storage.StatusFailed})
	if err != nil {
		t.Fatalf("CountLogs(failed) error = %v", err)
	}
	if failed != 0 {
		t.Errorf("CountLogs(failed) after delete = %d, want 0", failed)
	}
}

func testLogFilters(t *testing.T, s storage.Store) {
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		status := storage.StatusSuccess
		if i%2 == 1 {
			status = storage.StatusFailed
		}
		addLog(t, s, string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour), status)
	}

	since := base.Add(3 * time.Hour)
	recent, err := s.ListLogs(ctx, storage.LogFilter{Since: since})
	if err != nil {
		t.Fatalf("ListLogs(since) error = %v", err)
	}
	if len(recent) != 3 {
		t.Errorf("ListLogs(since) returned %d logs, want 3", len(recent))
	}
	for _, l := range recent {
		if l.Timestamp.Before(since) {
			t.Errorf("log %s at %v is before %v", l.ID, l.Timestamp, since)
		}
	}

	failed, err := s.ListLogs(ctx, storage.LogFilter{Status: storage.StatusFailed})
	if err != nil {
		t.Fatalf("ListLogs(status) error = %v", err)
	}
	if len(failed) != 3 {
		t.Fatalf("ListLogs(status=failed) returned %d logs, want 3", len(failed))
	}
	if failed[0].ID != "f" {
		t.Errorf("first failed log = %s, want f", failed[0].ID)
	}

	n, err := s.CountLogs(ctx, storage.LogFilter{Since: since, Status: storage.StatusSuccess})
	if err != nil {
		t.Fatalf("CountLogs() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CountLogs(since, success) = %d, want 1", n)
	}
}

func testDeleteLogsBefore(t *testing.T, s storage.Store) {
	ctx := context.Background()

	addLog(t, s, "old1", base.Add(-48*time.Hour), storage.StatusSuccess)
	addLog(t, s, "old2", base.Add(-25*time.Hour), storage.StatusFailed)
	addLog(t, s, "new", base, storage.StatusSuccess)

	deleted, err := s.DeleteLogsBefore(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteLogsBefore() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("DeleteLogsBefore() = %d, want 2", deleted)
	}

	logs, _ := s.ListLogs(ctx, storage.LogFilter{})
	if len(logs) != 1 || logs[0].ID != "new" {
		t.Errorf("remaining logs = %v, want [new]", logs)
	}

	failed, _ := s.CountLogs(ctx, storage.LogFilter{Status: storage.StatusFailed})
	if failed != 0 {
		t.Errorf("CountLogs(failed) = %d, want 0", failed)
	}
}

func newKey(id, hash string, created time.Time) *storage.APIKey {
	return &storage.APIKey{
		ID:        id,
		Name:      "key " + id,
		KeyHash:   hash,
		KeyPrefix: "fmr_" + id,
		IsActive:  true,
		CreatedAt: created,
	}
}

func testKeys(t *testing.T, s storage.Store) {
	ctx := context.Background()

	if err := s.CreateKey(ctx, newKey("k1", "hash1", base)); err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}
	if err := s.CreateKey(ctx, newKey("k2", "hash2", base.Add(time.Hour))); err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}

	got, err := s.GetKeyByHash(ctx, "hash1")
	if err != nil {
		t.Fatalf("GetKeyByHash() error = %v", err)
	}
	if got.ID != "k1" || got.KeyHash != "hash1" {
		t.Errorf("GetKeyByHash() = %+v, want k1/hash1", got)
	}

	if _, err := s.GetKeyByHash(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetKeyByHash(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetKey(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetKey(missing) error = %v, want ErrNotFound", err)
	}

	keys, err := s.ListKeys(ctx, false)
	if err != nil {
		t.Fatalf("ListKeys() error = %v", err)
	}
	if len(keys) != 2 || keys[0].ID != "k2" {
		t.Errorf("ListKeys() = %v, want k2 first", keys)
	}

	updated, err := s.UpdateKey(ctx, "k1", func(k *storage.APIKey) error {
		k.IsActive = false
		k.Name = "renamed"
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateKey() error = %v", err)
	}
	if updated.IsActive || updated.Name != "renamed" {
		t.Errorf("UpdateKey() = %+v, want inactive renamed", updated)
	}

	active, err := s.ListKeys(ctx, true)
	if err != nil {
		t.Fatalf("ListKeys(active) error = %v", err)
	}
	if len(active) != 1 || active[0].ID != "k2" {
		t.Errorf("ListKeys(active) = %v, want [k2]", active)
	}

	if _, err := s.UpdateKey(ctx, "nope", func(*storage.APIKey) error { return nil }); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateKey(missing) error = %v, want ErrNotFound", err)
	}

	if err := s.DeleteKey(ctx, "k1"); err != nil {
		t.Fatalf("DeleteKey() error = %v", err)
	}
	if _, err := s.GetKeyByHash(ctx, "hash1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetKeyByHash(deleted) error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteKey(ctx, "k1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteKey(missing) error = %v, want ErrNotFound", err)
	}
}

func testKeyRehash(t *testing.T, s storage.Store) {
	ctx := context.Background()

	if err := s.CreateKey(ctx, newKey("k1", "old", base)); err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}

	_, err := s.UpdateKey(ctx, "k1", func(k *storage.APIKey) error {
		k.KeyHash = "new"
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateKey() error = %v", err)
	}

	if _, err := s.GetKeyByHash(ctx, "old"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetKeyByHash(old) error = %v, want ErrNotFound", err)
	}
	got, err := s.GetKeyByHash(ctx, "new")
	if err != nil {
		t.Fatalf("GetKeyByHash(new) error = %v", err)
	}
	if got.ID != "k1" {
		t.Errorf("GetKeyByHash(new).ID = %s, want k1", got.ID)
	}
}

func testTouchKey(t *testing.T, s storage.Store) {
	ctx := context.Background()

	if err := s.CreateKey(ctx, newKey("k1", "hash1", base)); err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.TouchKey(ctx, "k1", base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("TouchKey() error = %v", err)
		}
	}

	got, err := s.GetKey(ctx, "k1")
	if err != nil {
		t.Fatalf("GetKey() error = %v", err)
	}
	if got.UsageCount != 3 {
		t.Errorf("UsageCount = %d, want 3", got.UsageCount)
	}
	if got.LastUsed == nil || !got.LastUsed.Equal(base.Add(2*time.Minute)) {
		t.Errorf("LastUsed = %v, want %v", got.LastUsed, base.Add(2*time.Minute))
	}

	if err := s.TouchKey(ctx, "nope", base); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("TouchKey(missing) error = %v, want ErrNotFound", err)
	}
}

func testCounters(t *testing.T, s storage.Store) {
	ctx := context.Background()

	in := map[string]*storage.QuotaCounter{
		"api_key:k1": {HourlyCount: 3, DailyCount: 7, HourStart: base, DayStart: base},
	}
	if err := s.SaveCounters(ctx, in); err != nil {
		t.Fatalf("SaveCounters() error = %v", err)
	}

	in["api_key:k1"].HourlyCount = 4
	if err := s.SaveCounters(ctx, in); err != nil {
		t.Fatalf("SaveCounters() error = %v", err)
	}

	out, err := s.LoadCounters(ctx)
	if err != nil {
		t.Fatalf("LoadCounters() error = %v", err)
	}
	c, ok := out["api_key:k1"]
	if !ok {
		t.Fatal("LoadCounters() missing api_key:k1")
	}
	if c.HourlyCount != 4 || c.DailyCount != 7 {
		t.Errorf("counter = %+v, want hourly 4 daily 7", c)
	}
	if !c.HourStart.Equal(base) {
		t.Errorf("HourStart = %v, want %v", c.HourStart, base)
	}
}
