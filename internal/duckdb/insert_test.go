package duckdb

import (
	"testing"
	"time"
)

func TestInsertBuffer_FlushOnStop(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store, InsertBufferConfig{BatchSize: 100, FlushInterval: time.Hour})

	for i := 0; i < 7; i++ {
		buf.Add(testNFT("tok-"+string(rune('a'+i)), "apes", "bafy"))
	}
	buf.Stop()

	count, err := store.CatalogCount(QueryOpts{})
	if err != nil {
		t.Fatalf("CatalogCount: %v", err)
	}
	if count != 7 {
		t.Errorf("CatalogCount = %d, want 7 after Stop drains pending", count)
	}
}

func TestInsertBuffer_FlushOnBatchSize(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store, InsertBufferConfig{BatchSize: 3, FlushInterval: time.Hour})
	defer buf.Stop()

	for i := 0; i < 3; i++ {
		buf.Add(testNFT("tok-"+string(rune('a'+i)), "apes", "bafy"))
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		count, err := store.CatalogCount(QueryOpts{})
		if err != nil {
			t.Fatalf("CatalogCount: %v", err)
		}
		if count == 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("batch was not flushed after reaching batch size")
}

func TestInsertBuffer_PeriodicFlush(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store, InsertBufferConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond})
	defer buf.Stop()

	buf.Add(testNFT("tok-a", "apes", "bafy"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		count, err := store.CatalogCount(QueryOpts{})
		if err != nil {
			t.Fatalf("CatalogCount: %v", err)
		}
		if count == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("record was not flushed by the tick loop")
}
