package ingest

import (
	"testing"
	"time"
)

func TestDedupeSeenWithinTTL(t *testing.T) {
	cache := NewDedupeCache(5 * time.Minute)
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	if cache.Seen("evt-1", now) {
		t.Fatal("first sighting must miss")
	}
	if !cache.Seen("evt-1", now.Add(time.Minute)) {
		t.Fatal("second sighting within TTL must hit")
	}
	if cache.Seen("evt-2", now) {
		t.Fatal("distinct key must miss")
	}
}

func TestDedupeExpiryReadmits(t *testing.T) {
	cache := NewDedupeCache(5 * time.Minute)
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	cache.Seen("evt-1", now)
	if cache.Seen("evt-1", now.Add(5*time.Minute)) {
		t.Fatal("sighting at expiry must miss again")
	}
}

func TestDedupeCleanup(t *testing.T) {
	cache := NewDedupeCache(5 * time.Minute)
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	cache.Seen("old", now)
	cache.Seen("fresh", now.Add(4*time.Minute))
	if cache.Len() != 2 {
		t.Fatalf("len = %d", cache.Len())
	}

	cache.Cleanup(now.Add(6 * time.Minute))
	if cache.Len() != 1 {
		t.Fatalf("len after cleanup = %d", cache.Len())
	}
	if !cache.Seen("fresh", now.Add(6*time.Minute)) {
		t.Fatal("unexpired entry must survive cleanup")
	}
}
