package main

import (
	"testing"
	"time"
)

func TestSubmittedShareSetRejectsSecondInsert(t *testing.T) {
	s := newSubmittedShareSet()
	key := shareKey("tb1qworker", "00000000deadbeef", "01020304", "5f5e1000", "00000001")

	if s.checkAndInsert(key) {
		t.Fatalf("first insert reported as duplicate")
	}
	if !s.checkAndInsert(key) {
		t.Fatalf("second insert with identical tuple was not reported as duplicate")
	}
}

func TestSubmittedShareSetDistinctKeys(t *testing.T) {
	s := newSubmittedShareSet()
	a := shareKey("worker1", "00000000deadbeef", "01020304", "5f5e1000", "00000001")
	b := shareKey("worker1", "00000000deadbeef", "01020304", "5f5e1000", "00000002")

	if s.checkAndInsert(a) {
		t.Fatalf("key a reported as duplicate on first insert")
	}
	if s.checkAndInsert(b) {
		t.Fatalf("key b (different nonce) reported as duplicate of key a")
	}
}

func TestSubmittedShareSetSweepEvictsExpiredEntries(t *testing.T) {
	s := newSubmittedShareSet()
	key := shareKey("worker1", "00000000deadbeef", "01020304", "5f5e1000", "00000001")
	s.checkAndInsert(key)

	s.mu.Lock()
	s.seen[key] = time.Now().Add(-duplicateShareWindow - time.Second)
	s.mu.Unlock()

	s.sweep()

	if s.checkAndInsert(key) {
		t.Fatalf("key still treated as duplicate after sweep should have evicted it")
	}
}
