package engine

import "testing"

func TestKeyedLocks(t *testing.T) {
	locks := newKeyedLocks()
	if !locks.acquire("a") {
		t.Fatalf("first acquire must succeed")
	}
	if locks.acquire("a") {
		t.Fatalf("second acquire on held key must fail")
	}
	if !locks.acquire("b") {
		t.Fatalf("different key must be independent")
	}
	locks.release("a")
	if !locks.acquire("a") {
		t.Fatalf("acquire after release must succeed")
	}
}
