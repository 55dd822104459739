package frame

import "testing"

func TestBufferPausesAtHighAndResumesAtLow(t *testing.T) {
	b := NewBuffer(Watermarks{Low: 10, High: 20, Max: 30})

	if ok := b.Reserve(15); !ok {
		t.Fatal("Reserve(15) should succeed under Max")
	}
	if b.Paused() {
		t.Fatal("should not be paused below High")
	}

	if ok := b.Reserve(10); !ok {
		t.Fatal("Reserve(10) should succeed, total 25 <= Max 30")
	}
	if !b.Paused() {
		t.Fatal("should be paused once size crosses High")
	}

	b.Release(10) // size -> 15, still above Low
	if !b.Paused() {
		t.Fatal("should remain paused until size drains to Low")
	}

	b.Release(10) // size -> 5, at/below Low
	if b.Paused() {
		t.Fatal("should resume once size drains to Low")
	}
}

func TestBufferRejectsOverMax(t *testing.T) {
	b := NewBuffer(Watermarks{Low: 1, High: 2, Max: 5})
	if ok := b.Reserve(5); !ok {
		t.Fatal("Reserve(5) should fit exactly at Max")
	}
	if ok := b.Reserve(1); ok {
		t.Fatal("Reserve past Max should fail")
	}
}
