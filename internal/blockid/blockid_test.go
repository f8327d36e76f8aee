package blockid

import "testing"

func TestInitIsZero(t *testing.T) {
	if got := Init(); got != 0 {
		t.Fatalf("Init() = %d, want 0", got)
	}
}

func TestNextIncrements(t *testing.T) {
	id := Init()
	for i := Id(1); i < 10; i++ {
		id = Next(id)
		if id != i {
			t.Fatalf("Next() chain at step %d = %d, want %d", i, id, i)
		}
	}
}
