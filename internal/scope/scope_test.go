package scope

import "testing"

func TestHandleClosesOnlyOnce(t *testing.T) {
	count := 0
	h := New(func() { count++ })
	h.Close()
	h.Close()
	if count != 1 {
		t.Fatalf("release ran %d times, want 1", count)
	}
}

func TestGuardClosesInReverseOrder(t *testing.T) {
	var order []int
	g := &Guard{}
	g.Defer(func() { order = append(order, 1) })
	g.Defer(func() { order = append(order, 2) })
	g.Defer(func() { order = append(order, 3) })

	g.Close()

	want := []int{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestGuardCloseIsIdempotent(t *testing.T) {
	count := 0
	g := &Guard{}
	g.Defer(func() { count++ })
	g.Close()
	g.Close()
	if count != 1 {
		t.Fatalf("release ran %d times, want 1", count)
	}
}
