package arena

import "testing"

func TestAppendAndResolve(t *testing.T) {
	a := New(8)
	v1 := a.Append([]byte("hello"))
	v2 := a.Append([]byte("world"))

	if got := a.String(v1); got != "hello" {
		t.Fatalf("a.String(v1) = %q, want hello", got)
	}
	if got := a.String(v2); got != "world" {
		t.Fatalf("a.String(v2) = %q, want world", got)
	}
}

func TestAppendByte(t *testing.T) {
	a := New(1)
	v := a.AppendByte('x')
	if got := a.Bytes(v); len(got) != 1 || got[0] != 'x' {
		t.Fatalf("got %v, want [x]", got)
	}
}

func TestResetReusesBackingArray(t *testing.T) {
	a := New(16)
	a.Append([]byte("abc"))
	if a.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", a.Len())
	}
	a.Reset()
	if a.Len() != 0 {
		t.Fatalf("Len() after Reset = %d, want 0", a.Len())
	}
	v := a.Append([]byte("de"))
	if a.String(v) != "de" {
		t.Fatalf("a.String(v) = %q, want de", a.String(v))
	}
}
