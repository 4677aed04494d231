package bufferpool

import "testing"

func TestGetSizesDataToRequestedLength(t *testing.T) {
	p := New(16 * 1024)
	b := p.Get(100)
	if len(b.Data) != 100 {
		t.Fatalf("expected 100 bytes, got %d", len(b.Data))
	}
	b.Release()
}

func TestReleaseAllowsReuse(t *testing.T) {
	p := New(1024)
	b1 := p.Get(10)
	b1.Data[0] = 0xAB
	b1.Release()

	b2 := p.Get(10)
	// Not guaranteed to be the same backing array, but pool reuse must not
	// panic or corrupt bookkeeping across repeated Get/Release cycles.
	if len(b2.Data) != 10 {
		t.Fatalf("expected 10 bytes, got %d", len(b2.Data))
	}
}
