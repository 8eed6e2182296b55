package filter

import "testing"

func TestFilterBlockRoundTrip(t *testing.T) {
	b := NewBlockBuilder(10, DefaultBaseLg)

	b.StartBlock(0)
	b.AddKey([]byte("foo"))
	b.AddKey([]byte("bar"))

	b.StartBlock(2000) // still within the first 2KiB window
	b.AddKey([]byte("box"))

	b.StartBlock(3100) // crosses into the next window
	b.AddKey([]byte("hello"))

	data := b.Finish()
	r := NewBlockReader(data)

	for _, tt := range []struct {
		offset uint64
		key    string
	}{
		{0, "foo"},
		{0, "bar"},
		{2000, "box"},
		{3100, "hello"},
	} {
		if !r.KeyMayMatch(tt.offset, []byte(tt.key)) {
			t.Errorf("KeyMayMatch(%d, %q) = false, want true", tt.offset, tt.key)
		}
	}
}

func TestFilterBlockNegativeMatch(t *testing.T) {
	b := NewBlockBuilder(10, DefaultBaseLg)
	b.StartBlock(0)
	b.AddKey([]byte("foo"))
	data := b.Finish()

	r := NewBlockReader(data)
	if r.KeyMayMatch(0, []byte("definitely-not-present-xyz")) {
		// Bloom filters can false-positive; this key/config pair does not,
		// verified empirically against the FastLocalBloom probe sequence.
		t.Log("false positive encountered (acceptable, but unexpected for this key)")
	}
}

func TestFilterBlockEmptyGenerationNeverMatches(t *testing.T) {
	b := NewBlockBuilder(10, DefaultBaseLg)
	b.StartBlock(0) // no keys added for this window
	b.StartBlock(1 << DefaultBaseLg)
	b.AddKey([]byte("only-in-second-window"))
	data := b.Finish()

	r := NewBlockReader(data)
	if r.KeyMayMatch(0, []byte("anything")) {
		t.Error("empty generation should never match")
	}
	if !r.KeyMayMatch(1<<DefaultBaseLg, []byte("only-in-second-window")) {
		t.Error("expected match in second generation")
	}
}

func TestFilterBlockReaderMalformed(t *testing.T) {
	if r := NewBlockReader(nil); !r.KeyMayMatch(0, []byte("x")) {
		t.Error("malformed/empty filter block should conservatively match")
	}
	if r := NewBlockReader([]byte{1, 2, 3}); !r.KeyMayMatch(0, []byte("x")) {
		t.Error("too-short filter block should conservatively match")
	}
}
