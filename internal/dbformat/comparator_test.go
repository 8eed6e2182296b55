package dbformat

import "testing"

func TestBytewiseFindShortestSeparator(t *testing.T) {
	tests := []struct {
		start, limit, want string
	}{
		{"abcdefg", "abcdxyz", "abcdf"},
		{"abcdxyz", "abcdefg", "abcdxyz"}, // start already >= limit, left unchanged
		{"abcdefg", "abcdffg", "abcdefg"}, // 'e'+1 is not below 'f', left unchanged
		{"", "abc", ""},
		{"abc", "abc", "abc"}, // equal strings: one is a prefix of the other
		{"abc", "abcd", "abc"},
	}

	for _, tt := range tests {
		got := BytewiseFindShortestSeparator([]byte(tt.start), []byte(tt.limit))
		if string(got) != tt.want {
			t.Errorf("FindShortestSeparator(%q, %q) = %q, want %q", tt.start, tt.limit, got, tt.want)
		}
	}
}

func TestBytewiseFindShortSuccessor(t *testing.T) {
	tests := []struct {
		key, want string
	}{
		{"abc", "b"},
		{"\xff\xff", "\xff\xff"},
		{"a\xff", "b"},
		{"", ""},
	}

	for _, tt := range tests {
		got := BytewiseFindShortSuccessor([]byte(tt.key))
		if string(got) != tt.want {
			t.Errorf("FindShortSuccessor(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestInternalKeyFindShortestSeparator(t *testing.T) {
	cmp := DefaultInternalKeyComparator

	mk := func(userKey string, seq SequenceNumber, vt ValueType) []byte {
		return AppendInternalKey(nil, &ParsedInternalKey{
			UserKey:  []byte(userKey),
			Sequence: seq,
			Type:     vt,
		})
	}

	start := mk("abcdefg", 100, TypeValue)
	limit := mk("abcdxyz", 200, TypeValue)

	got := cmp.FindShortestSeparator(start, limit)
	gotUser := ExtractUserKey(got)
	if string(gotUser) != "abcdf" {
		t.Fatalf("FindShortestSeparator user key = %q, want %q", gotUser, "abcdf")
	}
	if cmp.Compare(start, got) > 0 {
		t.Error("separator sorts before start")
	}
	if cmp.Compare(got, limit) >= 0 {
		t.Error("separator does not sort before limit")
	}
}

func TestInternalKeyFindShortSuccessor(t *testing.T) {
	cmp := DefaultInternalKeyComparator
	key := AppendInternalKey(nil, &ParsedInternalKey{
		UserKey:  []byte("abc"),
		Sequence: 100,
		Type:     TypeValue,
	})

	got := cmp.FindShortSuccessor(key)
	if string(ExtractUserKey(got)) != "abd" {
		t.Fatalf("FindShortSuccessor user key = %q, want %q", ExtractUserKey(got), "abd")
	}
	if cmp.Compare(key, got) >= 0 {
		t.Error("successor does not sort after key")
	}
}
