package dbformat

// BytewiseFindShortestSeparator replaces start with the shortest string s
// such that start <= s < limit, under bytewise order. If no such shorter
// string exists (one is a prefix of the other, or start already equals the
// shortest possible separator) start is left unchanged.
//
// Grounded on the teacher's own root-level comparator.go
// (BytewiseComparator.FindShortestSeparator); no comparator.cc survived
// into original_source.
func BytewiseFindShortestSeparator(start, limit []byte) []byte {
	minLen := min(len(start), len(limit))
	diffIndex := 0
	for diffIndex < minLen && start[diffIndex] == limit[diffIndex] {
		diffIndex++
	}

	if diffIndex >= minLen {
		// One string is a prefix of the other; no shorter separator exists.
		return start
	}

	diffByte := start[diffIndex]
	if diffByte < 0xff && diffByte+1 < limit[diffIndex] {
		shortened := append([]byte(nil), start[:diffIndex+1]...)
		shortened[diffIndex]++
		return shortened
	}
	return start
}

// BytewiseFindShortSuccessor replaces key with the shortest string s >= key
// by incrementing the first byte that is not 0xff and truncating the rest.
// If every byte is 0xff, key is left unchanged.
//
// Grounded on the teacher's own root-level comparator.go
// (BytewiseComparator.FindShortSuccessor).
func BytewiseFindShortSuccessor(key []byte) []byte {
	for i, b := range key {
		if b != 0xff {
			successor := append([]byte(nil), key[:i+1]...)
			successor[i]++
			return successor
		}
	}
	return key
}

// FindShortestSeparator replaces start with the shortest internal key s such
// that start <= s < limit, using the wrapped user comparator to shorten the
// user-key portion and re-tagging with the newest possible sequence number
// so the result still sorts ahead of every version of the shortened key.
//
// start and limit are full internal keys (user_key || 8-byte trailer).
func (c *InternalKeyComparator) FindShortestSeparator(start, limit []byte) []byte {
	userStart := ExtractUserKey(start)
	userLimit := ExtractUserKey(limit)
	if userStart == nil || userLimit == nil {
		return start
	}

	shortened := BytewiseFindShortestSeparator(userStart, userLimit)
	if len(shortened) < len(userStart) && c.userCompare(userStart, shortened) < 0 {
		result := AppendInternalKey(nil, &ParsedInternalKey{
			UserKey:  shortened,
			Sequence: MaxSequenceNumber,
			Type:     ValueTypeForSeek,
		})
		return result
	}
	return start
}

// FindShortSuccessor replaces key with the shortest internal key s >= key.
func (c *InternalKeyComparator) FindShortSuccessor(key []byte) []byte {
	userKey := ExtractUserKey(key)
	if userKey == nil {
		return key
	}

	successor := BytewiseFindShortSuccessor(userKey)
	if len(successor) < len(userKey) && c.userCompare(userKey, successor) < 0 {
		return AppendInternalKey(nil, &ParsedInternalKey{
			UserKey:  successor,
			Sequence: MaxSequenceNumber,
			Type:     ValueTypeForSeek,
		})
	}
	return key
}
