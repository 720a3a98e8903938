package model

// ReconcileTokens splits a user's listed token ids into those still owned by
// self and those to drop. owners maps a listed id to the user its token
// currently resolves to; ids missing from owners have no usable record.
// Duplicate ids are kept once and the listed order is preserved.
func ReconcileTokens(self UserID, listed []TokenID, owners map[TokenID]UserID) (kept []TokenID, dropped []TokenID) {
	kept = make([]TokenID, 0, len(listed))
	seen := make(map[TokenID]bool, len(listed))
	for _, id := range listed {
		if seen[id] {
			continue
		}
		seen[id] = true
		if owner, ok := owners[id]; ok && owner != "" && owner == self {
			kept = append(kept, id)
			continue
		}
		dropped = append(dropped, id)
	}
	return kept, dropped
}

// SameTokens reports whether two token lists are identical, order included.
func SameTokens(a, b []TokenID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func RemoveToken(tokens []TokenID, id TokenID) []TokenID {
	out := make([]TokenID, 0, len(tokens))
	for _, t := range tokens {
		if t != id {
			out = append(out, t)
		}
	}
	return out
}
