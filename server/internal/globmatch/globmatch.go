// Package globmatch implements the glob semantics used by Subscription
// patterns (spec §4.4): "*" matches any (possibly empty) substring, "?"
// matches exactly one character. path.Match is not reused here because it
// treats "/" specially (rejecting patterns that would otherwise match unit
// names containing literal separators such as "a/b.service"), which this
// domain's patterns must not do — see DESIGN.md.
package globmatch

// Match reports whether s matches the glob pattern.
func Match(s, pattern string) bool {
	return match([]byte(s), []byte(pattern))
}

// match is a small backtracking matcher; pattern/input lengths in this
// domain are short (unit names), so the naive recursive algorithm the spec
// calls for is acceptable (spec §4.4: "pattern length is small so O(n·m) is
// acceptable").
func match(s, p []byte) bool {
	if len(p) == 0 {
		return len(s) == 0
	}

	switch p[0] {
	case '*':
		// "*" matches empty or any prefix; try every split point.
		if match(s, p[1:]) {
			return true
		}
		for i := 0; i < len(s); i++ {
			if match(s[i+1:], p[1:]) {
				return true
			}
		}
		return false
	case '?':
		if len(s) == 0 {
			return false
		}
		return match(s[1:], p[1:])
	default:
		if len(s) == 0 || s[0] != p[0] {
			return false
		}
		return match(s[1:], p[1:])
	}
}
