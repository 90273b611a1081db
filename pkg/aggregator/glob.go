package aggregator

// matchGlob implements the shell-style glob spec.md §4.2 calls for:
// '*' any run of characters, '?' any single character, '[seq]' a
// character class, and '[!seq]' its negation. path.Match in the
// standard library supports the first three but not '!'-negated
// classes, so this tiny backtracking matcher is hand-rolled instead of
// bolting a negation pre-pass onto path.Match (see DESIGN.md).
func matchGlob(pattern, name string) bool {
	return matchHere(pattern, name)
}

func matchHere(pattern, name string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			// Try every possible split; '*' can match the empty string.
			for i := 0; i <= len(name); i++ {
				if matchHere(pattern[1:], name[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(name) == 0 {
				return false
			}
			pattern, name = pattern[1:], name[1:]
		case '[':
			end := indexClassEnd(pattern)
			if end < 0 || len(name) == 0 {
				return false
			}
			class := pattern[1:end]
			negate := false
			if len(class) > 0 && class[0] == '!' {
				negate = true
				class = class[1:]
			}
			if matchClass(class, name[0]) == negate {
				return false
			}
			pattern, name = pattern[end+1:], name[1:]
		default:
			if len(name) == 0 || pattern[0] != name[0] {
				return false
			}
			pattern, name = pattern[1:], name[1:]
		}
	}
	return len(name) == 0
}

func indexClassEnd(pattern string) int {
	for i := 1; i < len(pattern); i++ {
		if pattern[i] == ']' {
			return i
		}
	}
	return -1
}

func matchClass(class string, c byte) bool {
	for i := 0; i < len(class); i++ {
		if i+2 < len(class) && class[i+1] == '-' {
			if class[i] <= c && c <= class[i+2] {
				return true
			}
			i += 2
			continue
		}
		if class[i] == c {
			return true
		}
	}
	return false
}

// matchAny reports whether name matches any of the given glob patterns.
func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if matchGlob(p, name) {
			return true
		}
	}
	return false
}
