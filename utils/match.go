package utils

// MatchAction checks an action identifier against a catalog pattern.
// Patterns may end in '*' to match any suffix ("secrets.*" matches
// "secrets.rotate"); a bare "*" matches everything. Anything else is an
// exact comparison — entitlement checks deliberately do not use patterns,
// this matcher serves the protected/privileged action catalogs only.
func MatchAction(pattern, action string) bool {
	if pattern == "*" || pattern == action {
		return true
	}
	if n := len(pattern); n > 0 && pattern[n-1] == '*' {
		prefix := pattern[:n-1]
		return len(action) >= len(prefix) && action[:len(prefix)] == prefix
	}
	return false
}

// MatchAny reports whether the action matches any pattern in the catalog.
func MatchAny(patterns []string, action string) bool {
	for _, p := range patterns {
		if MatchAction(p, action) {
			return true
		}
	}
	return false
}
