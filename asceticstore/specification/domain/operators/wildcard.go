package operators

// MatchWildcard matches s against pattern, where '*' matches any run of
// characters and '?' matches exactly one.
func MatchWildcard(pattern, s string) bool {
	p := []rune(pattern)
	r := []rune(s)
	pi, ri := 0, 0
	star, mark := -1, 0
	for ri < len(r) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == r[ri]):
			pi++
			ri++
		case pi < len(p) && p[pi] == '*':
			star = pi
			mark = ri
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			ri = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}
