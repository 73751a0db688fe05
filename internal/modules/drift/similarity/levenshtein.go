package similarity

// Levenshtein is the rune-level edit distance between a and b.
func Levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	prev := make([]int, len(ra)+1)
	curr := make([]int, len(ra)+1)
	for i := range prev {
		prev[i] = i
	}
	for j := 1; j <= len(rb); j++ {
		curr[0] = j
		for i := 1; i <= len(ra); i++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[i] = min(prev[i]+1, curr[i-1]+1, prev[i-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(ra)]
}

// LevenshteinNormalized maps edit distance onto [0,1]; 1 means identical.
func LevenshteinNormalized(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 && lb == 0 {
		return 1.0
	}
	return 1.0 - float64(Levenshtein(a, b))/float64(max(la, lb))
}

// NameScore compares two field names under plain, suffix-stripped and
// word-order-insensitive normalization and keeps the best.
func NameScore(a, b string) float64 {
	best := LevenshteinNormalized(Normalize(a), Normalize(b))
	if s := LevenshteinNormalized(NormalizeStripped(a), NormalizeStripped(b)); s > best {
		best = s
	}
	if s := LevenshteinNormalized(NormalizeSorted(a), NormalizeSorted(b)); s > best {
		best = s
	}
	return best
}
