package errs

// editDistance computes the Levenshtein distance between s1 and s2,
// capped at maxDistance+1 once the best distance reachable from the
// current row already exceeds it. maxDistance of 0 disables the cap.
func editDistance(s1, s2 string, maxDistance int) int {
	m := len(s1)
	n := len(s2)

	row := make([]int, n+1)
	for i := 1; i <= n; i++ {
		row[i] = i
	}

	for y := 1; y <= m; y++ {
		row[0] = y
		bestThisRow := row[0]

		previous := y - 1
		for x := 1; x <= n; x++ {
			oldRow := row[x]
			cost := 0
			if s1[y-1] != s2[x-1] {
				cost = 1
			}
			row[x] = minInt(previous+cost, minInt(row[x-1], row[x])+1)
			previous = oldRow
			bestThisRow = minInt(bestThisRow, row[x])
		}

		if maxDistance != 0 && bestThisRow > maxDistance {
			return maxDistance + 1
		}
	}
	return row[n]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// suggestMaxDistance is generous enough to catch single-character typos
// and transpositions in typical package names without suggesting
// unrelated names.
const suggestMaxDistance = 3

// Suggest returns the closest match to name among candidates, or "" if
// nothing is within suggestMaxDistance. It powers the "did you mean"
// hint on PackageNotFound.
func Suggest(name string, candidates []string) string {
	best := ""
	bestDist := suggestMaxDistance + 1
	for _, c := range candidates {
		d := editDistance(name, c, bestDist)
		if d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}
