// Copyright (c) 2015, Arbo von Monkiewitsch All rights reserved.
// Use of this source code is governed by a BSD-style
// license.

package metric

// levenshteinContext computes edit distances while reusing a single
// column buffer across calls, keeping per-item scoring allocation-free.
type levenshteinContext struct {
	column []int
}

func (ctx *levenshteinContext) buffer(length int) []int {
	if cap(ctx.column) < length {
		ctx.column = make([]int, length)
	}

	return ctx.column[:length]
}

// distance returns the minimum number of single-rune insertions,
// deletions, or substitutions needed to transform a into b.
// Uses O(min(m,n)) space.
func (ctx *levenshteinContext) distance(a, b string) int {
	s1 := []rune(a)
	s2 := []rune(b)

	if len(s2) == 0 {
		return len(s1)
	}

	if len(s1) == 0 {
		return len(s2)
	}

	column := ctx.buffer(len(s1) + 1)
	for i := 1; i <= len(s1); i++ {
		column[i] = i
	}

	for col, r2 := range s2 {
		column[0] = col + 1
		lastDiag := col

		for row, r1 := range s1 {
			oldDiag := column[row+1]

			cost := 0
			if r1 != r2 {
				cost = 1
			}

			column[row+1] = min(column[row+1]+1, column[row]+1, lastDiag+cost)
			lastDiag = oldDiag
		}
	}

	return column[len(s1)]
}
