package ops

import (
	"fmt"
	"strconv"
	"strings"
)

// parsePageSelector turns a 1-based selector like "1,3-5,9" into
// zero-based page indices. "all" or "" selects every page. Ranges are
// inclusive and must stay within [1, pageCount].
func parsePageSelector(sel string, pageCount int) ([]int, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" || sel == "all" {
		out := make([]int, pageCount)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	var out []int
	for _, part := range strings.Split(sel, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, err := parseRange(part)
		if err != nil {
			return nil, err
		}
		if lo < 1 || hi > pageCount || lo > hi {
			return nil, fmt.Errorf("%w: %q outside 1..%d", ErrInvalidRange, part, pageCount)
		}
		for i := lo; i <= hi; i++ {
			out = append(out, i-1)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty selector %q", ErrInvalidRange, sel)
	}
	return out, nil
}

func parseRange(part string) (int, int, error) {
	if lo, hi, found := strings.Cut(part, "-"); found {
		a, err1 := strconv.Atoi(strings.TrimSpace(lo))
		b, err2 := strconv.Atoi(strings.TrimSpace(hi))
		if err1 != nil || err2 != nil {
			return 0, 0, fmt.Errorf("%w: %q", ErrInvalidRange, part)
		}
		return a, b, nil
	}
	n, err := strconv.Atoi(part)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidRange, part)
	}
	return n, n, nil
}

// validatePermutation checks perm is a bijection over [0, n).
func validatePermutation(perm []int, n int) error {
	if len(perm) != n {
		return fmt.Errorf("%w: %d entries for %d pages", ErrInvalidPermutation, len(perm), n)
	}
	seen := make([]bool, n)
	for _, idx := range perm {
		if idx < 0 || idx >= n {
			return fmt.Errorf("%w: index %d out of range", ErrInvalidPermutation, idx)
		}
		if seen[idx] {
			return fmt.Errorf("%w: index %d repeated", ErrInvalidPermutation, idx)
		}
		seen[idx] = true
	}
	return nil
}
