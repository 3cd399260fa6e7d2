// Package humansize renders byte counts for display.
package humansize

import (
	"strconv"
	"strings"
)

var suffixes = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// Format renders n using 1024-based units, trimming trailing zeros from the
// fraction. Negative counts are treated as zero.
func Format(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	val := float64(n)
	i := 0
	for val >= 1024 && i < len(suffixes)-1 {
		val /= 1024
		i++
	}
	f := strconv.FormatFloat(val, 'f', 2, 64)
	f = strings.TrimRight(f, "0")
	f = strings.TrimRight(f, ".")
	return f + " " + suffixes[i]
}
