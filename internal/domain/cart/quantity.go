package cart

import (
	"strconv"
	"strings"
)

// ParseQuantity converts raw user input into a line quantity. Missing,
// non-numeric and non-positive input become 1.
func ParseQuantity(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

// ParseSetQuantity converts raw input for an explicit quantity update.
// Unlike ParseQuantity, zero and negative values are kept so the line gets
// removed; only unparseable input falls back to 1.
func ParseSetQuantity(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 1
	}
	return n
}
