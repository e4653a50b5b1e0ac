package utils

import "strings"

// RPC error message fragments that mean "this slot has no block to
// retrieve", not a transport failure — getBlock returns these in the
// error field rather than an empty result.
const (
	SKIPPED_BLOCK = "skipped, or missing"
	CLEANED_BLOCK = "cleaned up" // block too old for the node to serve
)

// IsSkippedBlockError reports whether an RPC error message indicates a
// skipped or pruned block rather than a real transport/node failure.
func IsSkippedBlockError(msg string) bool {
	return strings.Contains(msg, SKIPPED_BLOCK) || strings.Contains(msg, CLEANED_BLOCK)
}
