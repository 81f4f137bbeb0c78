package covrt

// Export internal functions for testing.
// This file is only compiled during tests.

// ParseSize exports parseSize.
func ParseSize(s string) int {
	return parseSize(s)
}

// Diagnostic exports diagnostic.
func Diagnostic(err error) string {
	return diagnostic(err)
}
