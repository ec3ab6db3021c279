//go:build !linux

package logger

// isTerminal reports false on platforms without terminal detection;
// output is rendered without color.
func isTerminal(fd uintptr) bool {
	return false
}
