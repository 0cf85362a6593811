package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger whose lines are tagged with the test name.
// Room and client goroutines can outlive a test, so it writes to stdout
// rather than t.Log.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "["+t.Name()+"] ", log.LstdFlags|log.Lmicroseconds)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}
