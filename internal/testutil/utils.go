package testutil

import (
	"bytes"
	"log"
	"testing"
)

type tWriter struct {
	t *testing.T
}

func (w tWriter) Write(p []byte) (int, error) {
	w.t.Log(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

// TestLogger returns a logger that routes through t.Log, so component
// output is grouped under the test that produced it and hidden when the
// test passes.
func TestLogger(t *testing.T) *log.Logger {
	return log.New(tWriter{t: t}, "", 0)
}
