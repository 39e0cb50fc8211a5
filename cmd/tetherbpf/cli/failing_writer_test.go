package cli_test

import (
	"io"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetherbpf/tetherbpf/cmd/tetherbpf/cli"
)

// failingWriter succeeds for budget bytes, then fails with failErr.
// With short set it instead reports one-byte writes with nil error.
type failingWriter struct {
	budget  int
	failErr error
	short   bool
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.short {
		if len(p) == 0 {
			return 0, nil
		}
		return 1, nil
	}
	if w.budget <= 0 {
		return 0, w.failErr
	}
	if len(p) <= w.budget {
		w.budget -= len(p)
		return len(p), nil
	}
	n := w.budget
	w.budget = 0
	return n, w.failErr
}

var _ io.Writer = (*failingWriter)(nil)

func TestWriteOut_PropagatesWriteError(t *testing.T) {
	c := &cli.CLI{Out: &failingWriter{budget: 0, failErr: syscall.ENOSPC}}
	err := c.WriteOut([]byte("x"))
	require.ErrorIs(t, err, syscall.ENOSPC)
}

func TestWriteOut_PartialThenFailReturnsError(t *testing.T) {
	c := &cli.CLI{Out: &failingWriter{budget: 3, failErr: syscall.ENOSPC}}
	err := c.WriteOut([]byte("hello"))
	require.ErrorIs(t, err, syscall.ENOSPC)
}

func TestWriteOut_TreatsShortWriteAsError(t *testing.T) {
	c := &cli.CLI{Out: &failingWriter{short: true}}
	err := c.WriteOut([]byte("hello"))
	require.ErrorIs(t, err, io.ErrShortWrite)
}

func TestPrintOutf_PropagatesError(t *testing.T) {
	c := &cli.CLI{Out: &failingWriter{budget: 0, failErr: syscall.EPIPE}}
	err := c.PrintOutf("test %s", "output")
	require.ErrorIs(t, err, syscall.EPIPE)
}
