package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer provides thread-safe access to a bytes.Buffer.
type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (s *syncBuffer) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestNewInterruptHandler(t *testing.T) {
	tests := []struct {
		writer io.Writer
		name   string
	}{
		{
			name:   "with custom writer",
			writer: &bytes.Buffer{},
		},
		{
			name:   "with nil writer",
			writer: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewInterruptHandler(tt.writer)
			assert.NotNil(t, handler)
			assert.NotNil(t, handler.writer)
			assert.False(t, handler.WasInterrupted())
		})
	}
}

func TestWatch_SignalCancelsContext(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)
	sigChan := make(chan os.Signal, 1)
	stopped := make(chan struct{})

	ctx := handler.watch(context.Background(), sigChan, "No report was written.", func() { close(stopped) })

	select {
	case <-ctx.Done():
		t.Fatal("context should not be canceled before a signal")
	default:
	}

	sigChan <- syscall.SIGINT

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not canceled after a signal")
	}
	<-stopped

	assert.True(t, handler.WasInterrupted())
	assert.Contains(t, output.String(), "Analysis interrupted!")
	assert.Contains(t, output.String(), "No report was written.")
}

func TestWatch_NoHint(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)
	sigChan := make(chan os.Signal, 1)
	stopped := make(chan struct{})

	ctx := handler.watch(context.Background(), sigChan, "", func() { close(stopped) })
	sigChan <- syscall.SIGTERM
	<-ctx.Done()
	<-stopped

	out := output.String()
	assert.Equal(t, 1, strings.Count(out, "Analysis interrupted!"))
	assert.NotContains(t, out, infoIcon)
}

func TestWatch_ParentCancelIsNotAnInterrupt(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)
	sigChan := make(chan os.Signal, 1)
	stopped := make(chan struct{})

	parent, cancel := context.WithCancel(context.Background())
	ctx := handler.watch(parent, sigChan, "hint", func() { close(stopped) })
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after parent cancellation")
	}
	require.Error(t, ctx.Err())
	assert.False(t, handler.WasInterrupted())
	assert.Empty(t, output.String())
}
