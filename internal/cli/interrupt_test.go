package cli

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
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

func TestNewInterruptHandler_DefaultWriter(t *testing.T) {
	handler := NewInterruptHandler(nil, "Ingest")
	assert.NotNil(t, handler.writer)
	assert.False(t, handler.WasInterrupted())
}

func TestHandleInterrupts_Signal(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output, "Ingest")

	ctx, stop := handler.HandleInterrupts(context.Background(), "Re-running the file is safe")
	defer stop()

	select {
	case <-ctx.Done():
		t.Fatal("context canceled before any signal")
	default:
	}

	handler.signals <- os.Interrupt

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not canceled after interrupt")
	}

	require.Eventually(t, handler.WasInterrupted, time.Second, 5*time.Millisecond)
	out := output.String()
	assert.Equal(t, 1, strings.Count(out, "Ingest interrupted"))
	assert.Contains(t, out, "Re-running the file is safe")
}

func TestHandleInterrupts_StopWithoutSignal(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output, "Worker")

	ctx, stop := handler.HandleInterrupts(context.Background(), "")
	stop()

	<-ctx.Done()
	assert.False(t, handler.WasInterrupted())
	assert.Empty(t, output.String())
}

func TestShowInterruptMessage(t *testing.T) {
	var output bytes.Buffer
	handler := &InterruptHandler{writer: &output, operation: "Worker"}

	handler.showInterruptMessage()
	assert.Contains(t, output.String(), "Worker interrupted")
	assert.NotContains(t, output.String(), InfoIcon)
}
