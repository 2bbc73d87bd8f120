package heartbeat

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestHeartbeatLogsUntilStopped(t *testing.T) {
	out := &syncBuffer{}
	logger := hclog.New(&hclog.LoggerOptions{Output: out, Level: hclog.Info})

	hb := New(10*time.Millisecond, logger, "ab-av1")
	stop := hb.Start(context.Background())

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "process still running")
	}, time.Second, 5*time.Millisecond)

	stop()
	lines := strings.Count(out.String(), "\n")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, lines, strings.Count(out.String(), "\n"))
	assert.Contains(t, out.String(), "process=ab-av1")
}

func TestHeartbeatStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hb := New(time.Hour, nil, "ffmpeg")
	stop := hb.Start(ctx)
	cancel()

	finished := make(chan struct{})
	go func() {
		stop()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("heartbeat did not stop")
	}
}
