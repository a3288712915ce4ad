package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReceive(t *testing.T) {
	t.Parallel()
	ch := make(chan int, 1)
	ch <- 7
	assert.Equal(t, 7, Receive(t, ch, ShortTestTimeout, "value"))
}

func TestWaitForSkipsUnmatched(t *testing.T) {
	t.Parallel()
	ch := make(chan string, 3)
	ch <- "overflow"
	ch <- "triggered"
	ch <- "recording_done"
	got := WaitFor(t, ch, func(s string) bool { return s == "recording_done" }, ShortTestTimeout, "done")
	assert.Equal(t, "recording_done", got)
}

func TestWaitForChannelClosed(t *testing.T) {
	t.Parallel()
	done := make(chan struct{})
	go func() {
		time.Sleep(time.Millisecond)
		close(done)
	}()
	WaitForChannel(t, done, ShortTestTimeout, "closed")
}
