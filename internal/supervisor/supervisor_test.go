package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p2panda/aquadoggo/internal/utils"
)

func TestReportFatalCancelsContextOnce(t *testing.T) {
	s := New(context.Background(), utils.Noop{})

	errA := errors.New("boom")
	errB := errors.New("second, ignored")

	s.ReportFatal(errA)
	s.ReportFatal(errB)

	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled")
	}
	assert.Equal(t, errA, s.Err())
}

func TestShutdownCancelsWithoutErr(t *testing.T) {
	s := New(context.Background(), utils.Noop{})
	s.Shutdown()

	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled")
	}
	assert.NoError(t, s.Err())
}

func TestShutdownAfterFatalDoesNotClearErr(t *testing.T) {
	s := New(context.Background(), utils.Noop{})
	fatal := errors.New("boom")
	s.ReportFatal(fatal)
	s.Shutdown()
	assert.Equal(t, fatal, s.Err())
}

func TestMarkReadyIsIdempotent(t *testing.T) {
	s := New(context.Background(), utils.Noop{})
	require.NotPanics(t, func() {
		s.MarkReady()
		s.MarkReady()
	})
	select {
	case <-s.Ready():
	default:
		t.Fatal("ready channel was not closed")
	}
}

func TestParentCancellationPropagates(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	s := New(parent, utils.Noop{})
	cancel()

	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("child context did not observe parent cancellation")
	}
}
