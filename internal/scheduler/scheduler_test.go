package scheduler

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ClockSheet/internal/jobs"
	"github.com/dharsanguruparan/ClockSheet/internal/logging"
)

type countingCleaner struct{ calls atomic.Int32 }

func (c *countingCleaner) Cleanup(context.Context) (*jobs.CleanupReport, error) {
	c.calls.Add(1)
	return &jobs.CleanupReport{}, nil
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	s := New(&countingCleaner{}, "every now and then", logging.Discard())
	assert.Error(t, s.Start())
}

func TestRunOnceCallsCleaner(t *testing.T) {
	c := &countingCleaner{}
	s := New(c, "*/10 * * * *", logging.Discard())
	require.NoError(t, s.Start())
	s.RunOnce()
	s.Stop()
	assert.EqualValues(t, 1, c.calls.Load())
}
