package scenario

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/relay-probe/config"
	"github.com/webitel/relay-probe/internal/domain/model"
)

type stubProber struct {
	calls  atomic.Int32
	report func() (*model.Report, error)
}

func (p *stubProber) Run(context.Context) (*model.Report, error) {
	p.calls.Add(1)
	return p.report()
}

func passingReport() (*model.Report, error) {
	r := &model.Report{}
	r.AddCheck(CheckPublish, true, "")
	return r, nil
}

func failingReport() (*model.Report, error) {
	r := &model.Report{}
	r.AddCheck(CheckByID, false, "0 result(s)")
	return r, nil
}

func watchConfig() *config.Config {
	return &config.Config{
		Watch: config.WatchConfig{
			Interval:        10 * time.Millisecond,
			BreakerFailures: 2,
			BreakerCooldown: time.Minute,
		},
	}
}

func TestWatcher_BreakerSkipsAfterConsecutiveFailures(t *testing.T) {
	tests := []struct {
		name   string
		report func() (*model.Report, error)
	}{
		{name: "failed assertions", report: failingReport},
		{name: "exchange error", report: func() (*model.Report, error) {
			return &model.Report{Error: "boom"}, errors.New("boom")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := &stubProber{report: tt.report}
			recorder := &captureRecorder{}
			w := NewWatcher(watchConfig(), prober, recorder, discardLogger())

			require.NotNil(t, w.Tick(t.Context()))
			require.NotNil(t, w.Tick(t.Context()))
			assert.Equal(t, gobreaker.StateOpen, w.State())

			assert.Nil(t, w.Tick(t.Context()), "open breaker skips the run")
			assert.EqualValues(t, 2, prober.calls.Load())
			assert.Equal(t, []string{"skipped"}, recorder.Outcomes())
		})
	}
}

func TestWatcher_PassingRunsKeepBreakerClosed(t *testing.T) {
	prober := &stubProber{report: passingReport}
	w := NewWatcher(watchConfig(), prober, nil, discardLogger())

	for range 5 {
		report := w.Tick(t.Context())
		require.NotNil(t, report)
		assert.True(t, report.Passed())
	}
	assert.Equal(t, gobreaker.StateClosed, w.State())
	assert.EqualValues(t, 5, prober.calls.Load())
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	prober := &stubProber{report: passingReport}
	w := NewWatcher(watchConfig(), prober, nil, discardLogger())

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch loop did not stop")
	}
	assert.GreaterOrEqual(t, prober.calls.Load(), int32(2))
}
