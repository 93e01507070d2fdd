package pubsub

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/relay-probe/internal/domain/model"
)

func newBus() *gochannel.GoChannel {
	logger := watermill.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 4}, logger)
}

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no report delivered")
		return nil
	}
}

func TestReportDispatcher_FansOutToEveryPublisher(t *testing.T) {
	local, export := newBus(), newBus()
	defer local.Close()
	defer export.Close()

	localCh, err := local.Subscribe(t.Context(), ReportTopic)
	require.NoError(t, err)
	exportCh, err := export.Subscribe(t.Context(), ReportTopic)
	require.NoError(t, err)

	report := &model.Report{RunID: "run-7", Relay: "ws://relay.test"}
	report.AddCheck("publish acknowledged", true, "")

	require.NoError(t, NewReportDispatcher(local, export).Publish(t.Context(), report))

	for _, ch := range []<-chan *message.Message{localCh, exportCh} {
		msg := receive(t, ch)
		assert.Equal(t, "run-7", msg.Metadata.Get("run_id"))
		assert.Equal(t, "passed", msg.Metadata.Get("outcome"))

		var got model.Report
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, report.RunID, got.RunID)
		assert.True(t, got.Passed())
	}
}

func TestReportDispatcher_ReportsPublishErrors(t *testing.T) {
	bus := newBus()
	require.NoError(t, bus.Close())

	err := NewReportDispatcher(bus).Publish(t.Context(), &model.Report{RunID: "x"})
	assert.Error(t, err)
}
