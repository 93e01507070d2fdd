// internal/adapter/pubsub/dispatcher.go

package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/relay-probe/internal/domain/model"
)

// ReportTopic carries one JSON model.Report per scenario run.
const ReportTopic = "relayprobe.report.v1"

// ReportDispatcher defines the high-level contract for outgoing run reports.
// This allows the scenario to stay agnostic of the transport implementation.
type ReportDispatcher interface {
	Publish(ctx context.Context, report *model.Report) error
}

// reportDispatcher fans a report out to every configured publisher.
type reportDispatcher struct {
	publishers []message.Publisher
}

// NewReportDispatcher returns the interface instead of the pointer to the struct.
func NewReportDispatcher(pubs ...message.Publisher) ReportDispatcher {
	return &reportDispatcher{
		publishers: pubs,
	}
}

func (d *reportDispatcher) Publish(ctx context.Context, report *model.Report) error {
	if report == nil {
		return fmt.Errorf("report dispatcher: cannot publish nil report")
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("report dispatcher: marshal failure: %w", err)
	}

	var errs []error
	for _, pub := range d.publishers {
		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.SetContext(ctx)
		msg.Metadata.Set("run_id", report.RunID)
		msg.Metadata.Set("outcome", report.Outcome())

		if err := pub.Publish(ReportTopic, msg); err != nil {
			errs = append(errs, fmt.Errorf("report dispatcher: failed to publish to topic %s: %w", ReportTopic, err))
		}
	}

	return errors.Join(errs...)
}
