// Package scenario runs the publish-then-query check against one relay and
// repeats it in watch mode.
package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/relay-probe/config"
	"github.com/webitel/relay-probe/infra/client/relayinfo"
	"github.com/webitel/relay-probe/internal/adapter/pubsub"
	"github.com/webitel/relay-probe/internal/adapter/signer"
	"github.com/webitel/relay-probe/internal/domain/model"
	"github.com/webitel/relay-probe/internal/service"
	"golang.org/x/sync/errgroup"
)

const (
	CheckPublish = "publish acknowledged"
	CheckByID    = "query by id returns the message"
	CheckByTag   = "query by tag contains the message"
)

// Prober runs one full scenario.
type Prober interface {
	Run(ctx context.Context) (*model.Report, error)
}

// RunRecorder receives the outcome of every run.
type RunRecorder interface {
	RecordRun(outcome string, duration time.Duration)
}

// Interface guard
var _ Prober = (*Runner)(nil)

type Runner struct {
	cfg        *config.Config
	connector  service.Connector
	info       relayinfo.Fetcher
	dispatcher pubsub.ReportDispatcher
	recorder   RunRecorder
	logger     *slog.Logger

	newSigner func() (signer.Signer, error)
}

func NewRunner(
	cfg *config.Config,
	connector service.Connector,
	info relayinfo.Fetcher,
	dispatcher pubsub.ReportDispatcher,
	recorder RunRecorder,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		cfg:        cfg,
		connector:  connector,
		info:       info,
		dispatcher: dispatcher,
		recorder:   recorder,
		logger:     logger,
		newSigner: func() (signer.Signer, error) {
			return signer.Generate()
		},
	}
}

// Run executes the scenario while the capability document is fetched alongside.
// A transport or query failure is returned together with the report describing it.
func (r *Runner) Run(ctx context.Context) (*model.Report, error) {
	report := &model.Report{
		RunID:     uuid.NewString(),
		Relay:     r.cfg.Relay.URL,
		StartedAt: time.Now(),
		TagName:   r.cfg.Scenario.TagName,
		TagValue:  r.cfg.Scenario.TagValue,
	}
	log := r.logger.With(slog.String("run_id", report.RunID), slog.String("relay", report.Relay))
	log.Info("[SCENARIO] run started", "tag", report.TagName+"="+report.TagValue)

	var (
		doc     *relayinfo.Document
		infoErr error
		g       errgroup.Group
	)

	g.Go(func() error {
		// Diagnostic only: the outcome never changes the scenario.
		doc, infoErr = r.info.Fetch(ctx, r.cfg.Relay.InfoURL)
		return nil
	})
	g.Go(func() error {
		return r.exercise(ctx, report, log)
	})

	runErr := g.Wait()

	switch {
	case infoErr != nil:
		report.InfoError = infoErr.Error()
		log.Warn("RELAY_INFO_UNAVAILABLE", "err", infoErr)
	case doc != nil:
		report.SupportedNIPs = doc.SupportedNIPs
		log.Info("[RELAY] capabilities", "supported_nips", doc.SupportedNIPs, "tag_queries", doc.Supports(12))
	}

	elapsed := time.Since(report.StartedAt)
	report.Duration = elapsed.Milliseconds()
	if runErr != nil {
		report.Error = runErr.Error()
	}

	if r.recorder != nil {
		r.recorder.RecordRun(report.Outcome(), elapsed)
	}
	if err := r.dispatcher.Publish(ctx, report); err != nil {
		log.Error("REPORT_DISPATCH_FAILED", "err", err)
	}

	log.Info("[SCENARIO] run finished", "outcome", report.Outcome(), "duration_ms", report.Duration)
	return report, runErr
}

// exercise is publish, settle, query by id, query by tag. Failed assertions are
// recorded and the sequence continues; exchange errors abort it.
func (r *Runner) exercise(ctx context.Context, report *model.Report, log *slog.Logger) error {
	sc := r.cfg.Scenario

	s, err := r.newSigner()
	if err != nil {
		return err
	}
	msg, err := s.Sign(model.NewTaggedDraft(sc.Kind, "Testing tag search with hashtag #"+sc.TagValue, sc.TagName, sc.TagValue))
	if err != nil {
		return err
	}
	report.MessageID = msg.ID

	session, err := r.connector.Connect(ctx, r.cfg.Relay.URL)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Debug("SESSION_CLOSE_FAILED", "err", err)
		}
	}()

	pub, err := session.Publish(ctx, msg)
	if err != nil {
		return err
	}
	report.Published = true
	report.Acknowledged = pub.Acknowledged
	report.Accepted = pub.Accepted
	report.AckReason = pub.Reason
	report.PublishTimedOut = pub.TimedOut

	switch {
	case pub.TimedOut:
		report.AddCheck(CheckPublish, true, "no acknowledgment within the bound, continuing")
	case !pub.Accepted:
		report.AddCheck(CheckPublish, false, "rejected: "+pub.Reason)
	default:
		report.AddCheck(CheckPublish, true, pub.Reason)
	}

	if err := settle(ctx, sc.SettleDelay); err != nil {
		return err
	}

	byID, err := session.Subscribe(ctx, model.IDFilter(msg.ID), "by id "+msg.ID)
	if err != nil {
		return err
	}
	report.ByIDCount = len(byID.Messages)
	report.FoundByID = containsVerified(byID.Messages, msg.ID)
	idDetail := fmt.Sprintf("%d result(s), %d unverified", len(byID.Messages), byID.Unverified)
	if report.ByIDCount > 1 {
		idDetail += fmt.Sprintf(", %d unexpected extra", report.ByIDCount-1)
	}
	// An ids filter must yield the published message and nothing else.
	report.AddCheck(CheckByID, report.FoundByID && report.ByIDCount == 1, idDetail)

	tagFilter := model.TagFilter(sc.Kind, sc.TagLimit, sc.TagName, sc.TagValue)
	byTag, err := session.Subscribe(ctx, tagFilter, fmt.Sprintf("by tag #%s=%s", sc.TagName, sc.TagValue))
	if err != nil {
		return err
	}
	report.ByTagCount = len(byTag.Messages)
	report.FoundByTag = model.ContainsID(byTag.Messages, msg.ID)
	tagDetail := fmt.Sprintf("%d result(s)", len(byTag.Messages))
	if !report.FoundByID {
		tagDetail += "; id lookup had already failed"
	}
	report.AddCheck(CheckByTag, report.FoundByTag, tagDetail)

	return nil
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func containsVerified(msgs []*model.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id && m.Verify() {
			return true
		}
	}
	return false
}
