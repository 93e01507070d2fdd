package service

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/relay-probe/internal/adapter/signer"
	"github.com/webitel/relay-probe/internal/adapter/wsconn"
	"github.com/webitel/relay-probe/internal/domain/model"
	"github.com/webitel/relay-probe/internal/domain/registry"
	"github.com/webitel/relay-probe/internal/testutil/relaytest"
)

const shortTimeout = 300 * time.Millisecond

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	svc   *ExchangeService
	corr  *registry.Correlator
	conn  *wsconn.Conn
	relay *relaytest.Relay
}

func newHarness(t *testing.T, publishTimeout, subscribeTimeout time.Duration, opts ...relaytest.Option) *harness {
	t.Helper()

	relay := relaytest.New(t, opts...)
	corr := registry.NewCorrelator(discardLogger())

	conn, err := wsconn.Dial(t.Context(), relay.URL(), corr, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		corr.Shutdown()
	})

	return &harness{
		svc:   NewExchangeService(conn, corr, discardLogger(), publishTimeout, subscribeTimeout),
		corr:  corr,
		conn:  conn,
		relay: relay,
	}
}

func signedMessage(t *testing.T, tagValue string) *model.Message {
	t.Helper()
	s, err := signer.Generate()
	require.NoError(t, err)
	msg, err := s.Sign(model.NewTaggedDraft(1, "hello #"+tagValue, "t", tagValue))
	require.NoError(t, err)
	return msg
}

// storedEvent signs a message and converts it to what the relay keeps on disk.
func storedEvent(t *testing.T, tagValue string) nostr.Event {
	t.Helper()
	return signedMessage(t, tagValue).Event
}

func (h *harness) requireClosedOnce(t *testing.T, subID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.relay.ClosedSubscriptions()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	count := 0
	for _, id := range h.relay.ClosedSubscriptions() {
		if id == subID {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one CLOSE for %s", subID)
}

func TestPublish_Acknowledged(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)
	msg := signedMessage(t, "probe-42")

	res, err := h.svc.Publish(t.Context(), msg)
	require.NoError(t, err)

	assert.True(t, res.Acknowledged)
	assert.True(t, res.Accepted)
	assert.False(t, res.TimedOut)
	assert.Same(t, msg, res.Message)
	assert.Len(t, h.relay.Events(), 1)
	assert.Zero(t, h.corr.Len())
}

func TestPublish_RejectionStillResolves(t *testing.T) {
	h := newHarness(t, time.Second, time.Second, relaytest.WithRejection("blocked: test"))

	res, err := h.svc.Publish(t.Context(), signedMessage(t, "x"))
	require.NoError(t, err)

	assert.True(t, res.Acknowledged)
	assert.False(t, res.Accepted)
	assert.Equal(t, "blocked: test", res.Reason)
	assert.Empty(t, h.relay.Events())
}

func TestPublish_MissingAckIsSoftTimeout(t *testing.T) {
	h := newHarness(t, shortTimeout, time.Second, relaytest.WithoutOK())
	msg := signedMessage(t, "x")

	res, err := h.svc.Publish(t.Context(), msg)
	require.NoError(t, err)

	assert.True(t, res.TimedOut)
	assert.False(t, res.Acknowledged)
	assert.Same(t, msg, res.Message)
	assert.GreaterOrEqual(t, res.Elapsed, shortTimeout)
}

func TestSubscribe_CompletesAndCloses(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)
	first := storedEvent(t, "probe-42")
	second := storedEvent(t, "probe-42")
	h.relay.Store(first)
	h.relay.Store(second)
	h.relay.Store(storedEvent(t, "other"))

	res, err := h.svc.Subscribe(t.Context(), model.TagFilter(1, 10, "t", "probe-42"), "by tag")
	require.NoError(t, err)

	assert.True(t, res.Complete)
	assert.False(t, res.TimedOut)
	assert.Equal(t, "by tag", res.Description)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, first.ID, res.Messages[0].ID, "relay order is kept")
	assert.Equal(t, second.ID, res.Messages[1].ID)
	assert.Zero(t, res.Unverified)

	h.requireClosedOnce(t, res.SubscriptionID)
}

func TestSubscribe_SoftTimeoutWithResultsCloses(t *testing.T) {
	h := newHarness(t, time.Second, shortTimeout, relaytest.WithoutEOSE())
	ev := storedEvent(t, "probe-42")
	h.relay.Store(ev)

	res, err := h.svc.Subscribe(t.Context(), model.IDFilter(ev.ID), "by id")
	require.NoError(t, err)

	assert.True(t, res.TimedOut)
	assert.False(t, res.Complete)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, ev.ID, res.Messages[0].ID)

	h.requireClosedOnce(t, res.SubscriptionID)
}

func TestSubscribe_EmptyTimeoutIsNoResponseAndCloses(t *testing.T) {
	h := newHarness(t, time.Second, shortTimeout, relaytest.WithoutEOSE())

	res, err := h.svc.Subscribe(t.Context(), model.IDFilter("deadbeef"), "by id")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNoResponse)
	assert.Empty(t, res.Messages)
	require.NotEmpty(t, res.SubscriptionID)

	h.requireClosedOnce(t, res.SubscriptionID)
}

func TestSubscribe_MalformedFramesDoNotBreakExchange(t *testing.T) {
	h := newHarness(t, time.Second, time.Second,
		relaytest.WithInjectedFrames(`not json at all`, `["EVENT"`, `[42]`, `["BOGUS","x"]`))
	ev := storedEvent(t, "probe-42")
	h.relay.Store(ev)

	res, err := h.svc.Subscribe(t.Context(), model.IDFilter(ev.ID), "by id")
	require.NoError(t, err)

	assert.True(t, res.Complete)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, ev.ID, res.Messages[0].ID)
}

func TestSubscribe_CountsUnverifiedMessages(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)
	ev := storedEvent(t, "probe-42")
	ev.Content = "tampered"
	h.relay.Store(ev)

	res, err := h.svc.Subscribe(t.Context(), model.TagFilter(1, 10, "t", "probe-42"), "by tag")
	require.NoError(t, err)

	require.Len(t, res.Messages, 1)
	assert.Equal(t, 1, res.Unverified)
	assert.False(t, res.Messages[0].Verify())
}

func TestSubscribe_RetriesOnDuplicateID(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)

	held, err := h.corr.Register(registry.Request{Key: "taken", Kind: registry.KindSubscribe, Timeout: time.Minute})
	require.NoError(t, err)

	ids := []string{"taken", "taken", "fresh"}
	h.svc.newSubID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	res, err := h.svc.Subscribe(t.Context(), model.IDFilter("deadbeef"), "by id")
	require.NoError(t, err)
	assert.Equal(t, "fresh", res.SubscriptionID)
	select {
	case <-held.Done():
		t.Fatal("the colliding exchange must stay untouched")
	default:
	}
}

func TestSubscribe_GivesUpAfterRepeatedCollisions(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)

	_, err := h.corr.Register(registry.Request{Key: "taken", Kind: registry.KindSubscribe, Timeout: time.Minute})
	require.NoError(t, err)

	h.svc.newSubID = func() string { return "taken" }

	_, err = h.svc.Subscribe(t.Context(), model.IDFilter("deadbeef"), "by id")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrDuplicateKey)
	assert.Empty(t, h.relay.Received("REQ"), "nothing is sent without a registration")
	assert.Empty(t, h.relay.ClosedSubscriptions())
}

func TestSubscribe_TransportFailureReleasesCaller(t *testing.T) {
	h := newHarness(t, time.Second, 5*time.Second, relaytest.WithDisconnectOnReq())

	start := time.Now()
	_, err := h.svc.Subscribe(t.Context(), model.IDFilter("deadbeef"), "by id")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConnectionFailed)
	assert.Less(t, time.Since(start), 5*time.Second, "failure must not wait for the timeout")
}

func TestSubscribe_ConcurrentExchangesAreIndependent(t *testing.T) {
	h := newHarness(t, time.Second, time.Second)
	var stored []nostr.Event
	for range 5 {
		ev := storedEvent(t, "probe-42")
		h.relay.Store(ev)
		stored = append(stored, ev)
	}

	var wg sync.WaitGroup
	results := make([]SubscribeResult, len(stored))
	errs := make([]error, len(stored))
	for i, ev := range stored {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = h.svc.Subscribe(t.Context(), model.IDFilter(ev.ID), "by id")
		}()
	}
	wg.Wait()

	for i, ev := range stored {
		require.NoError(t, errs[i])
		require.Len(t, results[i].Messages, 1)
		assert.Equal(t, ev.ID, results[i].Messages[0].ID)
	}
	require.Eventually(t, func() bool {
		return len(h.relay.ClosedSubscriptions()) == len(stored)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, h.corr.Len())
}

// closedSender refuses every write, as a connection does between Close and the
// read loop reporting it.
type closedSender struct {
	mu    sync.Mutex
	verbs []model.Verb
}

func (s *closedSender) Send(f model.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verbs = append(s.verbs, f.Verb())
	return model.ErrConnectionClosed
}

func TestExchange_SendFailureFreesPendingKey(t *testing.T) {
	corr := registry.NewCorrelator(discardLogger())
	t.Cleanup(corr.Shutdown)
	sender := &closedSender{}
	svc := NewExchangeService(sender, corr, discardLogger(), time.Minute, time.Minute)

	_, err := svc.Publish(t.Context(), signedMessage(t, "x"))
	require.ErrorIs(t, err, model.ErrConnectionClosed)
	assert.Zero(t, corr.Len(), "unsent publish must not wait for its deadline")

	_, err = svc.Subscribe(t.Context(), model.IDFilter("deadbeef"), "by id")
	require.ErrorIs(t, err, model.ErrConnectionClosed)
	assert.Zero(t, corr.Len(), "unsent subscription must not wait for its deadline")

	assert.Equal(t, []model.Verb{model.VerbEvent, model.VerbReq, model.VerbClose}, sender.verbs,
		"CLOSE is still attempted for the registered subscription")
}
