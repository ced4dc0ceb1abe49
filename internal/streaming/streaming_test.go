package streaming

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakeClient answers every Send/GlobalDataSummary call from fixed
// tables keyed by request shape, recording the sequence of requests it
// saw.
type fakeClient struct {
	summary   GlobalDataSummary
	responses func(req Request) Response
	seen      []Request
}

func (c *fakeClient) GlobalDataSummary(ctx context.Context) (GlobalDataSummary, error) {
	return c.summary, nil
}

func (c *fakeClient) Send(ctx context.Context, req Request) (Response, error) {
	c.seen = append(c.seen, req)
	return c.responses(req), nil
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// TestBoundaryEndBeforeStartIsImmediatelyComplete covers spec.md §8's
// boundary behavior: a stream with end < start produces zero requests
// and is immediately complete.
func TestBoundaryEndBeforeStartIsImmediatelyComplete(t *testing.T) {
	e := NewTransactionsEngine(10, 5, 0, false)
	require.True(t, e.IsStreamComplete())

	reqs, err := e.CreateDataClientRequests(10, GlobalDataSummary{})
	require.NoError(t, err)
	require.Empty(t, reqs)
}

// TestTransactionsPaginationHasNoGapsOrOverlaps covers spec.md §8's
// round-trip property: concatenating every batch of requests a
// TransactionsEngine produces, across calls, partitions [start, end]
// exactly -- no gaps, no overlaps.
func TestTransactionsPaginationHasNoGapsOrOverlaps(t *testing.T) {
	e := NewTransactionsEngine(0, 99, 0, false)
	summary := GlobalDataSummary{
		AdvertisedData:    AdvertisedData{Transactions: []Range{{Start: 0, End: 99}}},
		OptimalChunkSizes: OptimalChunkSizes{Transactions: 7},
	}

	var covered []Range
	for !e.IsStreamComplete() {
		reqs, err := e.CreateDataClientRequests(3, summary)
		require.NoError(t, err)
		if len(reqs) == 0 {
			break
		}
		for _, r := range reqs {
			covered = append(covered, Range{Start: r.StartVersion, End: r.EndVersion})
			n, err := e.TransformClientResponseIntoNotification(r, Response{
				Kind: ReqTransactionsWithProof, StartIndex: r.StartVersion, EndIndex: r.EndVersion,
			})
			require.NoError(t, err)
			require.NotNil(t, n)
		}
	}

	require.True(t, e.IsStreamComplete())

	var next uint64
	for _, r := range covered {
		require.Equal(t, next, r.Start, "gap or overlap before range %+v", r)
		next = r.End + 1
	}
	require.Equal(t, uint64(100), next)
}

// TestEpochEndingTerminalSelectionByMajority covers spec.md §8 scenario
// 5: advertised highest epochs {10,10,10,7,99} selects end_epoch = 9.
func TestEpochEndingTerminalSelectionByMajority(t *testing.T) {
	e := NewEpochEndingEngine(0)
	summary := GlobalDataSummary{
		AdvertisedData: AdvertisedData{
			HighestEpochsAdvertised: []uint64{10, 10, 10, 7, 99},
			EpochEndingLedgerInfos:  []Range{{Start: 0, End: 9}},
		},
		OptimalChunkSizes: OptimalChunkSizes{EpochEndingLedgerInfos: 20},
	}

	reqs, err := e.CreateDataClientRequests(10, summary)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Equal(t, uint64(9), reqs[0].EndEpoch)
	require.Equal(t, uint64(9), e.endEpoch)
}

// TestEpochEndingZeroMajorityIsNoDataToFetch covers the degenerate case
// where the majority highest epoch is 0 -- there is no ending ledger
// info below it, so the stream has nothing to fetch.
func TestEpochEndingZeroMajorityIsNoDataToFetch(t *testing.T) {
	e := NewEpochEndingEngine(0)
	summary := GlobalDataSummary{AdvertisedData: AdvertisedData{HighestEpochsAdvertised: []uint64{0, 0, 0}}}

	_, err := e.CreateDataClientRequests(10, summary)
	require.ErrorIs(t, err, ErrNoDataToFetch)
}

// TestAccountsEngineCompletesAtNumberOfAccounts exercises
// AccountsStreamEngine's two-phase protocol: NumberOfAccounts first,
// then paginated batches until end_index == number_of_accounts - 1.
func TestAccountsEngineCompletesAtNumberOfAccounts(t *testing.T) {
	e := NewAccountsEngine(42)
	summary := GlobalDataSummary{
		AdvertisedData:    AdvertisedData{AccountStates: []Range{{Start: 42, End: 42}}},
		OptimalChunkSizes: OptimalChunkSizes{AccountStates: 4},
	}

	reqs, err := e.CreateDataClientRequests(5, summary)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Equal(t, ReqNumberOfAccounts, reqs[0].Kind)

	n, err := e.TransformClientResponseIntoNotification(reqs[0], Response{Kind: ReqNumberOfAccounts, NumberOfAccounts: 10})
	require.NoError(t, err)
	require.Nil(t, n, "NumberOfAccounts response is metadata, no notification")
	require.False(t, e.IsStreamComplete())

	for !e.IsStreamComplete() {
		reqs, err := e.CreateDataClientRequests(2, summary)
		require.NoError(t, err)
		require.NotEmpty(t, reqs)
		for _, r := range reqs {
			n, err := e.TransformClientResponseIntoNotification(r, Response{
				Kind: ReqAccountsWithProof, StartIndex: r.StartIndex, EndIndex: r.EndIndex,
			})
			require.NoError(t, err)
			require.NotNil(t, n)
		}
	}
}

// TestProtocolInvariantPanicsOnStartMismatch covers spec.md §4.5's
// "enforces start == next_stream_index (panic on mismatch)".
func TestProtocolInvariantPanicsOnStartMismatch(t *testing.T) {
	e := NewTransactionsEngine(0, 10, 0, false)
	require.Panics(t, func() {
		_, _ = e.TransformClientResponseIntoNotification(
			Request{Kind: ReqTransactionsWithProof, StartVersion: 0, EndVersion: 3},
			Response{Kind: ReqTransactionsWithProof, StartIndex: 1, EndIndex: 3},
		)
	})
}

// TestDriverDeliversTerminalNotificationOnInvariantViolation confirms
// the Driver turns that panic into a terminal notification rather than
// crashing the process (spec.md §7's fatal-to-stream propagation).
func TestDriverDeliversTerminalNotificationOnInvariantViolation(t *testing.T) {
	e := NewTransactionsEngine(0, 10, 0, false)
	client := &fakeClient{
		summary: GlobalDataSummary{
			AdvertisedData:    AdvertisedData{Transactions: []Range{{Start: 0, End: 10}}},
			OptimalChunkSizes: OptimalChunkSizes{Transactions: 11},
		},
		responses: func(req Request) Response {
			// Deliberately wrong StartIndex to trigger the invariant.
			return Response{Kind: ReqTransactionsWithProof, StartIndex: req.StartVersion + 1, EndIndex: req.EndVersion}
		},
	}

	d := NewDriver(e, client, testLogger(), 4, time.Millisecond, nil, "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go d.Run(ctx)

	n := <-d.Notifications()
	require.NotNil(t, n)
	require.Error(t, n.Terminal)
}

// TestContinuousEngineNeverCompletes covers spec.md §4.5: "This engine
// is never complete."
func TestContinuousEngineNeverCompletes(t *testing.T) {
	e := NewContinuousEngine(0, 0, 0, false)
	require.False(t, e.IsStreamComplete())

	summary := GlobalDataSummary{
		AdvertisedData: AdvertisedData{
			SyncedLedgerInfos: []LedgerInfo{{Epoch: 0, Version: 50, EndsEpoch: false}},
		},
		OptimalChunkSizes: OptimalChunkSizes{Transactions: 10},
	}
	reqs, err := e.CreateDataClientRequests(5, summary)
	require.NoError(t, err)
	require.NotEmpty(t, reqs)
	require.False(t, e.IsStreamComplete())
}

// TestContinuousEngineFetchesEpochEndingInfoBeforeCrossingBoundary
// covers the "selects highest advertised synced ledger info; if in an
// epoch strictly greater than next_request_epoch, first fetches the
// ending ledger info for next_request_epoch" branch.
func TestContinuousEngineFetchesEpochEndingInfoBeforeCrossingBoundary(t *testing.T) {
	e := NewContinuousEngine(0, 0, 0, false)
	summary := GlobalDataSummary{
		AdvertisedData: AdvertisedData{
			SyncedLedgerInfos: []LedgerInfo{{Epoch: 1, Version: 200, EndsEpoch: false}},
		},
	}

	reqs, err := e.CreateDataClientRequests(5, summary)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Equal(t, ReqEpochEndingLedgerInfos, reqs[0].Kind)
	require.Equal(t, uint64(0), reqs[0].StartEpoch)

	n, err := e.TransformClientResponseIntoNotification(reqs[0], Response{
		Kind:                   ReqEpochEndingLedgerInfos,
		EpochEndingLedgerInfos: []LedgerInfo{{Epoch: 0, Version: 99, EndsEpoch: true}},
	})
	require.NoError(t, err)
	require.Nil(t, n)
	require.NotNil(t, e.target)
	require.Equal(t, uint64(99), e.target.Version)
}

// TestContinuousEngineAdvancesEpochOnTargetReachedAtBoundary covers
// epoch boundary crossing: reaching a target whose ledger info
// EndsEpoch advances next_stream_epoch by one and clears the target.
func TestContinuousEngineAdvancesEpochOnTargetReachedAtBoundary(t *testing.T) {
	e := NewContinuousEngine(0, 0, 0, false)
	e.recordTarget(LedgerInfo{Epoch: 0, Version: 9, EndsEpoch: true})

	n, err := e.TransformClientResponseIntoNotification(
		Request{Kind: ReqTransactionsWithProof, StartVersion: 0, EndVersion: 9},
		Response{Kind: ReqTransactionsWithProof, StartIndex: 0, EndIndex: 9},
	)
	require.NoError(t, err)
	require.NotNil(t, n)
	require.Nil(t, e.target)
	require.Equal(t, uint64(1), e.nextStreamEpoch)
}

// TestZeroRequestsWhenMaxIsZero covers the "never exceeds max_n" bound
// degenerating to zero.
func TestZeroRequestsWhenMaxIsZero(t *testing.T) {
	e := NewTransactionsEngine(0, 10, 0, false)
	reqs, err := e.CreateDataClientRequests(0, GlobalDataSummary{})
	require.NoError(t, err)
	require.Empty(t, reqs)
}

// TestDataUnavailableWhenNoAdvertisingPeer covers the DataIsUnavailable
// failure mode.
func TestDataUnavailableWhenNoAdvertisingPeer(t *testing.T) {
	e := NewTransactionsEngine(0, 10, 0, false)
	_, err := e.CreateDataClientRequests(5, GlobalDataSummary{})
	require.ErrorIs(t, err, ErrDataUnavailable)
}

// TestPublisherFansOutToMultipleSubscribers covers the broadcast
// behavior of Publisher.Publish across more than one subscriber, and
// that unsubscribed channels stop receiving.
func TestPublisherFansOutToMultipleSubscribers(t *testing.T) {
	pub := NewPublisher(4)

	subA, unsubA := pub.Subscribe("topic")
	subB, unsubB := pub.Subscribe("topic")
	defer unsubA()
	defer unsubB()

	n := &Notification{Kind: Transactions, StartIndex: 0, EndIndex: 0}
	pub.Publish("topic", n)

	select {
	case got := <-subA:
		require.Same(t, n, got)
	case <-time.After(time.Second):
		t.Fatal("subscriber A did not receive notification")
	}
	select {
	case got := <-subB:
		require.Same(t, n, got)
	case <-time.After(time.Second):
		t.Fatal("subscriber B did not receive notification")
	}

	unsubB()
	pub.Publish("topic", n)
	select {
	case got := <-subA:
		require.Same(t, n, got)
	case <-time.After(time.Second):
		t.Fatal("subscriber A did not receive second notification")
	}
	select {
	case <-subB:
		t.Fatal("unsubscribed channel received a notification")
	case <-time.After(50 * time.Millisecond):
	}
}

// TestPublisherPublishNeverBlocksOnFullSubscriber covers the
// best-effort guarantee: a subscriber whose channel is already full
// never makes Publish block.
func TestPublisherPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	pub := NewPublisher(1)
	sub, unsub := pub.Subscribe("topic")
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			pub.Publish("topic", &Notification{Kind: Transactions})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
	require.NotEmpty(t, sub)
}

// TestPublisherNoSubscribersIsNoOp covers publishing to a topic with no
// subscribers.
func TestPublisherNoSubscribersIsNoOp(t *testing.T) {
	pub := NewPublisher(4)
	require.NotPanics(t, func() {
		pub.Publish("nobody-listening", &Notification{Kind: Transactions})
	})
}
