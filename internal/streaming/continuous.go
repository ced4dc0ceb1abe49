package streaming

// continuousTargetHistoryCap bounds the debug ring buffer of target
// transitions returned by TargetHistory (a supplemented feature from
// original_source/stream_engine.rs). Nothing outside this file calls
// TargetHistory.
const continuousTargetHistoryCap = 8

// ContinuousEngine implements spec.md §4.5's
// ContinuousTransactionStreamEngine (and its TransactionOutputs twin):
// maintains a dynamic target ledger info bounding how far requests may
// reach, refreshing it when exhausted and advancing the epoch counter
// when a target crossing an epoch boundary is reached. Never reports
// complete.
type ContinuousEngine struct {
	state   streamState
	outputs bool

	maxProofVersion uint64

	nextStreamEpoch  uint64
	nextRequestEpoch uint64

	target            *LedgerInfo
	pendingEpochFetch bool

	// targetHistory is a bounded, read-only debug trail of target
	// transitions ("why did the target change").
	targetHistory []LedgerInfo
}

// NewContinuousEngine starts a continuous stream at startVersion within
// startEpoch. outputs selects the TransactionOutputs variant.
func NewContinuousEngine(startVersion, startEpoch uint64, maxProofVersion uint64, outputs bool) *ContinuousEngine {
	return &ContinuousEngine{
		state:            newOpenStreamState(startVersion),
		outputs:          outputs,
		maxProofVersion:  maxProofVersion,
		nextStreamEpoch:  startEpoch,
		nextRequestEpoch: startEpoch,
	}
}

func (e *ContinuousEngine) Kind() Kind {
	if e.outputs {
		return ContinuousTransactionOutputs
	}
	return ContinuousTransactions
}

func (e *ContinuousEngine) requestKind() RequestKind {
	if e.outputs {
		return ReqTransactionOutputsWithProof
	}
	return ReqTransactionsWithProof
}

// IsStreamComplete is always false: continuous streams run until the
// caller stops consuming them.
func (e *ContinuousEngine) IsStreamComplete() bool { return false }

func (e *ContinuousEngine) IsRemainingDataAvailable(advertised AdvertisedData) bool {
	return len(advertised.SyncedLedgerInfos) > 0
}

// highestSyncedLedgerInfo returns the advertised ledger info with the
// greatest version, used to pick a fresh target.
func highestSyncedLedgerInfo(infos []LedgerInfo) (LedgerInfo, bool) {
	if len(infos) == 0 {
		return LedgerInfo{}, false
	}
	best := infos[0]
	for _, li := range infos[1:] {
		if li.Version > best.Version {
			best = li
		}
	}
	return best, true
}

func (e *ContinuousEngine) recordTarget(li LedgerInfo) {
	e.target = &li
	e.targetHistory = append(e.targetHistory, li)
	if len(e.targetHistory) > continuousTargetHistoryCap {
		e.targetHistory = e.targetHistory[len(e.targetHistory)-continuousTargetHistoryCap:]
	}
}

// TargetHistory returns the bounded trail of recent target transitions,
// for the ops surface only; callers must not mutate the result.
func (e *ContinuousEngine) TargetHistory() []LedgerInfo {
	return e.targetHistory
}

func (e *ContinuousEngine) CreateDataClientRequests(maxRequests int, summary GlobalDataSummary) ([]Request, error) {
	if maxRequests <= 0 {
		return nil, nil
	}

	if e.target == nil {
		if e.pendingEpochFetch {
			return nil, nil
		}
		candidate, ok := highestSyncedLedgerInfo(summary.AdvertisedData.SyncedLedgerInfos)
		if !ok {
			return nil, ErrDataUnavailable
		}
		if candidate.Version < e.state.nextRequestIndex {
			return nil, nil
		}
		if candidate.Epoch > e.nextRequestEpoch {
			// The synced head has moved into a later epoch than we're
			// currently requesting in; fetch that epoch's ending
			// ledger info first so requests never cross the boundary
			// unbounded (spec.md §4.5).
			e.pendingEpochFetch = true
			return []Request{{Kind: ReqEpochEndingLedgerInfos, StartEpoch: e.nextRequestEpoch, EndEpoch: e.nextRequestEpoch}}, nil
		}
		e.recordTarget(candidate)
	}

	if e.state.nextRequestIndex > e.target.Version {
		return nil, nil
	}

	chunkSize := summary.OptimalChunkSizes.Transactions
	if e.outputs {
		chunkSize = summary.OptimalChunkSizes.TransactionOutputs
	}
	chunks := e.state.requestChunks(maxRequests, chunkSize, e.target.Version)
	reqs := make([]Request, 0, len(chunks))
	for _, c := range chunks {
		reqs = append(reqs, Request{
			Kind:            e.requestKind(),
			StartVersion:    c.Start,
			EndVersion:      c.End,
			MaxProofVersion: e.maxProofVersion,
		})
	}
	return reqs, nil
}

func (e *ContinuousEngine) TransformClientResponseIntoNotification(req Request, resp Response) (*Notification, error) {
	if req.Kind == ReqEpochEndingLedgerInfos {
		if len(resp.EpochEndingLedgerInfos) == 0 {
			return nil, ErrUnsupportedRequest
		}
		e.recordTarget(resp.EpochEndingLedgerInfos[0])
		e.pendingEpochFetch = false
		return nil, nil
	}

	if req.Kind != e.requestKind() {
		return nil, ErrUnsupportedRequest
	}

	e.state.checkStart(resp.StartIndex)
	e.state.advance(resp.EndIndex)

	n := &Notification{Kind: e.Kind(), StartIndex: resp.StartIndex, EndIndex: resp.EndIndex}
	if e.outputs {
		n.TransactionOutputs = resp.TransactionOutputs
	} else {
		n.Transactions = resp.Transactions
	}

	if e.target != nil && resp.EndIndex == e.target.Version {
		if e.target.EndsEpoch {
			e.nextStreamEpoch++
		}
		e.nextRequestEpoch = e.nextStreamEpoch
		e.target = nil
	}

	return n, nil
}

// Progress reports next_stream_index/next_request_index for the ops
// surface.
func (e *ContinuousEngine) Progress() (uint64, uint64) { return e.state.progress() }
