package streaming

import "sort"

// EpochEndingEngine implements spec.md §4.5's EpochEndingStreamEngine:
// chooses a terminal epoch by majority vote among peers' advertised
// highest epochs (guarding against malicious outliers advertising
// bogus epochs), then paginates EpochEndingLedgerInfos(e, e') batches
// over [start_epoch, end_epoch].
type EpochEndingEngine struct {
	state      streamState
	startEpoch uint64

	haveTerminal bool
	endEpoch     uint64
}

// NewEpochEndingEngine starts a fresh epoch-ending stream from startEpoch.
func NewEpochEndingEngine(startEpoch uint64) *EpochEndingEngine {
	return &EpochEndingEngine{
		state:      newOpenStreamState(startEpoch),
		startEpoch: startEpoch,
	}
}

func (e *EpochEndingEngine) Kind() Kind { return EpochEndingInfos }

func (e *EpochEndingEngine) IsStreamComplete() bool { return e.state.completed }

func (e *EpochEndingEngine) IsRemainingDataAvailable(advertised AdvertisedData) bool {
	if !e.haveTerminal {
		return len(advertised.HighestEpochsAdvertised) > 0
	}
	if e.endEpoch < e.state.nextRequestIndex {
		return true
	}
	return covers(advertised.EpochEndingLedgerInfos, e.state.nextRequestIndex, e.endEpoch)
}

// majorityHighestEpoch returns the modal (most commonly advertised)
// highest epoch across advertising peers, ignoring an outlier minority.
func majorityHighestEpoch(advertised []uint64) (uint64, bool) {
	if len(advertised) == 0 {
		return 0, false
	}
	counts := make(map[uint64]int, len(advertised))
	for _, e := range advertised {
		counts[e]++
	}
	var best uint64
	bestCount := -1
	// Deterministic iteration for a reproducible tie-break: highest
	// epoch wins among equally-voted candidates.
	keys := make([]uint64, 0, len(counts))
	for e := range counts {
		keys = append(keys, e)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] > keys[j] })
	for _, e := range keys {
		if counts[e] > bestCount {
			best = e
			bestCount = counts[e]
		}
	}
	return best, true
}

func (e *EpochEndingEngine) CreateDataClientRequests(maxRequests int, summary GlobalDataSummary) ([]Request, error) {
	if maxRequests <= 0 {
		return nil, nil
	}

	if !e.haveTerminal {
		highest, ok := majorityHighestEpoch(summary.AdvertisedData.HighestEpochsAdvertised)
		if !ok {
			return nil, ErrDataUnavailable
		}
		if highest == 0 {
			return nil, ErrNoDataToFetch
		}
		// The terminal epoch is majority_highest - 1: the highest epoch
		// whose ending ledger info actually exists (spec.md §4.5
		// scenario 5).
		e.endEpoch = highest - 1
		e.haveTerminal = true
		if e.endEpoch < e.startEpoch {
			e.state.completed = true
			return nil, ErrNoDataToFetch
		}
	}

	if e.state.nextRequestIndex > e.endEpoch {
		return nil, nil
	}

	chunks := e.state.requestChunks(maxRequests, summary.OptimalChunkSizes.EpochEndingLedgerInfos, e.endEpoch)
	reqs := make([]Request, 0, len(chunks))
	for _, c := range chunks {
		reqs = append(reqs, Request{Kind: ReqEpochEndingLedgerInfos, StartEpoch: c.Start, EndEpoch: c.End})
	}
	return reqs, nil
}

func (e *EpochEndingEngine) TransformClientResponseIntoNotification(req Request, resp Response) (*Notification, error) {
	if req.Kind != ReqEpochEndingLedgerInfos {
		return nil, ErrUnsupportedRequest
	}
	e.state.checkStart(resp.StartIndex)
	e.state.advance(resp.EndIndex)
	if resp.EndIndex == e.endEpoch {
		e.state.completed = true
	}
	return &Notification{
		Kind:                   EpochEndingInfos,
		StartIndex:             resp.StartIndex,
		EndIndex:               resp.EndIndex,
		EpochEndingLedgerInfos: resp.EpochEndingLedgerInfos,
	}, nil
}

// Progress reports next_stream_index/next_request_index for the ops
// surface.
func (e *EpochEndingEngine) Progress() (uint64, uint64) { return e.state.progress() }
