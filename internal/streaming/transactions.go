package streaming

// TransactionsEngine implements spec.md §4.5's TransactionStreamEngine:
// paginates [start_version, end_version] with TransactionsWithProof or
// TransactionOutputsWithProof requests depending on outputs, each
// carrying MaxProofVersion.
type TransactionsEngine struct {
	state           streamState
	outputs         bool
	maxProofVersion uint64
}

// NewTransactionsEngine starts a bounded [start, end] transaction
// stream. outputs selects the TransactionOutputs variant over plain
// Transactions.
func NewTransactionsEngine(start, end uint64, maxProofVersion uint64, outputs bool) *TransactionsEngine {
	return &TransactionsEngine{
		state:           newStreamState(start, end),
		outputs:         outputs,
		maxProofVersion: maxProofVersion,
	}
}

func (e *TransactionsEngine) Kind() Kind {
	if e.outputs {
		return TransactionOutputs
	}
	return Transactions
}

func (e *TransactionsEngine) requestKind() RequestKind {
	if e.outputs {
		return ReqTransactionOutputsWithProof
	}
	return ReqTransactionsWithProof
}

func (e *TransactionsEngine) IsStreamComplete() bool { return e.state.isComplete() }

func (e *TransactionsEngine) IsRemainingDataAvailable(advertised AdvertisedData) bool {
	if e.state.isComplete() {
		return true
	}
	ranges := advertised.Transactions
	if e.outputs {
		ranges = advertised.TransactionOutputs
	}
	return covers(ranges, e.state.nextRequestIndex, e.state.endIndex)
}

func (e *TransactionsEngine) CreateDataClientRequests(maxRequests int, summary GlobalDataSummary) ([]Request, error) {
	if maxRequests <= 0 || e.state.isComplete() {
		return nil, nil
	}
	ranges := summary.AdvertisedData.Transactions
	chunkSize := summary.OptimalChunkSizes.Transactions
	if e.outputs {
		ranges = summary.AdvertisedData.TransactionOutputs
		chunkSize = summary.OptimalChunkSizes.TransactionOutputs
	}
	if !covers(ranges, e.state.nextRequestIndex, e.state.endIndex) {
		return nil, ErrDataUnavailable
	}

	chunks := e.state.requestChunks(maxRequests, chunkSize, e.state.endIndex)
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

func (e *TransactionsEngine) TransformClientResponseIntoNotification(req Request, resp Response) (*Notification, error) {
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
	return n, nil
}

// Progress reports next_stream_index/next_request_index for the ops
// surface.
func (e *TransactionsEngine) Progress() (uint64, uint64) { return e.state.progress() }
