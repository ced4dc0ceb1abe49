package streaming

// AccountsEngine implements spec.md §4.5's AccountsStreamEngine: first
// issues NumberOfAccounts(version), then paginates AccountsWithProof
// batches until next_request_index == number_of_accounts.
type AccountsEngine struct {
	state   streamState
	version uint64

	haveCount       bool
	numberOfAccounts uint64
	// requestedCount guards against issuing NumberOfAccounts more than
	// once while the response is in flight.
	requestedCount bool
}

// NewAccountsEngine starts a fresh accounts stream at the given version.
func NewAccountsEngine(version uint64) *AccountsEngine {
	return &AccountsEngine{
		state:   newOpenStreamState(0),
		version: version,
	}
}

func (e *AccountsEngine) Kind() Kind { return AccountStates }

func (e *AccountsEngine) IsStreamComplete() bool {
	return e.state.completed
}

func (e *AccountsEngine) IsRemainingDataAvailable(advertised AdvertisedData) bool {
	if !e.haveCount {
		return covers(advertised.AccountStates, e.version, e.version)
	}
	if e.numberOfAccounts == 0 {
		return true
	}
	return covers(advertised.AccountStates, e.version, e.version)
}

func (e *AccountsEngine) CreateDataClientRequests(maxRequests int, summary GlobalDataSummary) ([]Request, error) {
	if maxRequests <= 0 {
		return nil, nil
	}
	if !covers(summary.AdvertisedData.AccountStates, e.version, e.version) {
		return nil, ErrDataUnavailable
	}

	if !e.haveCount {
		if e.requestedCount {
			return nil, nil
		}
		e.requestedCount = true
		return []Request{{Kind: ReqNumberOfAccounts, Version: e.version}}, nil
	}

	if e.numberOfAccounts == 0 {
		return nil, nil
	}

	chunks := e.state.requestChunks(maxRequests, summary.OptimalChunkSizes.AccountStates, e.numberOfAccounts-1)
	reqs := make([]Request, 0, len(chunks))
	for _, c := range chunks {
		reqs = append(reqs, Request{
			Kind:       ReqAccountsWithProof,
			Version:    e.version,
			StartIndex: c.Start,
			EndIndex:   c.End,
		})
	}
	return reqs, nil
}

func (e *AccountsEngine) TransformClientResponseIntoNotification(req Request, resp Response) (*Notification, error) {
	switch req.Kind {
	case ReqNumberOfAccounts:
		e.numberOfAccounts = resp.NumberOfAccounts
		e.haveCount = true
		e.requestedCount = false
		if e.numberOfAccounts == 0 {
			e.state.completed = true
		}
		return nil, nil

	case ReqAccountsWithProof:
		e.state.checkStart(resp.StartIndex)
		e.state.advance(resp.EndIndex)
		if e.haveCount && e.numberOfAccounts > 0 && resp.EndIndex == e.numberOfAccounts-1 {
			e.state.completed = true
		}
		return &Notification{
			Kind:       AccountStates,
			StartIndex: resp.StartIndex,
			EndIndex:   resp.EndIndex,
			Accounts:   resp.Accounts,
		}, nil

	default:
		return nil, ErrUnsupportedRequest
	}
}

// Progress reports next_stream_index/next_request_index for the ops
// surface.
func (e *AccountsEngine) Progress() (uint64, uint64) { return e.state.progress() }
