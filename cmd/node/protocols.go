package main

// Application-level protocol ids multiplexed over a single session's
// wire.Message.ProtocolID field (see internal/session's RegisterHandler):
// the libp2p protocol id negotiated at stream-open time only picks the
// session wire format, not which node subsystem a given message is for.
const (
	protoSubscribe         = "subscribe"
	protoUnsubscribe       = "unsubscribe"
	protoStreamingRequest  = "streaming_request"
	protoGlobalDataSummary = "global_data_summary"
	protoMempoolForward    = "mempool_forward"
)
