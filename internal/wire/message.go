// Package wire implements the framed wire format shared by every Peer
// Session Actor: a leading message-kind byte, a msgpack-encoded payload,
// and a length prefix applied by the framing layer in internal/session.
package wire

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind is the leading byte of every frame.
type Kind uint8

const (
	KindDirectSend Kind = iota
	KindDirectSendAndMetadata
	KindRPCRequest
	KindRPCRequestAndMetadata
	KindRPCResponse
	KindRPCResponseAndMetadata
	KindError
	KindStreamHeader
	KindStreamFragment
)

func (k Kind) String() string {
	switch k {
	case KindDirectSend:
		return "direct_send"
	case KindDirectSendAndMetadata:
		return "direct_send_and_metadata"
	case KindRPCRequest:
		return "rpc_request"
	case KindRPCRequestAndMetadata:
		return "rpc_request_and_metadata"
	case KindRPCResponse:
		return "rpc_response"
	case KindRPCResponseAndMetadata:
		return "rpc_response_and_metadata"
	case KindError:
		return "error"
	case KindStreamHeader:
		return "stream_header"
	case KindStreamFragment:
		return "stream_fragment"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// IsMetadataVariant reports whether k is one of the *AndMetadata kinds.
func (k Kind) IsMetadataVariant() bool {
	switch k {
	case KindDirectSendAndMetadata, KindRPCRequestAndMetadata, KindRPCResponseAndMetadata:
		return true
	default:
		return false
	}
}

// ErrorCode distinguishes the reasons an Error frame may carry.
type ErrorCode uint8

const (
	ErrorParsing ErrorCode = iota
	ErrorUnknownProtocol
	ErrorNotConnected
	ErrorResourceExhausted
	ErrorTimeout
)

// Timestamps carries the optional send-side timing fields that the
// *AndMetadata variants add on top of their plain counterparts. Both
// fields are independently optional: messages lacking them are ignored
// for latency accounting rather than treated as zero.
type Timestamps struct {
	ApplicationSendTime *time.Time
	WireSendTime        *time.Time
}

// Message is one decoded frame, structurally a superset of every kind so
// receivers can accept both metadata and non-metadata variants uniformly.
// A feature flag at the sender decides whether metadata is attached; the
// receiver never needs to know which.
type Message struct {
	Kind       Kind
	ProtocolID string
	RequestID  uint64 // RPC correlation id; zero for direct-sends.
	Payload    []byte
	ErrorCode  ErrorCode
	Timestamps Timestamps
	// Streamed marks a message reconstructed from a fragmented sequence,
	// used to distinguish streamed-tail messages from non-streamed ones
	// in latency accounting (spec.md §4.1).
	Streamed bool
}

// wireEnvelope is the msgpack-serialized shape of a Message. Timestamps
// are encoded as unix-nano pointers so "absent" round-trips as nil rather
// than a synthetic zero time.
type wireEnvelope struct {
	Kind       uint8
	ProtocolID string
	RequestID  uint64
	Payload    []byte
	ErrorCode  uint8
	AppSendNs  *int64
	WireSendNs *int64
}

// Encode serializes m to its on-wire msgpack representation, not
// including the length prefix (applied by the framing layer).
func Encode(m Message) ([]byte, error) {
	env := wireEnvelope{
		Kind:       uint8(m.Kind),
		ProtocolID: m.ProtocolID,
		RequestID:  m.RequestID,
		Payload:    m.Payload,
		ErrorCode:  uint8(m.ErrorCode),
	}
	if m.Timestamps.ApplicationSendTime != nil {
		ns := m.Timestamps.ApplicationSendTime.UnixNano()
		env.AppSendNs = &ns
	}
	if m.Timestamps.WireSendTime != nil {
		ns := m.Timestamps.WireSendTime.UnixNano()
		env.WireSendNs = &ns
	}
	return msgpack.Marshal(env)
}

// Decode parses a frame payload (post length-prefix) into a Message.
func Decode(raw []byte) (Message, error) {
	var env wireEnvelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("wire: decode: %w", err)
	}
	m := Message{
		Kind:       Kind(env.Kind),
		ProtocolID: env.ProtocolID,
		RequestID:  env.RequestID,
		Payload:    env.Payload,
		ErrorCode:  ErrorCode(env.ErrorCode),
	}
	if env.AppSendNs != nil {
		t := time.Unix(0, *env.AppSendNs).UTC()
		m.Timestamps.ApplicationSendTime = &t
	}
	if env.WireSendNs != nil {
		t := time.Unix(0, *env.WireSendNs).UTC()
		m.Timestamps.WireSendTime = &t
	}
	return m, nil
}
