package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrFragmentCapExceeded is returned when a stream's declared or observed
// fragment count would exceed max_message_size / max_frame_size. The
// stream is rejected; the connection survives (spec.md §4.1, §8 scenario 6).
var ErrFragmentCapExceeded = errors.New("wire: fragment cap exceeded")

// ErrFrameTooLarge names the case of a message whose encoding exceeds
// max_message_size. Nothing in the package returns it: PlanSend reports
// an oversize message as ErrFragmentCapExceeded.
var ErrFrameTooLarge = errors.New("wire: frame exceeds max_message_size")

// FrameSizes bounds both single-frame writes and fragmented reassembly.
// max_frame_size == max_message_size is a valid boundary configuration
// that forces single-frame messages only (fragment cap of 1).
type FrameSizes struct {
	MaxFrameSize   uint32
	MaxMessageSize uint32
}

// FragmentCap is the maximum number of fragments a streamed message may
// be split into.
func (fs FrameSizes) FragmentCap() uint32 {
	if fs.MaxFrameSize == 0 {
		return 0
	}
	return fs.MaxMessageSize / fs.MaxFrameSize
}

// ShouldStream reports whether an encoded message of this length must be
// fragmented rather than sent as a single frame.
func (fs FrameSizes) ShouldStream(encodedLen int) bool {
	return uint32(encodedLen) > fs.MaxFrameSize
}

// streamHeaderBody is the msgpack-free, fixed-width body of a
// KindStreamHeader frame: total payload length and fragment count.
type streamHeaderBody struct {
	totalLen     uint32
	numFragments uint32
}

func encodeStreamHeader(h streamHeaderBody) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], h.totalLen)
	binary.BigEndian.PutUint32(b[4:8], h.numFragments)
	return b
}

func decodeStreamHeader(b []byte) (streamHeaderBody, error) {
	if len(b) != 8 {
		return streamHeaderBody{}, fmt.Errorf("wire: malformed stream header (%d bytes)", len(b))
	}
	return streamHeaderBody{
		totalLen:     binary.BigEndian.Uint32(b[0:4]),
		numFragments: binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// Frame is one length-prefixed wire unit: a kind byte followed by a body.
// Frame.Encode/DecodeFrame apply only the kind byte; the 4-byte length
// prefix itself is applied/stripped by the socket-facing code in
// internal/session, which needs the length before it can know how many
// bytes to read.
type Frame struct {
	Kind Kind
	Body []byte
}

// Encode serializes the frame to kind-byte + body, ready for the caller
// to length-prefix and write.
func (f Frame) Encode() []byte {
	out := make([]byte, 1+len(f.Body))
	out[0] = uint8(f.Kind)
	copy(out[1:], f.Body)
	return out
}

// DecodeFrame splits a raw (post length-prefix) frame into kind + body.
func DecodeFrame(raw []byte) (Frame, error) {
	if len(raw) < 1 {
		return Frame{}, fmt.Errorf("wire: empty frame")
	}
	return Frame{Kind: Kind(raw[0]), Body: raw[1:]}, nil
}

// PlanSend decides, for an already-encoded message body, whether it can
// go out as a single frame or must be split into a header + fragments.
// Mirrors the "outbound stream" helper's should_stream check in spec.md
// §4.1's writer pipeline.
func PlanSend(kind Kind, encoded []byte, sizes FrameSizes) ([]Frame, error) {
	if !sizes.ShouldStream(len(encoded)) {
		return []Frame{{Kind: kind, Body: encoded}}, nil
	}

	cap := sizes.FragmentCap()
	numFragments := uint32(len(encoded)) / sizes.MaxFrameSize
	if uint32(len(encoded))%sizes.MaxFrameSize != 0 {
		numFragments++
	}
	if cap == 0 || numFragments > cap {
		return nil, ErrFragmentCapExceeded
	}

	frames := make([]Frame, 0, numFragments+1)
	frames = append(frames, Frame{
		Kind: KindStreamHeader,
		Body: encodeStreamHeader(streamHeaderBody{totalLen: uint32(len(encoded)), numFragments: numFragments}),
	})
	for off := uint32(0); off < uint32(len(encoded)); off += sizes.MaxFrameSize {
		end := off + sizes.MaxFrameSize
		if end > uint32(len(encoded)) {
			end = uint32(len(encoded))
		}
		frames = append(frames, Frame{Kind: KindStreamFragment, Body: encoded[off:end]})
	}
	return frames, nil
}

// Reassembler accumulates a single in-flight fragmented stream per
// connection direction. The protocol does not interleave concurrent
// streamed messages on one connection, so one reassembler instance
// suffices per read direction.
type Reassembler struct {
	sizes    FrameSizes
	active   bool
	expected streamHeaderBody
	got      uint32
	buf      []byte
}

// NewReassembler returns a reassembler bounded by the given frame sizes.
func NewReassembler(sizes FrameSizes) *Reassembler {
	return &Reassembler{sizes: sizes}
}

// Header begins a new stream. Returns ErrFragmentCapExceeded (without
// mutating state) if the declared fragment count overflows the cap --
// the caller rejects this stream but keeps the connection open.
func (r *Reassembler) Header(h streamHeaderBody) error {
	if h.numFragments > r.sizes.FragmentCap() {
		return ErrFragmentCapExceeded
	}
	r.active = true
	r.expected = h
	r.got = 0
	r.buf = make([]byte, 0, h.totalLen)
	return nil
}

// HeaderFromBody decodes a raw stream-header frame body and begins the
// stream it describes.
func (r *Reassembler) HeaderFromBody(body []byte) error {
	h, err := decodeStreamHeader(body)
	if err != nil {
		return err
	}
	return r.Header(h)
}

// Fragment appends one fragment. Returns the reassembled payload and true
// once the declared fragment count has been received. Returns
// ErrFragmentCapExceeded if a fragment arrives after the declared count
// was already reached without a new Header -- a peer streaming more
// fragments than it announced.
func (r *Reassembler) Fragment(body []byte) (payload []byte, done bool, err error) {
	if !r.active {
		return nil, false, fmt.Errorf("wire: fragment received with no active stream")
	}
	if r.got >= r.expected.numFragments {
		r.reset()
		return nil, false, ErrFragmentCapExceeded
	}
	r.buf = append(r.buf, body...)
	r.got++
	if r.got < r.expected.numFragments {
		return nil, false, nil
	}
	out := r.buf
	// Stay active with got == numFragments so that a fragment beyond the
	// declared count hits the cap check above until the next Header.
	r.buf = nil
	return out, true, nil
}

func (r *Reassembler) reset() {
	r.active = false
	r.buf = nil
	r.expected = streamHeaderBody{}
	r.got = 0
}
