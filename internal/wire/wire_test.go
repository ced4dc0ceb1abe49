package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	msg := Message{
		Kind:       KindRPCRequestAndMetadata,
		ProtocolID: "consensus-observer",
		RequestID:  42,
		Payload:    []byte("hello"),
		Timestamps: Timestamps{ApplicationSendTime: &now},
	}

	enc, err := Encode(msg)
	require.NoError(t, err)

	dec, err := Decode(enc)
	require.NoError(t, err)
	require.Equal(t, msg.Kind, dec.Kind)
	require.Equal(t, msg.ProtocolID, dec.ProtocolID)
	require.Equal(t, msg.RequestID, dec.RequestID)
	require.Equal(t, msg.Payload, dec.Payload)
	require.NotNil(t, dec.Timestamps.ApplicationSendTime)
	require.Nil(t, dec.Timestamps.WireSendTime)
}

func TestMessageWithoutTimestampsRoundTripsAsAbsent(t *testing.T) {
	enc, err := Encode(Message{Kind: KindDirectSend, Payload: []byte("x")})
	require.NoError(t, err)

	dec, err := Decode(enc)
	require.NoError(t, err)
	require.Nil(t, dec.Timestamps.ApplicationSendTime)
	require.Nil(t, dec.Timestamps.WireSendTime)
}

func TestPlanSendSingleFrameWhenSmall(t *testing.T) {
	sizes := FrameSizes{MaxFrameSize: 1024, MaxMessageSize: 4096}
	frames, err := PlanSend(KindDirectSend, []byte("small"), sizes)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, KindDirectSend, frames[0].Kind)
}

func TestPlanSendFragmentsWhenLarge(t *testing.T) {
	sizes := FrameSizes{MaxFrameSize: 4, MaxMessageSize: 4 * 10}
	payload := []byte("0123456789") // 10 bytes -> 3 fragments of <=4

	frames, err := PlanSend(KindDirectSend, payload, sizes)
	require.NoError(t, err)
	require.Equal(t, KindStreamHeader, frames[0].Kind)
	require.Equal(t, 4, len(frames), "1 header + 3 fragments for 10 bytes at frame size 4")

	var reassembled []byte
	for _, f := range frames[1:] {
		reassembled = append(reassembled, f.Body...)
	}
	require.Equal(t, payload, reassembled)
}

func TestPlanSendRejectsWhenFragmentCapExceeded(t *testing.T) {
	sizes := FrameSizes{MaxFrameSize: 4, MaxMessageSize: 8} // cap = 2 fragments
	payload := []byte("0123456789")                        // needs 3

	_, err := PlanSend(KindDirectSend, payload, sizes)
	require.ErrorIs(t, err, ErrFragmentCapExceeded)
}

func TestMaxFrameEqualsMaxMessageAllowsOnlySingleFrame(t *testing.T) {
	sizes := FrameSizes{MaxFrameSize: 16, MaxMessageSize: 16}
	require.EqualValues(t, 1, sizes.FragmentCap())

	small := make([]byte, 10)
	frames, err := PlanSend(KindDirectSend, small, sizes)
	require.NoError(t, err)
	require.Len(t, frames, 1)

	big := make([]byte, 17)
	_, err = PlanSend(KindDirectSend, big, sizes)
	require.ErrorIs(t, err, ErrFragmentCapExceeded)
}

func TestReassemblerRoundTrip(t *testing.T) {
	sizes := FrameSizes{MaxFrameSize: 4, MaxMessageSize: 4 * 10}
	payload := []byte("abcdefghij")
	frames, err := PlanSend(KindDirectSend, payload, sizes)
	require.NoError(t, err)

	r := NewReassembler(sizes)
	require.NoError(t, r.HeaderFromBody(frames[0].Body))

	var out []byte
	var done bool
	for _, f := range frames[1:] {
		out, done, err = r.Fragment(f.Body)
		require.NoError(t, err)
	}
	require.True(t, done)
	require.Equal(t, payload, out)
}

func TestReassemblerRejectsOverflowAndSurvivesForNextMessage(t *testing.T) {
	// max_message_size = 4*max_frame_size as in spec.md §8 scenario 6.
	sizes := FrameSizes{MaxFrameSize: 4, MaxMessageSize: 16}
	r := NewReassembler(sizes)

	require.NoError(t, r.Header(streamHeaderBody{totalLen: 16, numFragments: 4}))
	for i := 0; i < 4; i++ {
		_, done, err := r.Fragment([]byte("abcd"))
		require.NoError(t, err)
		if i < 3 {
			require.False(t, done)
		} else {
			require.True(t, done)
		}
	}

	// A 5th fragment streamed beyond the declared count must be rejected,
	// not silently appended, and must not wedge the reassembler.
	require.NoError(t, r.Header(streamHeaderBody{totalLen: 16, numFragments: 4}))
	for i := 0; i < 4; i++ {
		_, _, err := r.Fragment([]byte("wxyz"))
		require.NoError(t, err)
	}
	_, _, err := r.Fragment([]byte("????"))
	require.ErrorIs(t, err, ErrFragmentCapExceeded)

	// Subsequent messages parse normally.
	require.NoError(t, r.Header(streamHeaderBody{totalLen: 4, numFragments: 1}))
	out, done, err := r.Fragment([]byte("ok!!"))
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, []byte("ok!!"), out)
}

func TestDecodeFrameRoundTrip(t *testing.T) {
	f := Frame{Kind: KindError, Body: []byte{1, 2, 3}}
	raw := f.Encode()

	dec, err := DecodeFrame(raw)
	require.NoError(t, err)
	require.Equal(t, f.Kind, dec.Kind)
	require.Equal(t, f.Body, dec.Body)
}
