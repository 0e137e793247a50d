package crux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	kinds := []Kind{KindData, KindHandshake, KindShutdown, KindKeepalive}
	for _, k := range kinds {
		h := Header{
			Kind:            k,
			Ack:             AckCumulative,
			RetransmitCount: 2,
			Secondary:       ProtocolVersion,
			Seq:             12345,
			AckSeq:          6789,
		}
		buf := h.Encode()
		got, err := DecodeHeader(buf[:])
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}
}

func TestHeaderRetransmitCountSaturates(t *testing.T) {
	h := Header{Kind: KindData, RetransmitCount: 200}
	buf := h.Encode()
	got, err := DecodeHeader(buf[:])
	require.NoError(t, err)
	assert.Equal(t, uint8(3), got.RetransmitCount)
}

func TestHeaderAckAbsentZeroesAckSeq(t *testing.T) {
	h := Header{Kind: KindData, Ack: AckNone, AckSeq: 999, Seq: 1}
	buf := h.Encode()
	got, err := DecodeHeader(buf[:])
	require.NoError(t, err)
	assert.Equal(t, Seq(0), got.AckSeq)
}

func TestDecodeHeaderShortBuffer(t *testing.T) {
	_, err := DecodeHeader(make([]byte, HeaderSize-1))
	assert.Error(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "DATA", KindData.String())
	assert.Equal(t, "HANDSHAKE", KindHandshake.String())
	assert.Contains(t, Kind(0x1234).String(), "Kind(0x")
}

func BenchmarkHeaderEncode(b *testing.B) {
	h := Header{Kind: KindData, Ack: AckCumulative, Seq: 1, AckSeq: 2}
	for i := 0; i < b.N; i++ {
		_ = h.Encode()
	}
}

func BenchmarkHeaderDecode(b *testing.B) {
	h := Header{Kind: KindData, Ack: AckCumulative, Seq: 1, AckSeq: 2}
	buf := h.Encode()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = DecodeHeader(buf[:])
	}
}
