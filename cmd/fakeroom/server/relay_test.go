package server

import (
	"errors"
	"io"
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Helper Functions ---

// mockRTPSource yields packets one at a time, then err.
type mockRTPSource struct {
	packets []*rtp.Packet
	err     error
}

func (m *mockRTPSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if len(m.packets) == 0 {
		return nil, nil, m.err
	}
	p := m.packets[0]
	m.packets = m.packets[1:]
	return p, nil, nil
}

// mockRTPSink records written packets and fails the writes listed in fail.
type mockRTPSink struct {
	written []*rtp.Packet
	fail    map[uint16]bool
}

func (m *mockRTPSink) WriteRTP(p *rtp.Packet) error {
	if m.fail[p.SequenceNumber] {
		return io.ErrClosedPipe
	}
	m.written = append(m.written, p)
	return nil
}

type mockRTCPSource struct {
	batches [][]rtcp.Packet
	reads   int
}

func (m *mockRTCPSource) ReadRTCP() ([]rtcp.Packet, interceptor.Attributes, error) {
	m.reads++
	if len(m.batches) == 0 {
		return nil, nil, io.EOF
	}
	b := m.batches[0]
	m.batches = m.batches[1:]
	return b, nil, nil
}

func generatePackets(ssrc uint32, count int) []*rtp.Packet {
	packets := make([]*rtp.Packet, count)
	for i := range packets {
		packets[i] = &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    vp8PayloadType,
				SequenceNumber: uint16(1000 + i),
				Timestamp:      uint32(90000 + i*3000), // 30fps-ish
				SSRC:           ssrc,
			},
			Payload: make([]byte, 1000),
		}
	}
	return packets
}

// --- Tests ---

func TestForward_CopiesUntilEOF(t *testing.T) {
	src := &mockRTPSource{packets: generatePackets(0x1234, 50), err: io.EOF}
	sink := &mockRTPSink{}

	stats, err := forward(src, sink)
	require.NoError(t, err)

	assert.Equal(t, 50, stats.Packets)
	assert.Equal(t, 0, stats.WriteErrors)
	require.Len(t, sink.written, 50)
	for i, p := range sink.written {
		assert.Equal(t, uint16(1000+i), p.SequenceNumber, "packets must keep their order")
	}
}

func TestForward_SkipsFailedWrites(t *testing.T) {
	src := &mockRTPSource{packets: generatePackets(0x1234, 10), err: io.EOF}
	sink := &mockRTPSink{fail: map[uint16]bool{1002: true, 1005: true}}

	stats, err := forward(src, sink)
	require.NoError(t, err)

	assert.Equal(t, 10, stats.Packets)
	assert.Equal(t, 2, stats.WriteErrors)
	assert.Len(t, sink.written, 8)
}

func TestForward_ReturnsReadError(t *testing.T) {
	readErr := errors.New("srtp: replay")
	src := &mockRTPSource{packets: generatePackets(0x1234, 3), err: readErr}

	stats, err := forward(src, &mockRTPSink{})
	assert.ErrorIs(t, err, readErr)
	assert.Equal(t, 3, stats.Packets)
}

func TestWantsKeyframe(t *testing.T) {
	tests := []struct {
		name string
		pkts []rtcp.Packet
		want bool
	}{
		{"empty", nil, false},
		{"receiver report", []rtcp.Packet{&rtcp.ReceiverReport{SSRC: 1}}, false},
		{"nack", []rtcp.Packet{&rtcp.TransportLayerNack{MediaSSRC: 1}}, false},
		{"pli", []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: 1}}, true},
		{"fir", []rtcp.Packet{&rtcp.FullIntraRequest{MediaSSRC: 1}}, true},
		{"compound with pli", []rtcp.Packet{
			&rtcp.ReceiverReport{SSRC: 1},
			&rtcp.PictureLossIndication{MediaSSRC: 1},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, wantsKeyframe(tt.pkts))
		})
	}
}

func TestWantsKeyframe_FromWire(t *testing.T) {
	raw, err := rtcp.Marshal([]rtcp.Packet{
		&rtcp.ReceiverReport{SSRC: 7},
		&rtcp.PictureLossIndication{SenderSSRC: 7, MediaSSRC: 42},
	})
	require.NoError(t, err)

	pkts, err := rtcp.Unmarshal(raw)
	require.NoError(t, err)
	assert.True(t, wantsKeyframe(pkts))
}

func TestRelayKeyframeRequests_StopsAtEOF(t *testing.T) {
	src := &mockRTCPSource{batches: [][]rtcp.Packet{
		{&rtcp.ReceiverReport{SSRC: 1}},
		{&rtcp.PictureLossIndication{MediaSSRC: 1}},
	}}
	// No SSRC yet: the keyframe request is dropped without touching the
	// (absent) peer connection.
	publisher := newMember("alice", nil, nil)

	relayKeyframeRequests(src, publisher)
	assert.Equal(t, 3, src.reads)
}

func TestNewAPI(t *testing.T) {
	api, err := newAPI()
	require.NoError(t, err)

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	require.NoError(t, pc.Close())
}
