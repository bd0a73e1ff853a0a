package server

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Only VP8 is negotiated, so a member's forwarding track can be created
// before their camera track arrives and late joiners never wait on it.
var vp8Capability = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypeVP8,
	ClockRate: 90000,
	RTCPFeedback: []webrtc.RTCPFeedback{
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
		{Type: "ccm", Parameter: "fir"},
	},
}

const vp8PayloadType = 96

// newAPI builds a pion API with a VP8-only media engine, NACK generation
// and response, and RTCP sender/receiver reports.
func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: vp8Capability,
		PayloadType:        vp8PayloadType,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("failed to register VP8: %w", err)
	}

	i := &interceptor.Registry{}

	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create NACK generator: %w", err)
	}
	i.Add(generator)

	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create NACK responder: %w", err)
	}
	i.Add(responder)

	if err := webrtc.ConfigureRTCPReports(i); err != nil {
		return nil, fmt.Errorf("failed to configure RTCP reports: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
	), nil
}

type rtpSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type rtpSink interface {
	WriteRTP(p *rtp.Packet) error
}

// forwardStats counts what forward did.
type forwardStats struct {
	Packets     int
	WriteErrors int
}

// forward copies packets from src to dst until src ends. A failed write
// only affects one subscriber binding, so it is counted and skipped.
func forward(src rtpSource, dst rtpSink) (forwardStats, error) {
	var stats forwardStats
	for {
		pkt, _, err := src.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return stats, nil
			}
			return stats, err
		}
		stats.Packets++
		if err := dst.WriteRTP(pkt); err != nil {
			stats.WriteErrors++
		}
	}
}

// wantsKeyframe reports whether a subscriber's RTCP asks for a keyframe.
func wantsKeyframe(pkts []rtcp.Packet) bool {
	for _, p := range pkts {
		switch p.(type) {
		case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
			return true
		}
	}
	return false
}

type rtcpSource interface {
	ReadRTCP() ([]rtcp.Packet, interceptor.Attributes, error)
}

// relayKeyframeRequests reads a subscriber's RTCP for publisher's stream
// and turns keyframe requests into a PLI towards the publisher. Reading
// also keeps the sender's interceptors running.
func relayKeyframeRequests(src rtcpSource, publisher *member) {
	for {
		pkts, _, err := src.ReadRTCP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("RTCP read for %s ended: %v", publisher.username, err)
			}
			return
		}
		if wantsKeyframe(pkts) {
			publisher.requestKeyframe()
		}
	}
}
