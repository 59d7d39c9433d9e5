package omx

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"sync"

	"github.com/pion/rtp"
)

// RTP defaults for image output.
const (
	DefaultMTU            = 1200
	DefaultRTPPayloadType = 96
	rtpClockRate          = 90000
	rtpHeaderSize         = 12
)

// chunkPayloader splits an image into MTU-sized payloads with no payload
// header.
type chunkPayloader struct{}

func (chunkPayloader) Payload(mtu uint16, payload []byte) [][]byte {
	if mtu == 0 || len(payload) == 0 {
		return nil
	}
	out := make([][]byte, 0, (len(payload)+int(mtu)-1)/int(mtu))
	for len(payload) > 0 {
		n := min(int(mtu), len(payload))
		out = append(out, append([]byte(nil), payload[:n]...))
		payload = payload[n:]
	}
	return out
}

// RTPSinkConfig configures an RTPSink.
type RTPSinkConfig struct {
	Address     string // UDP destination, used when Writer is nil
	Writer      io.Writer
	PayloadType uint8 // Defaults to DefaultRTPPayloadType
	MTU         int   // Defaults to DefaultMTU
	SSRC        uint32
	// FrameInterval is the RTP timestamp step between images, in 90kHz ticks.
	FrameInterval uint32
}

// RTPSink collects one image at a time and sends it as RTP packets, the
// marker bit set on the last packet of each image.
type RTPSink struct {
	mu         sync.Mutex
	w          io.Writer
	conn       net.Conn
	packetizer rtp.Packetizer
	interval   uint32
	buf        []byte
	packets    int
	frames     int
	closed     bool
}

// NewRTPSink creates a sink writing to cfg.Writer, or dialing cfg.Address.
func NewRTPSink(cfg RTPSinkConfig) (*RTPSink, error) {
	if cfg.MTU <= 0 {
		cfg.MTU = DefaultMTU
	}
	if cfg.MTU <= rtpHeaderSize {
		return nil, fmt.Errorf("omx: rtp mtu %d too small", cfg.MTU)
	}
	if cfg.PayloadType == 0 {
		cfg.PayloadType = DefaultRTPPayloadType
	}
	if cfg.SSRC == 0 {
		cfg.SSRC = rand.Uint32()
	}
	if cfg.FrameInterval == 0 {
		cfg.FrameInterval = rtpClockRate
	}

	s := &RTPSink{w: cfg.Writer, interval: cfg.FrameInterval}
	if s.w == nil {
		if cfg.Address == "" {
			return nil, errors.New("omx: rtp sink needs an address or a writer")
		}
		conn, err := net.Dial("udp", cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("omx: rtp dial %s: %w", cfg.Address, err)
		}
		s.conn, s.w = conn, conn
	}
	s.packetizer = rtp.NewPacketizer(uint16(cfg.MTU), cfg.PayloadType, cfg.SSRC,
		chunkPayloader{}, rtp.NewRandomSequencer(), rtpClockRate)
	return s, nil
}

// Write buffers image bytes until EndFrame.
func (s *RTPSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// EndFrame sends the buffered image.
func (s *RTPSink) EndFrame() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.flush()
}

func (s *RTPSink) flush() error {
	if len(s.buf) == 0 {
		return nil
	}
	packets := s.packetizer.Packetize(s.buf, s.interval)
	s.buf = s.buf[:0]
	for _, pkt := range packets {
		raw, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("omx: rtp marshal: %w", err)
		}
		if _, err := s.w.Write(raw); err != nil {
			return fmt.Errorf("omx: rtp write: %w", err)
		}
		s.packets++
	}
	s.frames++
	return nil
}

// Stats returns the number of packets and images sent.
func (s *RTPSink) Stats() (packets, frames int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packets, s.frames
}

// Close sends any unterminated image and closes the connection it dialed.
func (s *RTPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.flush()
	if s.conn != nil {
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
