package omx

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pion/rtp"
)

// packetRecorder keeps each Write as one datagram.
type packetRecorder struct {
	packets [][]byte
}

func (r *packetRecorder) Write(p []byte) (int, error) {
	r.packets = append(r.packets, append([]byte(nil), p...))
	return len(p), nil
}

func (r *packetRecorder) parse(t *testing.T) []*rtp.Packet {
	t.Helper()
	out := make([]*rtp.Packet, len(r.packets))
	for i, raw := range r.packets {
		out[i] = &rtp.Packet{}
		if err := out[i].Unmarshal(raw); err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
	}
	return out
}

func TestRTPSink_Packetize(t *testing.T) {
	rec := &packetRecorder{}
	sink, err := NewRTPSink(RTPSinkConfig{Writer: rec, SSRC: 0x1234, FrameInterval: 3000})
	if err != nil {
		t.Fatal(err)
	}

	image := bytes.Repeat([]byte{0xab}, 3000)
	if _, err := sink.Write(image[:1000]); err != nil {
		t.Fatal(err)
	}
	if _, err := sink.Write(image[1000:]); err != nil {
		t.Fatal(err)
	}
	if len(rec.packets) != 0 {
		t.Fatal("packets sent before EndFrame")
	}
	if err := sink.EndFrame(); err != nil {
		t.Fatal(err)
	}

	pkts := rec.parse(t)
	payloadSize := DefaultMTU - rtpHeaderSize
	if want := (len(image) + payloadSize - 1) / payloadSize; len(pkts) != want {
		t.Fatalf("got %d packets, want %d", len(pkts), want)
	}
	var payload []byte
	for i, p := range pkts {
		if p.PayloadType != DefaultRTPPayloadType || p.SSRC != 0x1234 {
			t.Errorf("packet %d: pt %d ssrc %x", i, p.PayloadType, p.SSRC)
		}
		if p.Marker != (i == len(pkts)-1) {
			t.Errorf("packet %d: marker %v", i, p.Marker)
		}
		if p.Timestamp != pkts[0].Timestamp {
			t.Errorf("packet %d: timestamp %d, want %d", i, p.Timestamp, pkts[0].Timestamp)
		}
		if i > 0 && p.SequenceNumber != pkts[i-1].SequenceNumber+1 {
			t.Errorf("packet %d: sequence %d after %d", i, p.SequenceNumber, pkts[i-1].SequenceNumber)
		}
		if len(rec.packets[i]) > DefaultMTU {
			t.Errorf("packet %d is %d bytes", i, len(rec.packets[i]))
		}
		payload = append(payload, p.Payload...)
	}
	if !bytes.Equal(payload, image) {
		t.Error("reassembled payload differs")
	}

	first := pkts[0].Timestamp
	if _, err := sink.Write([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := sink.EndFrame(); err != nil {
		t.Fatal(err)
	}
	last := rec.parse(t)[len(rec.packets)-1]
	if last.Timestamp != first+3000 || !last.Marker {
		t.Errorf("second image: timestamp %d marker %v, want %d and true", last.Timestamp, last.Marker, first+3000)
	}

	packets, frames := sink.Stats()
	if packets != len(rec.packets) || frames != 2 {
		t.Errorf("Stats = %d packets %d frames", packets, frames)
	}
}

func TestRTPSink_Close(t *testing.T) {
	rec := &packetRecorder{}
	sink, err := NewRTPSink(RTPSinkConfig{Writer: rec})
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.EndFrame(); err != nil {
		t.Fatal(err)
	}
	if len(rec.packets) != 0 {
		t.Error("empty image sent packets")
	}
	if _, err := sink.Write([]byte("tail")); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	if len(rec.packets) != 1 {
		t.Errorf("Close sent %d packets, want 1", len(rec.packets))
	}
	if err := sink.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := sink.Write([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after Close = %v, want ErrClosed", err)
	}
}

func TestNewRTPSink_Invalid(t *testing.T) {
	if _, err := NewRTPSink(RTPSinkConfig{}); err == nil {
		t.Error("sink without a destination accepted")
	}
	if _, err := NewRTPSink(RTPSinkConfig{Writer: &packetRecorder{}, MTU: rtpHeaderSize}); err == nil {
		t.Error("MTU without room for payload accepted")
	}
}

func TestEncode_ToRTP(t *testing.T) {
	core := newTestCore(t)
	in := Geometry{Width: 64, Height: 48, Color: Color24bitBGR888}
	src, err := NewPatternSource(PatternConfig{Width: in.Width, Height: in.Height, Color: in.Color})
	if err != nil {
		t.Fatal(err)
	}
	rec := &packetRecorder{}
	sink, err := NewRTPSink(RTPSinkConfig{Writer: rec, MTU: 200})
	if err != nil {
		t.Fatal(err)
	}

	res, err := (&Encode{Options: testOptions(core), Input: in}).Run(testContext(t), src, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	_, frames := sink.Stats()
	if frames != 1 {
		t.Errorf("frames = %d, want 1", frames)
	}
	var total int
	for _, p := range rec.parse(t) {
		total += len(p.Payload)
	}
	if int64(total) != res.BytesOut {
		t.Errorf("sent %d payload bytes, encoder produced %d", total, res.BytesOut)
	}
}
