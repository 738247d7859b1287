package transport

import (
	"bytes"
	"testing"

	"go.uber.org/zap"
)

func TestEncodeAbridgedFrameShortForm(t *testing.T) {
	payload := bytes.Repeat([]byte{0xab}, 8)
	frame, err := EncodeAbridgedFrame(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame[0] != 2 {
		t.Fatalf("expected length byte 2, got %d", frame[0])
	}
	if !bytes.Equal(frame[1:], payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestEncodeAbridgedFrameLongForm(t *testing.T) {
	payload := make([]byte, 4*0x7f)
	frame, err := EncodeAbridgedFrame(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame[0] != 0x7f {
		t.Fatalf("expected extended header marker, got %x", frame[0])
	}
	words := uint32(frame[1]) | uint32(frame[2])<<8 | uint32(frame[3])<<16
	if words != 0x7f {
		t.Fatalf("expected word count 0x7f, got %x", words)
	}
}

// recordingObserver captures frames and the sequence of states/errors a
// Transport emits, for assertions in tests that don't need a real socket.
type recordingObserver struct {
	frames [][]byte
	states []State
	errs   []error
}

func (r *recordingObserver) OnPacketReceived(frame []byte) { r.frames = append(r.frames, frame) }
func (r *recordingObserver) OnStateChanged(s State)         { r.states = append(r.states, s) }
func (r *recordingObserver) OnError(kind ErrorKind, err error) { r.errs = append(r.errs, err) }
func (r *recordingObserver) OnTimeout()                     {}

func TestOnBytesReassemblesSingleFrameAcrossReads(t *testing.T) {
	tr := New(zap.NewNop(), SessionAbridged)
	obs := &recordingObserver{}
	tr.Subscribe(obs)
	tr.sessionType = SessionAbridged

	payload := bytes.Repeat([]byte{0x11, 0x22, 0x33, 0x44}, 3)
	frame, err := EncodeAbridgedFrame(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tr.onBytes(frame[:2])
	if len(obs.frames) != 0 {
		t.Fatalf("expected no complete frame yet, got %d", len(obs.frames))
	}
	tr.onBytes(frame[2:])
	if len(obs.frames) != 1 {
		t.Fatalf("expected exactly one complete frame, got %d", len(obs.frames))
	}
	if !bytes.Equal(obs.frames[0], payload) {
		t.Fatalf("reassembled frame mismatch")
	}
}

func TestOnBytesHandlesMultipleFramesInOneRead(t *testing.T) {
	tr := New(zap.NewNop(), SessionAbridged)
	obs := &recordingObserver{}
	tr.Subscribe(obs)
	tr.sessionType = SessionAbridged

	p1 := bytes.Repeat([]byte{0xaa}, 4)
	p2 := bytes.Repeat([]byte{0xbb}, 8)
	f1, _ := EncodeAbridgedFrame(p1)
	f2, _ := EncodeAbridgedFrame(p2)

	tr.onBytes(append(append([]byte{}, f1...), f2...))
	if len(obs.frames) != 2 {
		t.Fatalf("expected two frames, got %d", len(obs.frames))
	}
	if !bytes.Equal(obs.frames[0], p1) || !bytes.Equal(obs.frames[1], p2) {
		t.Fatalf("frame contents mismatch")
	}
}

func TestOnBytesRejectsBytesBeforeSessionTypeKnown(t *testing.T) {
	tr := New(zap.NewNop(), SessionUnknown)
	obs := &recordingObserver{}
	tr.Subscribe(obs)

	tr.onBytes([]byte{0x01, 0x00, 0x00, 0x00, 0x00})
	if len(obs.frames) != 0 {
		t.Fatalf("expected no frames to be emitted before session type is known")
	}
}

func TestSetCryptoSourceMakesCiphersComplementary(t *testing.T) {
	tr := New(zap.NewNop(), SessionUnknown)
	var material [64]byte
	for i := range material {
		material[i] = byte(i)
	}
	if err := tr.SetCryptoSource(material, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.readCipher == nil || tr.writeCipher == nil {
		t.Fatalf("expected both ciphers to be installed")
	}
	if tr.sessionType != SessionObfuscated {
		t.Fatalf("expected session type to switch to obfuscated")
	}

	plain := []byte("obfuscated handshake payload!!!")
	encoded := append([]byte{}, plain...)
	tr.writeCipher.Crypt(encoded)
	if bytes.Equal(encoded, plain) {
		t.Fatalf("expected write cipher to transform the buffer")
	}
}
