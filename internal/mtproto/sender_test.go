package mtproto

import (
	"testing"
	"time"

	"github.com/geovex/mtclient"
)

func TestNewMessageIDClearsLowBitsForContent(t *testing.T) {
	s := New(nil)
	id := s.NewMessageID(mtclient.MessageIDContent)
	if id&3 != 0 {
		t.Fatalf("expected low two bits clear, got %x", id&3)
	}
}

func TestNewMessageIDTagsResponseMode(t *testing.T) {
	s := New(nil)
	id := s.NewMessageID(mtclient.MessageIDResponse)
	if id&3 != 1 {
		t.Fatalf("expected low bits == 01, got %x", id&3)
	}
}

func TestNewMessageIDStrictlyIncreasing(t *testing.T) {
	frozen := time.Now()
	s := New(nil)
	s.now = func() time.Time { return frozen }

	var last int64
	for i := 0; i < 5; i++ {
		id := s.NewMessageID(mtclient.MessageIDContent)
		if id <= last {
			t.Fatalf("expected strictly increasing ids, got %d after %d", id, last)
		}
		last = id
	}
}

func TestDeltaTimeShiftsMessageID(t *testing.T) {
	frozen := time.Now()
	s1 := New(nil)
	s1.now = func() time.Time { return frozen }
	id1 := s1.NewMessageID(mtclient.MessageIDContent)

	s2 := New(nil)
	s2.now = func() time.Time { return frozen }
	s2.SetDeltaTime(3600)
	id2 := s2.NewMessageID(mtclient.MessageIDContent)

	if id2 <= id1 {
		t.Fatalf("expected a positive delta time to push the message id forward")
	}
}

func TestSendPackageFailsWithoutTransport(t *testing.T) {
	s := New(nil)
	if err := s.SendPackage([]byte{1, 2, 3, 4}); err == nil {
		t.Fatalf("expected an error when no transport is bound")
	}
}
