package dial

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewDialerPicksDirectWithoutSocks(t *testing.T) {
	d := NewDialer(zap.NewNop(), nil, nil, nil, false)
	if _, ok := d.(*DirectDialer); !ok {
		t.Fatalf("expected *DirectDialer, got %T", d)
	}
}

func TestNewDialerPicksSocksWhenConfigured(t *testing.T) {
	url := "127.0.0.1:9050"
	d := NewDialer(zap.NewNop(), &url, nil, nil, false)
	if _, ok := d.(*SocksDialer); !ok {
		t.Fatalf("expected *SocksDialer, got %T", d)
	}
}
