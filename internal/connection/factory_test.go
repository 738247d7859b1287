package connection

import (
	"context"
	"testing"

	"github.com/geovex/mtclient"
	"github.com/geovex/mtclient/internal/async"
	"github.com/geovex/mtclient/internal/mtproto"
	"go.uber.org/zap"
)

type fakeDH struct{ observers []mtclient.DHObserver }

func (f *fakeDH) State() mtclient.DHState { return mtclient.DHStateNone }
func (f *fakeDH) Subscribe(o mtclient.DHObserver) {
	f.observers = append(f.observers, o)
}
func (f *fakeDH) ServerSalt() uint64 { return 0 }
func (f *fakeDH) AuthKey() []byte    { return nil }

type fakeRPC struct{}

func (fakeRPC) StartNewSession()                                    {}
func (fakeRPC) SetServerSalt(uint64)                                {}
func (fakeRPC) SetSessionData(sessionID uint64, contentMsgCount uint32) {}
func (fakeRPC) SendRPC(op mtclient.RPCOperation) (int64, error)     { return 0, nil }
func (fakeRPC) SetAppInformation(info mtclient.AppInfo)             {}
func (fakeRPC) InstallUpdatesHandler(h mtclient.UpdatesHandler)     {}
func (fakeRPC) HandleIncoming(payload []byte)                       {}

func TestFactoryBuildsAConnectionPerDcOption(t *testing.T) {
	loop := async.NewLoop()
	var builtDH []mtclient.DcOption
	var builtRPC []mtclient.DcOption

	factory := NewFactory(
		zap.NewNop(),
		loop,
		&fakeDialer{},
		mtclient.SessionAbridged,
		nil,
		func(opt mtclient.DcOption, sender *mtproto.Sender) mtclient.DHLayer {
			builtDH = append(builtDH, opt)
			return &fakeDH{}
		},
		func(opt mtclient.DcOption, sender *mtproto.Sender) mtclient.RPCLayer {
			builtRPC = append(builtRPC, opt)
			return fakeRPC{}
		},
	)

	conn, err := factory.NewConnection(context.Background(), mtclient.DcOption{DCID: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn == nil {
		t.Fatalf("expected a connection")
	}
	if len(builtDH) != 1 || builtDH[0].DCID != 2 {
		t.Fatalf("expected DH layer built for dc 2, got %+v", builtDH)
	}
	if len(builtRPC) != 1 || builtRPC[0].DCID != 2 {
		t.Fatalf("expected RPC layer built for dc 2, got %+v", builtRPC)
	}
	if conn.Status() != mtclient.ConnectionDisconnected {
		t.Fatalf("expected a fresh connection to start Disconnected, got %v", conn.Status())
	}
}

func TestFactoryPrefersObfuscatedWhenDcOptionRequiresIt(t *testing.T) {
	loop := async.NewLoop()
	factory := NewFactory(
		zap.NewNop(),
		loop,
		&fakeDialer{},
		mtclient.SessionAbridged,
		nil,
		func(mtclient.DcOption, *mtproto.Sender) mtclient.DHLayer { return &fakeDH{} },
		func(mtclient.DcOption, *mtproto.Sender) mtclient.RPCLayer { return fakeRPC{} },
	)

	conn, err := factory.NewConnection(context.Background(), mtclient.DcOption{DCID: 2, Obfuscated: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	impl, ok := conn.(*Connection)
	if !ok {
		t.Fatalf("expected *Connection")
	}
	if impl.sessionType != mtclient.SessionObfuscated {
		t.Fatalf("expected obfuscated session type, got %v", impl.sessionType)
	}
}
