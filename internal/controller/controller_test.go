package controller

import (
	"context"
	"testing"
	"time"

	"github.com/geovex/mtclient"
	"github.com/geovex/mtclient/internal/async"
	"go.uber.org/zap"
)

type fakeSettings struct {
	servers []mtclient.DcOption
	valid   bool
}

func (f *fakeSettings) ServerConfiguration() []mtclient.DcOption  { return f.servers }
func (f *fakeSettings) ServerRSAKey() mtclient.RSAKey             { return mtclient.RSAKey{} }
func (f *fakeSettings) Proxy() *mtclient.DialSpec                 { return nil }
func (f *fakeSettings) PreferedSessionType() mtclient.SessionType { return mtclient.SessionAbridged }
func (f *fakeSettings) PingInterval() time.Duration               { return time.Hour }
func (f *fakeSettings) IsValid() bool                             { return f.valid }

type fakeAccountStorage struct{ minimal bool }

func (f *fakeAccountStorage) AuthKey() []byte                     { return nil }
func (f *fakeAccountStorage) SessionID() uint64                   { return 0 }
func (f *fakeAccountStorage) ContentRelatedMessagesNumber() uint32 { return 0 }
func (f *fakeAccountStorage) DCInfo() mtclient.DcOption            { return mtclient.DcOption{} }
func (f *fakeAccountStorage) DeltaTime() int32                    { return 0 }
func (f *fakeAccountStorage) HasMinimalDataSet() bool             { return f.minimal }
func (f *fakeAccountStorage) PersistAuthKey([]byte) error         { return nil }
func (f *fakeAccountStorage) PersistSessionID(uint64) error       { return nil }

type fakeServerConfigProvider struct{}

func (fakeServerConfigProvider) GetOption(spec mtclient.ConnectionSpec) (mtclient.DcOption, bool) {
	return mtclient.DcOption{DCID: spec.DCID}, spec.DCID != 0
}

type fakeDataStorage struct{}

func (fakeDataStorage) ServerConfiguration() mtclient.ServerConfigProvider {
	return fakeServerConfigProvider{}
}

type fakeConnection struct {
	status    mtclient.ConnectionStatus
	observers []mtclient.StatusObserver
	connectErr error
}

func (c *fakeConnection) SetServerRSAKey(mtclient.RSAKey)           {}
func (c *fakeConnection) SetDeltaTime(int32)                        {}
func (c *fakeConnection) SetAuthKey([]byte)                         {}
func (c *fakeConnection) AuthKey() []byte                           { return nil }
func (c *fakeConnection) ConnectToDC(ctx context.Context) error     { return c.connectErr }
func (c *fakeConnection) Disconnect()                                {}
func (c *fakeConnection) Status() mtclient.ConnectionStatus          { return c.status }
func (c *fakeConnection) ProcessSeeOthers(mtclient.PendingOperation) {}
func (c *fakeConnection) SendRPC(mtclient.RPCOperation) (int64, error) {
	return 1, nil
}
func (c *fakeConnection) Subscribe(obs mtclient.StatusObserver) {
	c.observers = append(c.observers, obs)
}
func (c *fakeConnection) SetSigned() {}
func (c *fakeConnection) emit(status mtclient.ConnectionStatus) {
	c.status = status
	for _, obs := range c.observers {
		obs.OnStatusChanged(status, mtclient.ReasonRemote)
	}
}

type fakeFactory struct {
	conns []*fakeConnection
	next  int
	err   error
}

func (f *fakeFactory) NewConnection(ctx context.Context, opt mtclient.DcOption) (mtclient.Connection, error) {
	if f.err != nil {
		return nil, f.err
	}
	c := f.conns[f.next%len(f.conns)]
	f.next++
	return c, nil
}

type statusRecorder struct {
	seen []mtclient.ControllerStatus
}

func (r *statusRecorder) OnControllerStatusChanged(status mtclient.ControllerStatus, reason mtclient.StatusReason) {
	r.seen = append(r.seen, status)
}

func newTestController(t *testing.T, factory *fakeFactory) (*Controller, *async.Loop, context.CancelFunc) {
	t.Helper()
	loop := async.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	settings := &fakeSettings{servers: []mtclient.DcOption{{DCID: 2}, {DCID: 4}}, valid: true}
	ctrl := New(zap.NewNop(), loop, nil, &fakeAccountStorage{}, fakeDataStorage{}, settings, factory)
	return ctrl, loop, cancel
}

func TestConnectToServerRejectsInvalidSettings(t *testing.T) {
	loop := async.NewLoop()
	ctrl := New(zap.NewNop(), loop, nil, &fakeAccountStorage{}, fakeDataStorage{}, &fakeSettings{valid: false}, &fakeFactory{})
	if err := ctrl.ConnectToServer(context.Background()); err == nil {
		t.Fatalf("expected an error for invalid settings")
	}
}

func TestConnectToServerProgressesToWaitForAuthentication(t *testing.T) {
	fc := &fakeConnection{status: mtclient.ConnectionDisconnected}
	factory := &fakeFactory{conns: []*fakeConnection{fc}}
	ctrl, _, cancel := newTestController(t, factory)
	defer cancel()

	rec := &statusRecorder{}
	ctrl.Subscribe(rec)

	if err := ctrl.ConnectToServer(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fc.emit(mtclient.ConnectionConnected)
	fc.emit(mtclient.ConnectionHasDhKey)

	deadline := time.After(time.Second)
	for ctrl.Status() != mtclient.ControllerWaitForAuthentication {
		select {
		case <-deadline:
			t.Fatalf("timed out, statuses seen: %v", rec.seen)
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestDisconnectFromServerTearsDownConnections(t *testing.T) {
	fc := &fakeConnection{status: mtclient.ConnectionSigned}
	factory := &fakeFactory{conns: []*fakeConnection{fc}}
	ctrl, _, cancel := newTestController(t, factory)
	defer cancel()

	ctrl.mu.Lock()
	ctrl.mainConn = fc
	ctrl.mu.Unlock()

	ctrl.DisconnectFromServer()
	if ctrl.Status() != mtclient.ControllerDisconnected {
		t.Fatalf("expected Disconnected, got %v", ctrl.Status())
	}
}

func TestCheckInRequiresMinimalDataSet(t *testing.T) {
	loop := async.NewLoop()
	ctrl := New(zap.NewNop(), loop, nil, &fakeAccountStorage{minimal: false}, fakeDataStorage{}, &fakeSettings{valid: true, servers: []mtclient.DcOption{{DCID: 2}}}, &fakeFactory{})
	if err := ctrl.CheckIn(context.Background()); err == nil {
		t.Fatalf("expected an error without a minimal stored data set")
	}
}

func TestEnsureConnectionUsesServerConfigProvider(t *testing.T) {
	fc := &fakeConnection{}
	factory := &fakeFactory{conns: []*fakeConnection{fc}}
	ctrl, _, cancel := newTestController(t, factory)
	defer cancel()

	conn, err := ctrl.EnsureConnection(context.Background(), mtclient.ConnectionSpec{DCID: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn == nil {
		t.Fatalf("expected a connection")
	}
}
