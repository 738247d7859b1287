package connection

import (
	"context"

	"github.com/geovex/mtclient"
	"github.com/geovex/mtclient/internal/async"
	"github.com/geovex/mtclient/internal/dial"
	"github.com/geovex/mtclient/internal/mtproto"
	"github.com/geovex/mtclient/internal/tgcrypt"
	"github.com/geovex/mtclient/internal/transport"
	"go.uber.org/zap"
)

// Factory is the concrete mtclient.ConnectionFactory: it wires a fresh
// Connection, its Transport, and the caller-supplied DHLayer/RPCLayer pair
// for one DcOption. A caller builds one Factory per client instance and
// hands it to the controller.
type Factory struct {
	logger      *zap.Logger
	loop        *async.Loop
	dialer      dial.DCDialer
	sessionType mtclient.SessionType
	secret      *tgcrypt.Secret
	newDH       func(opt mtclient.DcOption, sender *mtproto.Sender) mtclient.DHLayer
	newRPC      func(opt mtclient.DcOption, sender *mtproto.Sender) mtclient.RPCLayer
}

var _ mtclient.ConnectionFactory = &Factory{}

// NewFactory builds a Factory. newDH/newRPC are called once per
// NewConnection and must return a fresh DHLayer/RPCLayer bound to that
// connection — this package never shares key-exchange or RPC state across
// connections. Both closures receive the same freshly built *mtproto.Sender
// (C4) that NewConnection also threads into the Connection itself, matching
// ClientConnection.cpp's single SendPackageHelper shared by ClientDhLayer and
// ClientRpcLayer: a DHLayer/RPCLayer implementation that needs to assign
// message ids or transmit a frame directly uses this Sender rather than
// rolling its own.
func NewFactory(
	logger *zap.Logger,
	loop *async.Loop,
	dialer dial.DCDialer,
	sessionType mtclient.SessionType,
	secret *tgcrypt.Secret,
	newDH func(opt mtclient.DcOption, sender *mtproto.Sender) mtclient.DHLayer,
	newRPC func(opt mtclient.DcOption, sender *mtproto.Sender) mtclient.RPCLayer,
) *Factory {
	return &Factory{
		logger:      logger,
		loop:        loop,
		dialer:      dialer,
		sessionType: sessionType,
		secret:      secret,
		newDH:       newDH,
		newRPC:      newRPC,
	}
}

func (f *Factory) NewConnection(ctx context.Context, opt mtclient.DcOption) (mtclient.Connection, error) {
	sender := mtproto.New(nil)
	dh := f.newDH(opt, sender)
	rpc := f.newRPC(opt, sender)

	sessionType := f.sessionType
	if opt.Obfuscated {
		sessionType = mtclient.SessionObfuscated
	}

	conn := New(f.logger, f.loop, f.dialer, dh, rpc, sessionType, f.secret, sender)
	conn.SetDCOption(opt)
	conn.SetTransport(transport.New(f.logger, transport.SessionType(sessionType)))
	return conn, nil
}
