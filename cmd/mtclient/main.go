// Command mtclient is a minimal demonstration entrypoint: it reads a TOML
// config, wires the connection controller, and logs every status
// transition until the process is interrupted. It stands in for the
// teacher's listenForConnections loop (cmd/tgp), adapted from "accept
// inbound proxy clients" to "drive one outbound client session".
//
// Key exchange and RPC encoding (DHLayer/RPCLayer) are external
// collaborators this library only observes and drives; the stub
// implementations below exist solely so this command links and runs, not
// as part of the library's own obligations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/geovex/mtclient"
	"github.com/geovex/mtclient/internal/async"
	"github.com/geovex/mtclient/internal/config"
	"github.com/geovex/mtclient/internal/connection"
	"github.com/geovex/mtclient/internal/controller"
	"github.com/geovex/mtclient/internal/dial"
	"github.com/geovex/mtclient/internal/metrics"
	"github.com/geovex/mtclient/internal/mtproto"
	"go.uber.org/zap"
)

// memoryAccountStorage is an in-process stand-in for AccountStorage; a
// real caller would back this with a file or database so a session
// survives a restart.
type memoryAccountStorage struct {
	mu        sync.Mutex
	authKey   []byte
	sessionID uint64
	dc        mtclient.DcOption
}

func (s *memoryAccountStorage) AuthKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authKey
}
func (s *memoryAccountStorage) SessionID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}
func (s *memoryAccountStorage) ContentRelatedMessagesNumber() uint32 { return 0 }
func (s *memoryAccountStorage) DCInfo() mtclient.DcOption {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dc
}
func (s *memoryAccountStorage) DeltaTime() int32 { return 0 }
func (s *memoryAccountStorage) HasMinimalDataSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.authKey) > 0
}
func (s *memoryAccountStorage) PersistAuthKey(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authKey = key
	return nil
}
func (s *memoryAccountStorage) PersistSessionID(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
	return nil
}

// memoryServerConfig resolves a ConnectionSpec against the static server
// list the settings file carries.
type memoryServerConfig struct {
	servers []mtclient.DcOption
}

func (m *memoryServerConfig) GetOption(spec mtclient.ConnectionSpec) (mtclient.DcOption, bool) {
	for _, opt := range m.servers {
		if opt.DCID == spec.DCID && opt.MediaOnly == spec.MediaOnly {
			return opt, true
		}
	}
	for _, opt := range m.servers {
		if opt.DCID == spec.DCID {
			return opt, true
		}
	}
	return mtclient.DcOption{}, false
}

type memoryDataStorage struct {
	cfg *memoryServerConfig
}

func (m *memoryDataStorage) ServerConfiguration() mtclient.ServerConfigProvider { return m.cfg }

// stubDH is a placeholder DHLayer: a real caller supplies one that
// actually runs req_pq/req_DH_params against the DC. It never leaves
// DHStateNone, so a connection built with it will sit at Connected until
// a real implementation is substituted.
type stubDH struct {
	observers []mtclient.DHObserver
}

func (d *stubDH) State() mtclient.DHState { return mtclient.DHStateNone }
func (d *stubDH) Subscribe(o mtclient.DHObserver) {
	d.observers = append(d.observers, o)
}
func (d *stubDH) ServerSalt() uint64 { return 0 }
func (d *stubDH) AuthKey() []byte    { return nil }

// stubRPC is a placeholder RPCLayer; see stubDH.
type stubRPC struct{ logger *zap.Logger }

func (r stubRPC) StartNewSession()                                     {}
func (r stubRPC) SetServerSalt(uint64)                                 {}
func (r stubRPC) SetSessionData(sessionID uint64, contentMsgCount uint32) {}
func (r stubRPC) SendRPC(op mtclient.RPCOperation) (int64, error)      { return 0, nil }
func (r stubRPC) SetAppInformation(info mtclient.AppInfo)              {}
func (r stubRPC) InstallUpdatesHandler(h mtclient.UpdatesHandler)      {}
func (r stubRPC) HandleIncoming(payload []byte)                        {}

type logObserver struct{ logger *zap.Logger }

func (o *logObserver) OnControllerStatusChanged(status mtclient.ControllerStatus, reason mtclient.StatusReason) {
	o.logger.Info("controller status changed", zap.String("status", status.String()))
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var cfg *config.Config
	if len(os.Args) > 1 {
		cfg, err = config.ReadConfig(os.Args[1])
		if err != nil {
			logger.Fatal("failed to read config", zap.Error(err))
		}
	} else {
		fmt.Println("no config path given, using built-in defaults")
		cfg = config.DefaultConfig()
	}
	if !cfg.IsValid() {
		logger.Fatal("config failed validation")
	}

	loop := async.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	dialer := dial.NewDialer(logger, proxyURL(cfg), proxyUser(cfg), proxyPass(cfg), cfg.GetAllowIPv6())

	factory := connection.NewFactory(
		logger,
		loop,
		dialer,
		cfg.PreferedSessionType(),
		nil,
		func(mtclient.DcOption, *mtproto.Sender) mtclient.DHLayer { return &stubDH{} },
		func(mtclient.DcOption, *mtproto.Sender) mtclient.RPCLayer { return stubRPC{logger: logger} },
	)

	m := metrics.New()
	accountStorage := &memoryAccountStorage{}
	dataStorage := &memoryDataStorage{cfg: &memoryServerConfig{servers: cfg.ServerConfiguration()}}

	ctrl := controller.New(logger, loop, m, accountStorage, dataStorage, cfg, factory)
	ctrl.Subscribe(&logObserver{logger: logger})

	if err := ctrl.ConnectToServer(ctx); err != nil {
		logger.Fatal("failed to start connecting", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctrl.DisconnectFromServer()
	logger.Info("metrics at shutdown", zap.String("summary", m.AsString()))
}

func proxyURL(cfg *config.Config) *string {
	if p := cfg.Proxy(); p != nil {
		return &p.Socks5URL
	}
	return nil
}

func proxyUser(cfg *config.Config) *string {
	if p := cfg.Proxy(); p != nil {
		return p.User
	}
	return nil
}

func proxyPass(cfg *config.Config) *string {
	if p := cfg.Proxy(); p != nil {
		return p.Password
	}
	return nil
}
