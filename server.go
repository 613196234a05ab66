package main

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	kcp "github.com/xtaci/kcp-go"
	"google.golang.org/grpc"

	"github.com/gonet2/agent/admin"
	"github.com/gonet2/agent/client_handler"
	"github.com/gonet2/agent/logic"
	"github.com/gonet2/agent/misc/crypto/keystore"
	"github.com/gonet2/agent/misc/crypto/xorpad"
	"github.com/gonet2/agent/misc/protocol"
	"github.com/gonet2/agent/services"
)

// server holds everything shared by the agent goroutines.
type server struct {
	opts      options
	cfg       *Config
	registry  *protocol.Registry
	keys      *keystore.Store
	bootstrap *xorpad.Pad
	env       *client_handler.Env
	queue     *logic.Queue
	relay     *logic.Relay
	presence  services.Presence
	store     *services.BoltStore

	conns    sync.Map // uid -> *agentConn
	sessions atomic.Int64
	started  time.Time

	ctx    context.Context
	cancel context.CancelFunc

	listeners []*kcp.Listener
	grpcSrv   *grpc.Server
	httpSrv   *http.Server
	closers   []func() error
}

func newServer(opts options, cfg *Config) (*server, error) {
	srv := &server{opts: opts, cfg: cfg, started: time.Now()}
	srv.ctx, srv.cancel = context.WithCancel(context.Background())
	if err := srv.init(); err != nil {
		srv.close()
		return nil, err
	}
	return srv, nil
}

func (srv *server) init() error {
	cfg := srv.cfg
	var err error
	if srv.registry, err = protocol.Load(cfg.Manifest); err != nil {
		return err
	}
	if srv.keys, err = keystore.Load(cfg.Keys); err != nil {
		return err
	}
	if srv.bootstrap, err = cfg.bootstrapPad(); err != nil {
		return err
	}
	messages, err := cfg.messages()
	if err != nil {
		return err
	}
	if srv.store, err = services.OpenBoltStore(cfg.DB); err != nil {
		return err
	}
	srv.closers = append(srv.closers, srv.store.Close)

	if len(cfg.Etcd.Endpoints) > 0 {
		p, err := services.NewEtcdPresence(srv.ctx, cfg.Etcd.Endpoints, cfg.Etcd.Root, cfg.Etcd.TTL)
		if err != nil {
			return err
		}
		srv.presence = p
		srv.closers = append(srv.closers, p.Close)
	} else {
		srv.presence = services.NewMemoryPresence()
	}

	languages := services.NewLanguageCache(time.Duration(cfg.LanguageTTLSec)*time.Second, srv.store)
	srv.queue = logic.NewQueue(srv.opts.queueSize)
	srv.relay = logic.NewRelay()
	srv.env = &client_handler.Env{
		Handshake: &client_handler.Handshaker{
			Keys:      srv.keys,
			Allowed:   cfg.allowedKeys(srv.keys),
			Accounts:  srv.store,
			Presence:  srv.presence,
			Languages: languages,
			Messages:  messages,
			Versions:  srv.registry,
		},
		Queue:     srv.queue,
		Players:   srv.store,
		Immediate: cfg.immediateSet(),
	}
	return nil
}

// start launches the simulation, the admin endpoints and the kcp listeners.
func (srv *server) start() error {
	go func() {
		if err := logic.Run(srv.ctx, srv.queue, srv.relay); err != nil && srv.ctx.Err() == nil {
			log.Error("logic: ", err)
		}
	}()
	go logic.RunTicker(srv.ctx, srv.queue, srv.opts.tick)

	if srv.opts.adminListen != "" {
		lis, err := net.Listen("tcp", srv.opts.adminListen)
		if err != nil {
			return errors.Wrap(err, "admin listen")
		}
		srv.grpcSrv = grpc.NewServer()
		admin.RegisterCommander(srv.grpcSrv, &admin.Commander{Server: srv, Queue: srv.queue})
		go srv.grpcSrv.Serve(lis)
		log.Info("admin listening on: ", lis.Addr())
	}
	if srv.opts.httpListen != "" {
		srv.httpSrv = &http.Server{Addr: srv.opts.httpListen, Handler: admin.NewRouter(srv)}
		go func() {
			if err := srv.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("http: ", err)
			}
		}()
	}

	for i := 0; i < srv.opts.sockets; i++ {
		l, err := srv.listen()
		if err != nil {
			return err
		}
		srv.listeners = append(srv.listeners, l)
		go srv.acceptLoop(l)
	}
	log.WithFields(log.Fields{
		"listen":  srv.opts.listen,
		"sockets": srv.opts.sockets,
		"region":  srv.cfg.Region,
		"keys":    srv.keys.IDs(),
	}).Info("agent started")
	return nil
}

func (srv *server) listen() (*kcp.Listener, error) {
	pc, err := listenPacket(srv.ctx, srv.opts.listen)
	if err != nil {
		return nil, errors.Wrap(err, "listen udp")
	}
	l, err := kcp.ServeConn(nil, 0, 0, pc)
	if err != nil {
		pc.Close()
		return nil, errors.Wrap(err, "kcp serve")
	}
	if err := l.SetReadBuffer(srv.opts.sockbuf); err != nil {
		log.Warning("SetReadBuffer: ", err)
	}
	if err := l.SetWriteBuffer(srv.opts.sockbuf); err != nil {
		log.Warning("SetWriteBuffer: ", err)
	}
	if srv.opts.dscp > 0 {
		if err := l.SetDSCP(srv.opts.dscp); err != nil {
			log.Warning("SetDSCP: ", err)
		}
	}
	return l, nil
}

func (srv *server) acceptLoop(l *kcp.Listener) {
	for {
		conn, err := l.AcceptKCP()
		if err != nil {
			select {
			case <-die:
			default:
				log.Warning("accept failed: ", err)
			}
			return
		}
		// set kcp parameters
		conn.SetWindowSize(srv.opts.sndwnd, srv.opts.rcvwnd)
		conn.SetNoDelay(srv.opts.nodelay, srv.opts.interval, srv.opts.resend, srv.opts.nc)
		conn.SetStreamMode(false)
		conn.SetMtu(srv.opts.mtu)

		ac := newAgentConn(srv, conn, conn.GetConv())
		srv.sessions.Add(1)
		wg.Add(1)
		go ac.serve()
	}
}

// wait blocks until shutdown is requested, then drains every connection.
func (srv *server) wait() {
	<-die
	log.Info("agent shutting down")
	for _, l := range srv.listeners {
		l.Close()
	}
	if srv.grpcSrv != nil {
		srv.grpcSrv.Stop()
	}
	if srv.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		srv.httpSrv.Shutdown(ctx)
		cancel()
	}
	wg.Wait()
	srv.close()
}

func (srv *server) close() {
	srv.cancel()
	for i := len(srv.closers) - 1; i >= 0; i-- {
		if err := srv.closers[i](); err != nil {
			log.Warning("close: ", err)
		}
	}
	srv.closers = nil
}

// admin.Server

func (srv *server) Info() admin.ServerInfo {
	now := time.Now()
	return admin.ServerInfo{
		Service:   "agent",
		StartTime: srv.started.Unix(),
		Uptime:    int64(now.Sub(srv.started) / time.Second),
		Sessions:  int(srv.sessions.Load()),
		Online:    srv.presence.Count(),
		QueueLen:  srv.queue.Len(),
		Versions:  srv.registry.Versions(),
		KeyIDs:    srv.keys.IDs(),
		Region:    srv.cfg.Region,
	}
}

func (srv *server) Kick(uid uint32, reason string) bool {
	v, ok := srv.conns.Load(uid)
	if !ok {
		return false
	}
	ac := v.(*agentConn)
	if ac.Closed() {
		return false
	}
	ac.kick(KICK_REASON_ADMIN, reason)
	log.WithFields(ac.sess.LogFields()).Info("kicked: ", reason)
	return true
}

func (srv *server) Stop() { shutdown() }
