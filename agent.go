package main

import (
	"net"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gonet2/agent/client_handler"
	"github.com/gonet2/agent/misc/packet"
	"github.com/gonet2/agent/misc/protocol"
	. "github.com/gonet2/agent/types"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSendQueueFull = errors.New("send queue full")
)

// agentConn is one client connection. The simulation writes to it through
// logic.Conn; the agent goroutine owns reads and the session counters.
type agentConn struct {
	srv        *server
	sess       *Session
	conn       net.Conn
	writerDone chan struct{}
	registered bool // in srv.conns, agent goroutine only
}

func newAgentConn(srv *server, conn net.Conn, conv uint32) *agentConn {
	var addr net.Addr
	if conn != nil {
		addr = conn.RemoteAddr()
	}
	return &agentConn{
		srv:        srv,
		sess:       NewSession(addr, conv, srv.opts.txqueuelen),
		conn:       conn,
		writerDone: make(chan struct{}),
	}
}

func (ac *agentConn) UID() uint32 {
	uid, _ := ac.sess.UserID()
	return uid
}

// Send queues a server-initiated message.
func (ac *agentConn) Send(name string, msg protocol.Message) error {
	return ac.send(name, msg, &packet.PacketHead{SentMs: uint64(time.Now().UnixMilli())})
}

func (ac *agentConn) send(name string, msg protocol.Message, head *packet.PacketHead) error {
	if ac.sess.Closed() {
		return ErrSessionClosed
	}
	data, err := ac.srv.encode(ac.sess, name, msg, head)
	if err != nil {
		return err
	}
	if !ac.sess.Deliver(data) {
		return ErrSendQueueFull
	}
	return nil
}

func (ac *agentConn) Closed() bool { return ac.sess.Closed() }

func (ac *agentConn) Close() { ac.sess.Close() }

// kick notifies the client and closes the connection.
func (ac *agentConn) kick(reason uint32, text string) {
	ac.Send(client_handler.MsgPlayerKickNotify, protocol.Message{"reason": reason, "msg": text})
	ac.sess.SetFlag(SESS_KICKED_OUT)
	ac.sess.Close()
}

// PIPELINE #1: handleClient
// the goroutine is used for reading incoming PACKETS
// each packet is routed, replies go out through the session MQ
func (ac *agentConn) serve() {
	defer wg.Done()
	sess := ac.sess
	defer ac.cleanup()
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(sess.LogFields()).Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	log.WithFields(sess.LogFields()).Info("new connection")
	in := make(chan []byte)
	go ac.reader(in)
	go ac.writer()

	// minute timer
	min_timer := time.NewTicker(RPM_TIMER_PERIOD)
	defer min_timer.Stop()

	for {
		select {
		case p := <-in:
			ac.handlePacket(p, time.Now())
		case <-min_timer.C:
			timer_work(sess)
		case <-sess.Die:
			return
		case <-die:
			return
		}

		// 被踢掉
		if sess.HasFlag(SESS_KICKED_OUT) {
			if !sess.Closed() {
				ac.kick(KICK_REASON_RPM, "too many packets")
			}
			return
		}
	}
}

// handlePacket routes one datagram. Only frames route accepts count
// towards the packet statistics.
func (ac *agentConn) handlePacket(p []byte, now time.Time) {
	if !route(ac, p) {
		return
	}
	sess := ac.sess
	sess.PacketCount++
	sess.PacketCount1Min++
	sess.LastPacketTime = sess.PacketTime
	sess.PacketTime = now
	ac.register()
}

// register makes a bound connection reachable by player id.
func (ac *agentConn) register() {
	if ac.registered {
		return
	}
	if uid, ok := ac.sess.UserID(); ok {
		ac.srv.conns.Store(uid, ac)
		ac.registered = true
	}
}

func (ac *agentConn) reader(in chan<- []byte) {
	sess := ac.sess
	defer sess.Close()
	buf := make([]byte, PACKET_LIMIT)
	for {
		if ac.srv.opts.readDeadline > 0 {
			ac.conn.SetReadDeadline(time.Now().Add(ac.srv.opts.readDeadline))
		}
		n, err := ac.conn.Read(buf)
		if err != nil {
			log.WithFields(sess.LogFields()).Debug("read: ", err)
			return
		}
		p := make([]byte, n)
		copy(p, buf[:n])
		select {
		case in <- p:
		case <-sess.Die:
			return
		}
	}
}

// PIPELINE #2: writer
// drains the MQ to the kcp session; on close, pending packets such as a
// kick notification are flushed before the goroutine exits
func (ac *agentConn) writer() {
	sess := ac.sess
	defer close(ac.writerDone)
	for {
		select {
		case data := <-sess.MQ:
			if _, err := ac.conn.Write(data); err != nil {
				log.WithFields(sess.LogFields()).Debug("write: ", err)
				sess.Close()
				return
			}
		case <-sess.Die:
			for {
				select {
				case data := <-sess.MQ:
					if _, err := ac.conn.Write(data); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (ac *agentConn) cleanup() {
	sess := ac.sess
	sess.Close()
	<-ac.writerDone
	ac.conn.Close()

	if uid, ok := sess.UserID(); ok {
		if ac.registered {
			ac.srv.conns.CompareAndDelete(uid, ac)
		}
		ac.srv.presence.Release(uid, sess.Token)
	}
	ac.srv.sessions.Add(-1)
	log.WithFields(sess.LogFields()).WithFields(log.Fields{
		"packets":  sess.PacketCount,
		"duration": time.Since(sess.ConnectTime).String(),
	}).Info("connection closed")
}
