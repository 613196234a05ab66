package logic

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gonet2/agent/misc/protocol"
)

// worldTimeEvery is how many ticks pass between WorldTimeNotify messages.
const worldTimeEvery = 10

// Relay is the stand-in simulation the gateway runs when no game server is
// attached: it tracks connected players, rebroadcasts movement and chat,
// and publishes world time. Operator commands reach it as AdminCommand
// input. It must only be used from the Run goroutine.
type Relay struct {
	conns map[uint32]Conn
	tick  uint64
}

func NewRelay() *Relay {
	return &Relay{conns: make(map[uint32]Conn)}
}

func (r *Relay) CreateWorld(cmd *CreateWorld) {
	if old, ok := r.conns[cmd.UID]; ok && old != cmd.Conn {
		old.Close()
	}
	r.conns[cmd.UID] = cmd.Conn
	log.WithFields(log.Fields{
		"uid":        cmd.UID,
		"new_player": cmd.NewPlayer,
		"state_len":  len(cmd.State),
	}).Info("world created")
}

func (r *Relay) ClientInput(cmd *ClientInput) {
	switch cmd.Name {
	case "EntityMoveReq":
		r.Broadcast("EntityMoveNotify", protocol.Message{
			"entity_id": cmd.Msg.Uint32("entity_id"),
			"x":         cmd.Msg.Int32("x"),
			"y":         cmd.Msg.Int32("y"),
			"z":         cmd.Msg.Int32("z"),
		})
	case "ChatReq":
		r.Broadcast("ChatNotify", protocol.Message{
			"uid":     cmd.UID,
			"text":    cmd.Msg.String("text"),
			"channel": cmd.Msg.Uint32("channel"),
		})
	case AdminCommand:
		r.admin(cmd.Msg.String("command"))
	case "PlayerLogoutReq":
		if c, ok := r.conns[cmd.UID]; ok {
			delete(r.conns, cmd.UID)
			c.Close()
		}
	default:
		log.WithFields(log.Fields{
			"uid":       cmd.UID,
			"name":      cmd.Name,
			"immediate": cmd.Immediate,
		}).Debug("input ignored")
	}
}

// admin runs "broadcast <text>" and "tell <uid> <text>".
func (r *Relay) admin(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	logger := log.WithField("command", line)
	switch fields[0] {
	case "broadcast":
		text := strings.Join(fields[1:], " ")
		n := r.Broadcast("ChatNotify", protocol.Message{"text": text})
		logger.WithField("sent", n).Info("admin broadcast")
	case "tell":
		if len(fields) < 3 {
			logger.Warning("usage: tell <uid> <text>")
			return
		}
		uid, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			logger.Warning("usage: tell <uid> <text>")
			return
		}
		text := strings.Join(fields[2:], " ")
		if err := r.SendTo(uint32(uid), "ChatNotify", protocol.Message{"text": text}); err != nil {
			logger.Warning(err)
		}
	default:
		logger.Warning("unknown admin command")
	}
}

func (r *Relay) WorldUpdate(cmd *WorldUpdate) {
	r.tick = cmd.Tick
	for uid, c := range r.conns {
		if c.Closed() {
			delete(r.conns, uid)
		}
	}
	if cmd.Tick%worldTimeEvery == 0 {
		r.Broadcast("WorldTimeNotify", protocol.Message{"tick": cmd.Tick})
	}
}

// Tick is the last tick applied.
func (r *Relay) Tick() uint64 { return r.tick }

func (r *Relay) SendTo(uid uint32, name string, msg protocol.Message) error {
	c, ok := r.conns[uid]
	if !ok {
		return errors.New("logic: player not in world")
	}
	return c.Send(name, msg)
}

// Broadcast sends to every player whose client version has the message.
func (r *Relay) Broadcast(name string, msg protocol.Message) int {
	sent := 0
	for _, c := range r.conns {
		if err := c.Send(name, msg); err == nil {
			sent++
		}
	}
	return sent
}
