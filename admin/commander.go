// Package admin is the operator channel: free-text commands over gRPC and
// health/status over HTTP.
package admin

import (
	"context"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"

	"github.com/gonet2/agent/logic"
	"github.com/gonet2/agent/misc/protocol"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ServerInfo is the server_info / status blob.
type ServerInfo struct {
	Service   string   `json:"service"`
	StartTime int64    `json:"start_time"`
	Uptime    int64    `json:"uptime_sec"`
	Sessions  int      `json:"sessions"`
	Online    int      `json:"online"`
	QueueLen  int      `json:"queue_len"`
	Versions  []string `json:"protocol_versions"`
	KeyIDs    []uint32 `json:"key_ids"`
	Region    string   `json:"region"`
}

// Server is the part of the gateway the admin channel drives.
type Server interface {
	Info() ServerInfo
	Kick(uid uint32, reason string) bool
	Stop()
}

type Result struct {
	Output string
	JSON   bool
}

type Commander struct {
	Server Server
	Queue  *logic.Queue
}

// Exec runs one operator command line.
func (c *Commander) Exec(ctx context.Context, line string) Result {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Result{Output: "empty command"}
	}
	log.WithField("command", line).Info("admin command")

	switch strings.ToLower(fields[0]) {
	case "ping":
		return jsonResult(map[string]interface{}{"retcode": 0, "msg": "pong", "time": time.Now().Unix()})
	case "server_info":
		return jsonResult(c.Server.Info())
	case "stop":
		c.Server.Stop()
		return Result{Output: "stopping"}
	case "kick":
		if len(fields) != 2 {
			return Result{Output: "usage: kick <uid>"}
		}
		uid, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return Result{Output: "usage: kick <uid>"}
		}
		if !c.Server.Kick(uint32(uid), "kicked by admin") {
			return Result{Output: "player " + fields[1] + " not online"}
		}
		return Result{Output: "kicked " + fields[1]}
	}

	in := &logic.ClientInput{
		Name:      logic.AdminCommand,
		Body:      []byte(line),
		Msg:       protocol.Message{"command": line},
		Immediate: true,
	}
	if err := c.Queue.Push(ctx, in); err != nil {
		return Result{Output: "not forwarded: " + err.Error()}
	}
	return Result{Output: "forwarded"}
}

func jsonResult(v interface{}) Result {
	b, err := json.Marshal(v)
	if err != nil {
		return Result{Output: err.Error()}
	}
	return Result{Output: string(b), JSON: true}
}
