package main

import (
	"sync"
	"time"
)

// Global variables
var (
	wg      sync.WaitGroup
	die     = make(chan struct{})
	dieOnce sync.Once

	rpmLimit int // 用于timer_work函数
)

const (
	PACKET_LIMIT     = 65535 // largest datagram read from a kcp session
	DEFAULT_MQ_SIZE  = 128
	RPM_TIMER_PERIOD = time.Minute
)

// kick reasons carried in PlayerKickNotify
const (
	KICK_REASON_ADMIN uint32 = 1
	KICK_REASON_RPM   uint32 = 2
)

// options are the command line settings.
type options struct {
	listen       string
	sockets      int
	readDeadline time.Duration
	txqueuelen   int
	rpmLimit     int
	sndwnd       int
	rcvwnd       int
	mtu          int
	nodelay      int
	interval     int
	resend       int
	nc           int
	sockbuf      int
	dscp         int
	tick         time.Duration
	queueSize    int
	adminListen  string
	httpListen   string
}

// shutdown closes die once.
func shutdown() {
	dieOnce.Do(func() { close(die) })
}
