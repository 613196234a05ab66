package main

import (
	log "github.com/sirupsen/logrus"

	. "github.com/gonet2/agent/types"
)

// 玩家1分钟定时器
func timer_work(sess *Session) {
	defer func() {
		sess.PacketCount1Min = 0
	}()

	// 发包频率控制，太高的RPS直接踢掉
	if rpmLimit > 0 && sess.PacketCount1Min > rpmLimit {
		sess.SetFlag(SESS_KICKED_OUT)
		log.WithFields(sess.LogFields()).WithFields(log.Fields{
			"count1m": sess.PacketCount1Min,
			"total":   sess.PacketCount,
		}).Error("RPM")
	}
}
