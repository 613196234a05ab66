package main

import (
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// handle unix signals
func sig_handler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)

	for {
		select {
		case msg := <-ch:
			log.Info("signal received: ", msg)
			shutdown()
			return
		case <-die:
			return
		}
	}
}
