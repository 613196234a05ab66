package main

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	app := &cli.App{
		Name:    "agent",
		Usage:   "a kcp gateway for games with session keys and versioned dispatch",
		Version: "3.0",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: ":8888", Usage: "listening address:port", EnvVars: []string{"AGENT_LISTEN"}},
			&cli.IntFlag{Name: "sockets", Value: 1, Usage: "number of udp sockets sharing the listening port", EnvVars: []string{"AGENT_SOCKETS"}},
			&cli.DurationFlag{Name: "read-deadline", Value: 15 * time.Second, Usage: "per connection read timeout"},
			&cli.IntFlag{Name: "txqueuelen", Value: DEFAULT_MQ_SIZE, Usage: "per connection output message queue, packet will be dropped if exceeds"},
			&cli.IntFlag{Name: "rpm-limit", Value: 300, Usage: "per connection rpm limit, 0 disables"},
			&cli.IntFlag{Name: "sndwnd", Value: 32, Usage: "per connection udp send window"},
			&cli.IntFlag{Name: "rcvwnd", Value: 32, Usage: "per connection udp recv window"},
			&cli.IntFlag{Name: "mtu", Value: 1280, Usage: "MTU of UDP packets, without IP(20) + UDP(8)"},
			&cli.IntFlag{Name: "nodelay", Value: 1, Usage: "ikcp_nodelay()"},
			&cli.IntFlag{Name: "interval", Value: 20, Usage: "ikcp_nodelay()"},
			&cli.IntFlag{Name: "resend", Value: 1, Usage: "ikcp_nodelay()"},
			&cli.IntFlag{Name: "nc", Value: 1, Usage: "ikcp_nodelay()"},
			&cli.IntFlag{Name: "sockbuf", Value: 4194304, Usage: "per socket buffer in bytes"},
			&cli.IntFlag{Name: "dscp", Value: 46, Usage: "set DSCP(6bit)"},
			&cli.DurationFlag{Name: "tick", Value: 50 * time.Millisecond, Usage: "simulation tick interval"},
			&cli.IntFlag{Name: "queue-size", Value: 4096, Usage: "logic command queue capacity per lane"},
			&cli.StringFlag{Name: "config", Usage: "deployment config file (yaml)", EnvVars: []string{"AGENT_CONFIG"}},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "panic, fatal, error, warn, info, debug or trace"},
			&cli.StringFlag{Name: "log-file", Usage: "rotated log file, stderr when empty"},
			&cli.BoolFlag{Name: "log-json", Usage: "json log output"},
			&cli.StringFlag{Name: "admin-listen", Value: "127.0.0.1:8889", Usage: "admin grpc address, empty disables", EnvVars: []string{"AGENT_ADMIN_LISTEN"}},
			&cli.StringFlag{Name: "http-listen", Value: ":8890", Usage: "health/status http address, empty disables", EnvVars: []string{"AGENT_HTTP_LISTEN"}},
		},
		Action: func(c *cli.Context) error {
			if err := setupLog(c); err != nil {
				return err
			}
			opts := options{
				listen:       c.String("listen"),
				sockets:      c.Int("sockets"),
				readDeadline: c.Duration("read-deadline"),
				txqueuelen:   c.Int("txqueuelen"),
				rpmLimit:     c.Int("rpm-limit"),
				sndwnd:       c.Int("sndwnd"),
				rcvwnd:       c.Int("rcvwnd"),
				mtu:          c.Int("mtu"),
				nodelay:      c.Int("nodelay"),
				interval:     c.Int("interval"),
				resend:       c.Int("resend"),
				nc:           c.Int("nc"),
				sockbuf:      c.Int("sockbuf"),
				dscp:         c.Int("dscp"),
				tick:         c.Duration("tick"),
				queueSize:    c.Int("queue-size"),
				adminListen:  c.String("admin-listen"),
				httpListen:   c.String("http-listen"),
			}
			log.WithFields(log.Fields{
				"listen":        opts.listen,
				"sockets":       opts.sockets,
				"read-deadline": opts.readDeadline,
				"txqueuelen":    opts.txqueuelen,
				"rpm-limit":     opts.rpmLimit,
				"sndwnd":        opts.sndwnd,
				"rcvwnd":        opts.rcvwnd,
				"mtu":           opts.mtu,
				"nodelay":       opts.nodelay,
				"interval":      opts.interval,
				"resend":        opts.resend,
				"nc":            opts.nc,
				"tick":          opts.tick,
			}).Info("starting agent")

			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				log.Error(err)
				return err
			}
			srv, err := startup(opts, cfg)
			if err != nil {
				log.Error(err)
				return err
			}
			srv.wait()
			return nil
		},
	}
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// startup builds the server and brings up every listener.
func startup(opts options, cfg *Config) (*server, error) {
	rpmLimit = opts.rpmLimit
	if opts.sockets < 1 {
		opts.sockets = 1
	}
	srv, err := newServer(opts, cfg)
	if err != nil {
		return nil, err
	}
	if err := srv.start(); err != nil {
		shutdown()
		srv.wait()
		return nil, err
	}
	go sig_handler()
	return srv, nil
}

func setupLog(c *cli.Context) error {
	level, err := log.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	log.SetLevel(level)
	if c.Bool("log-json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if path := c.String("log-file"); path != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // megabytes
			MaxBackups: 7,
			MaxAge:     28, // days
		})
	}
	return nil
}
