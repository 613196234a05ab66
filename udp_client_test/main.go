// 压力测试客户端：每个客户端完成密钥交换、登陆，然后按间隔发送心跳和移动包
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	kcp "github.com/xtaci/kcp-go"

	"github.com/gonet2/agent/misc/crypto/keystore"
	"github.com/gonet2/agent/misc/crypto/xorpad"
	"github.com/gonet2/agent/misc/packet"
	"github.com/gonet2/agent/misc/protocol"
)

type settings struct {
	server    string
	clients   int
	messages  int
	interval  time.Duration
	timeout   time.Duration
	version   string
	account   string
	pair      *keystore.KeyPair
	bootstrap *xorpad.Pad
	registry  *protocol.Registry
}

// 统计数据
var (
	totalSent      int64
	totalReceived  int64
	errorCount     int64
	connectedCount int64
	latencies      []time.Duration
	latencyMutex   sync.Mutex
)

func main() {
	app := &cli.App{
		Name:  "udp_client_test",
		Usage: "load test client for the agent",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "localhost:8888", Usage: "服务器地址"},
			&cli.IntFlag{Name: "clients", Value: 100, Usage: "并发客户端数量"},
			&cli.IntFlag{Name: "messages", Value: 1000, Usage: "每个客户端发送的消息数量"},
			&cli.DurationFlag{Name: "interval", Value: 10 * time.Millisecond, Usage: "发送消息的间隔时间"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "握手超时时间"},
			&cli.StringFlag{Name: "version", Value: "1.0", Usage: "客户端协议版本"},
			&cli.StringFlag{Name: "account", Value: "loadtest", Usage: "账号前缀"},
			&cli.UintFlag{Name: "key-id", Value: 1, Usage: "RSA key id"},
			&cli.StringFlag{Name: "server-public", Required: true, Usage: "server public key (pem)"},
			&cli.StringFlag{Name: "client-private", Required: true, Usage: "client private key (pem)"},
			&cli.Uint64Flag{Name: "bootstrap-seed", Usage: "bootstrap pad seed, plaintext before the handshake when unset"},
			&cli.StringFlag{Name: "bootstrap-key", Usage: "bootstrap pad bytes (base64), overrides the seed"},
			&cli.StringFlag{Name: "manifest", Usage: "protocol manifest, built-in when empty"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	s := &settings{
		server:   c.String("server"),
		clients:  c.Int("clients"),
		messages: c.Int("messages"),
		interval: c.Duration("interval"),
		timeout:  c.Duration("timeout"),
		version:  c.String("version"),
		account:  c.String("account"),
	}
	var err error
	s.pair, err = keystore.LoadClientPair(keystore.KeyConfig{
		ID:            uint32(c.Uint("key-id")),
		ServerPublic:  c.String("server-public"),
		ClientPrivate: c.String("client-private"),
	})
	if err != nil {
		return err
	}
	if key := c.String("bootstrap-key"); key != "" {
		raw, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return errors.Wrap(err, "bootstrap key")
		}
		if s.bootstrap, err = xorpad.FromKey(raw); err != nil {
			return err
		}
	} else if c.IsSet("bootstrap-seed") {
		s.bootstrap = xorpad.Derive(c.Uint64("bootstrap-seed"), xorpad.ModeContinuous)
	}
	if s.registry, err = protocol.Load(c.String("manifest")); err != nil {
		return err
	}

	fmt.Printf("开始测试: 连接到 %s, %d个客户端, 每个客户端发送 %d 条消息\n", s.server, s.clients, s.messages)
	latencies = make([]time.Duration, 0, s.clients*s.messages)

	var wg sync.WaitGroup
	wg.Add(s.clients)
	startTime := time.Now()
	for i := 0; i < s.clients; i++ {
		go func(clientID int) {
			defer wg.Done()
			if err := runClient(s, clientID); err != nil {
				atomic.AddInt64(&errorCount, 1)
				log.WithField("client", clientID).Warning(err)
			}
		}(i)
		// 小延迟，避免一次性创建太多连接
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()
	showResults(s, time.Since(startTime))
	return nil
}

// conn is one test client connection.
type conn struct {
	s       *settings
	kcp     *kcp.UDPSession
	pad     *xorpad.Pad
	version string
	seq     uint32
}

func (c *conn) send(name string, msg protocol.Message) error {
	body, err := c.s.registry.Encode(c.version, name, msg)
	if err != nil {
		return err
	}
	cmdID, _ := c.s.registry.ResolveCmdID(c.version, name)
	c.padFor(name).Apply(body)
	c.seq++
	head := packet.MarshalHead(&packet.PacketHead{ClientSequenceID: c.seq, SentMs: uint64(time.Now().UnixMilli())})
	data, err := packet.Pack(cmdID, head, body)
	if err != nil {
		return err
	}
	if _, err := c.kcp.Write(data); err != nil {
		return err
	}
	atomic.AddInt64(&totalSent, int64(len(data)))
	return nil
}

func (c *conn) recv(buf []byte) (string, protocol.Message, error) {
	n, err := c.kcp.Read(buf)
	if err != nil {
		return "", nil, err
	}
	atomic.AddInt64(&totalReceived, int64(n))
	frame, err := packet.Unpack(buf[:n])
	if err != nil {
		return "", nil, err
	}
	name, ok := c.s.registry.ResolveName(c.version, frame.CmdID)
	if !ok {
		return "", nil, errors.Errorf("unknown cmd id %d", frame.CmdID)
	}
	body := append([]byte(nil), frame.Body...)
	c.padFor(name).Apply(body)
	msg, ok := c.s.registry.Decode(c.version, name, body)
	if !ok {
		return "", nil, errors.Errorf("undecodable %s", name)
	}
	return name, msg, nil
}

func (c *conn) padFor(name string) *xorpad.Pad {
	if name == "GetPlayerTokenReq" || name == "GetPlayerTokenRsp" {
		return c.s.bootstrap
	}
	return xorpad.Select(c.pad, c.s.bootstrap)
}

// 密钥交换
func (c *conn) handshake(account string, buf []byte) error {
	var clientRand [8]byte
	rand.Read(clientRand[:])
	sealed, err := c.s.pair.EncryptForServer(clientRand[:])
	if err != nil {
		return err
	}
	err = c.send("GetPlayerTokenReq", protocol.Message{
		"account_uid":     account,
		"key_id":          c.s.pair.ID,
		"client_rand_key": base64.StdEncoding.EncodeToString(sealed),
		"version":         c.s.version,
	})
	if err != nil {
		return err
	}
	c.kcp.SetReadDeadline(time.Now().Add(c.s.timeout))
	name, rsp, err := c.recv(buf)
	if err != nil {
		return err
	}
	if name != "GetPlayerTokenRsp" {
		return errors.Errorf("unexpected %s", name)
	}
	if code := rsp.Int32("retcode"); code != 0 {
		return errors.Errorf("token retcode %d: %s", code, rsp.String("msg"))
	}
	ct, err := base64.StdEncoding.DecodeString(rsp.String("server_rand_key"))
	if err != nil {
		return err
	}
	serverRand, ok := c.s.pair.DecryptFromServer(ct)
	if !ok || len(serverRand) != 8 {
		return errors.New("server rand decrypt failed")
	}
	sign, err := base64.StdEncoding.DecodeString(rsp.String("sign"))
	if err != nil {
		return err
	}
	if err := c.s.pair.Verify(serverRand, sign); err != nil {
		return errors.Wrap(err, "server rand signature")
	}
	seed := binary.BigEndian.Uint64(clientRand[:]) ^ binary.BigEndian.Uint64(serverRand)
	c.pad = xorpad.Derive(seed, xorpad.ModeReseedSkip)
	c.version = c.s.version
	return nil
}

func runClient(s *settings, clientID int) error {
	sess, err := kcp.DialWithOptions(s.server, nil, 0, 0)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer sess.Close()
	atomic.AddInt64(&connectedCount, 1)

	// 设置KCP连接参数，与服务器一致
	sess.SetStreamMode(false)
	sess.SetWindowSize(32, 32)
	sess.SetNoDelay(1, 20, 1, 1)
	sess.SetMtu(1280)

	c := &conn{s: s, kcp: sess, version: s.registry.DefaultVersion()}
	buf := make([]byte, 65536)
	if err := c.handshake(fmt.Sprintf("%s-%d", s.account, clientID), buf); err != nil {
		return err
	}
	if err := c.send("PlayerLoginReq", protocol.Message{}); err != nil {
		return err
	}

	// 用于接收的goroutine，心跳回包计算延迟
	var sentAt sync.Map
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			sess.SetReadDeadline(time.Now().Add(s.timeout))
			name, msg, err := c.recv(buf)
			if err != nil {
				return
			}
			if name != "PingRsp" {
				continue
			}
			if t, ok := sentAt.LoadAndDelete(msg.Uint32("seq")); ok {
				latencyMutex.Lock()
				latencies = append(latencies, time.Since(t.(time.Time)))
				latencyMutex.Unlock()
			}
		}
	}()

	for i := 0; i < s.messages; i++ {
		if i%2 == 0 {
			seq := uint32(i)
			sentAt.Store(seq, time.Now())
			err = c.send("PingReq", protocol.Message{"client_time": uint32(time.Now().Unix()), "seq": seq})
		} else {
			err = c.send("EntityMoveReq", protocol.Message{"entity_id": uint32(clientID), "x": int32(i), "y": int32(-i)})
		}
		if err != nil {
			return errors.Wrap(err, "send")
		}
		time.Sleep(s.interval)
	}
	c.send("PlayerLogoutReq", protocol.Message{})
	<-done
	return nil
}

func showResults(s *settings, duration time.Duration) {
	sent := atomic.LoadInt64(&totalSent)
	received := atomic.LoadInt64(&totalReceived)

	fmt.Println("\n===== 性能测试结果 =====")
	fmt.Printf("测试持续时间: %v\n", duration)
	fmt.Printf("客户端数量: %d (成功连接: %d)\n", s.clients, atomic.LoadInt64(&connectedCount))
	fmt.Printf("每客户端消息数: %d\n", s.messages)
	fmt.Printf("总发送数据: %.2f MB\n", float64(sent)/(1024*1024))
	fmt.Printf("总接收数据: %.2f MB\n", float64(received)/(1024*1024))
	fmt.Printf("错误数: %d\n", atomic.LoadInt64(&errorCount))
	fmt.Printf("消息速率: %.2f 消息/秒\n", float64(s.clients*s.messages)/duration.Seconds())

	latencyMutex.Lock()
	defer latencyMutex.Unlock()
	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var total time.Duration
		for _, l := range latencies {
			total += l
		}
		fmt.Printf("心跳往返 平均: %v 最小: %v 中位: %v 最大: %v\n",
			total/time.Duration(len(latencies)), latencies[0], latencies[len(latencies)/2], latencies[len(latencies)-1])
	}
	fmt.Println("========================")
}
