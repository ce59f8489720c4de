package conf

import (
	"time"
)

const (
	TransportTCP = "tcp"
	TransportKCP = "kcp"
)

type Config struct {
	Server  Server
	TCP     TCP
	KCP     KCP
	Session Session
	Codec   Codec
	Admin   Admin
}

type Server struct {
	Bind         string
	Port         int // 0 means scan PortFrom..PortTo
	PortFrom     int
	PortTo       int
	Transport    string
	StartTimeout time.Duration
	StopTimeout  time.Duration
	BucketSize   int
}

type TCP struct {
	WriteBufSize int
	ReadBufSize  int
	KeepAlive    bool
}

type KCP struct {
	WriteBufSize int
	ReadBufSize  int
	DSCP         int
	DataShards   int
	ParityShards int
	MTU          int
	WindowSize   [2]int // send, receive
	NoDelay      [4]int // nodelay, interval, resend, nc
	ACKNoDelay   bool
	WriteDelay   bool

	Smux              bool
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
	MaxFrameSize      int
	MaxReceiveBuffer  int
}

type Session struct {
	HandshakeTimeout time.Duration
	CommandTimeout   time.Duration
	Async            bool
	NotifyQueueSize  int
	StreamQueueSize  int
	StopTimeout      time.Duration
}

type Codec struct {
	MaxPackSize  int
	ReadBufSize  int
	WriteBufSize int
}

type Admin struct {
	Addr string
}

func Default() Config {
	server := Server{
		Bind:         "0.0.0.0",
		Port:         9000,
		PortFrom:     9000,
		PortTo:       9100,
		Transport:    TransportTCP,
		StartTimeout: time.Second * 15,
		StopTimeout:  time.Second * 10,
		BucketSize:   16,
	}

	tcp := TCP{
		WriteBufSize: 30000,
		ReadBufSize:  30000,
		KeepAlive:    true,
	}

	kcp := KCP{
		WriteBufSize:      4 * 1024 * 1024,
		ReadBufSize:       4 * 1024 * 1024,
		DSCP:              46,
		DataShards:        10,
		ParityShards:      3,
		MTU:               1350,
		WindowSize:        [2]int{256, 256},
		NoDelay:           [4]int{1, 10, 2, 1},
		ACKNoDelay:        true,
		WriteDelay:        false,
		Smux:              false,
		KeepAliveInterval: time.Second * 10,
		KeepAliveTimeout:  time.Second * 30,
		MaxFrameSize:      32768,
		MaxReceiveBuffer:  4 * 1024 * 1024,
	}

	session := Session{
		HandshakeTimeout: time.Second * 15,
		CommandTimeout:   time.Second * 5,
		Async:            false,
		NotifyQueueSize:  256,
		StreamQueueSize:  1024,
		StopTimeout:      time.Second * 3,
	}

	codec := Codec{
		MaxPackSize:  16 * 1024 * 1024,
		ReadBufSize:  8192,
		WriteBufSize: 4096,
	}

	return Config{
		Server:  server,
		TCP:     tcp,
		KCP:     kcp,
		Session: session,
		Codec:   codec,
		Admin:   Admin{Addr: "127.0.0.1:9099"},
	}
}
