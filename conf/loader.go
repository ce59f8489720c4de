package conf

import (
	"time"

	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	_ "github.com/go-kratos/kratos/v2/encoding/yaml"
	"github.com/go-pantheon/fabrica-util/errors"
)

// fileConfig mirrors Config in the shape of the YAML file. Durations are
// written as Go duration strings ("15s", "500ms").
type fileConfig struct {
	Server struct {
		Bind         string `json:"bind"`
		Port         *int   `json:"port"`
		PortFrom     int    `json:"port_from"`
		PortTo       int    `json:"port_to"`
		Transport    string `json:"transport"`
		StartTimeout string `json:"start_timeout"`
		StopTimeout  string `json:"stop_timeout"`
		BucketSize   int    `json:"bucket_size"`
	} `json:"server"`
	TCP struct {
		WriteBufSize int   `json:"write_buf_size"`
		ReadBufSize  int   `json:"read_buf_size"`
		KeepAlive    *bool `json:"keep_alive"`
	} `json:"tcp"`
	KCP struct {
		DataShards   *int   `json:"data_shards"`
		ParityShards *int   `json:"parity_shards"`
		MTU          int    `json:"mtu"`
		Smux         *bool  `json:"smux"`
		KeepAlive    string `json:"keep_alive_interval"`
		KeepAliveTTL string `json:"keep_alive_timeout"`
	} `json:"kcp"`
	Session struct {
		HandshakeTimeout string `json:"handshake_timeout"`
		CommandTimeout   string `json:"command_timeout"`
		Async            *bool  `json:"async"`
		NotifyQueueSize  int    `json:"notify_queue_size"`
		StreamQueueSize  int    `json:"stream_queue_size"`
		StopTimeout      string `json:"stop_timeout"`
	} `json:"session"`
	Codec struct {
		MaxPackSize  int `json:"max_pack_size"`
		ReadBufSize  int `json:"read_buf_size"`
		WriteBufSize int `json:"write_buf_size"`
	} `json:"codec"`
	Admin struct {
		Addr string `json:"addr"`
	} `json:"admin"`
}

// Load reads a YAML config file and overlays it on Default().
func Load(path string) (Config, error) {
	c := config.New(config.WithSource(file.NewSource(path)))
	defer func() {
		_ = c.Close()
	}()

	if err := c.Load(); err != nil {
		return Config{}, errors.Wrapf(err, "load config failed. path=%s", path)
	}

	var fc fileConfig
	if err := c.Scan(&fc); err != nil {
		return Config{}, errors.Wrapf(err, "scan config failed. path=%s", path)
	}

	return fc.apply(Default())
}

func (fc *fileConfig) apply(cfg Config) (Config, error) {
	var err error

	setString(&cfg.Server.Bind, fc.Server.Bind)
	setString(&cfg.Server.Transport, fc.Server.Transport)
	setInt(&cfg.Server.PortFrom, fc.Server.PortFrom)
	setInt(&cfg.Server.PortTo, fc.Server.PortTo)
	setInt(&cfg.Server.BucketSize, fc.Server.BucketSize)

	if fc.Server.Port != nil {
		cfg.Server.Port = *fc.Server.Port
	}

	if err = setDuration(&cfg.Server.StartTimeout, fc.Server.StartTimeout, "server.start_timeout"); err != nil {
		return cfg, err
	}

	if err = setDuration(&cfg.Server.StopTimeout, fc.Server.StopTimeout, "server.stop_timeout"); err != nil {
		return cfg, err
	}

	setInt(&cfg.TCP.WriteBufSize, fc.TCP.WriteBufSize)
	setInt(&cfg.TCP.ReadBufSize, fc.TCP.ReadBufSize)

	if fc.TCP.KeepAlive != nil {
		cfg.TCP.KeepAlive = *fc.TCP.KeepAlive
	}

	if fc.KCP.DataShards != nil {
		cfg.KCP.DataShards = *fc.KCP.DataShards
	}

	if fc.KCP.ParityShards != nil {
		cfg.KCP.ParityShards = *fc.KCP.ParityShards
	}

	if fc.KCP.Smux != nil {
		cfg.KCP.Smux = *fc.KCP.Smux
	}

	setInt(&cfg.KCP.MTU, fc.KCP.MTU)

	if err = setDuration(&cfg.KCP.KeepAliveInterval, fc.KCP.KeepAlive, "kcp.keep_alive_interval"); err != nil {
		return cfg, err
	}

	if err = setDuration(&cfg.KCP.KeepAliveTimeout, fc.KCP.KeepAliveTTL, "kcp.keep_alive_timeout"); err != nil {
		return cfg, err
	}

	if err = setDuration(&cfg.Session.HandshakeTimeout, fc.Session.HandshakeTimeout, "session.handshake_timeout"); err != nil {
		return cfg, err
	}

	if err = setDuration(&cfg.Session.CommandTimeout, fc.Session.CommandTimeout, "session.command_timeout"); err != nil {
		return cfg, err
	}

	if err = setDuration(&cfg.Session.StopTimeout, fc.Session.StopTimeout, "session.stop_timeout"); err != nil {
		return cfg, err
	}

	if fc.Session.Async != nil {
		cfg.Session.Async = *fc.Session.Async
	}

	setInt(&cfg.Session.NotifyQueueSize, fc.Session.NotifyQueueSize)
	setInt(&cfg.Session.StreamQueueSize, fc.Session.StreamQueueSize)
	setInt(&cfg.Codec.MaxPackSize, fc.Codec.MaxPackSize)
	setInt(&cfg.Codec.ReadBufSize, fc.Codec.ReadBufSize)
	setInt(&cfg.Codec.WriteBufSize, fc.Codec.WriteBufSize)
	setString(&cfg.Admin.Addr, fc.Admin.Addr)

	return cfg, Validate(cfg)
}

// Validate rejects configurations the listener cannot start with.
func Validate(cfg Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return errors.Errorf("invalid server.port: %d", cfg.Server.Port)
	}

	if cfg.Server.Port == 0 && cfg.Server.PortFrom > cfg.Server.PortTo {
		return errors.Errorf("invalid port range: %d > %d", cfg.Server.PortFrom, cfg.Server.PortTo)
	}

	if cfg.Server.Transport != TransportTCP && cfg.Server.Transport != TransportKCP {
		return errors.Errorf("invalid server.transport: %q", cfg.Server.Transport)
	}

	if cfg.Server.BucketSize <= 0 || cfg.Server.BucketSize&(cfg.Server.BucketSize-1) != 0 {
		return errors.Errorf("invalid server.bucket_size: %d, must be a power of two", cfg.Server.BucketSize)
	}

	if cfg.Session.CommandTimeout < 0 || cfg.Session.HandshakeTimeout < 0 {
		return errors.New("session timeouts must not be negative")
	}

	if cfg.Codec.MaxPackSize <= 0 {
		return errors.Errorf("invalid codec.max_pack_size: %d", cfg.Codec.MaxPackSize)
	}

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string, field string) error {
	if v == "" {
		return nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return errors.Wrapf(err, "invalid %s: %q", field, v)
	}

	*dst = d

	return nil
}
