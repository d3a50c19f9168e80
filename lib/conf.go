package lib

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	ModeSync  = 0
	ModeSmart = 1

	responseTimeout = 30

	DefaultWeight         = 100
	DefaultServerTimeout  = 1000 // milliseconds
	DefaultMaxConnections = 8
	DefaultMaxIdle        = 1
	DefaultMaxWait        = 1000 // milliseconds
	DefaultMonitorPeriod  = 15   // seconds
	DefaultMonitorWorkers = 5
	DefaultProbeTimeout   = 2 // seconds

	DefaultPingCommand = "dbsize"
	NoPingCommand      = "none" // Disables the ping on borrow

	// The ring splits the int32 key space, the sum of weights must fit in it
	MaxTotalWeight = math.MaxInt32
)

var (
	errNoClusters = errors.New("config: at least one [[Cluster]] is required")
	policies      = map[string]bool{"": true, "auto-expand": true, "preserve-key-space": true}
	hashes        = map[string]bool{"": true, "md5": true, "xxhash": true, "murmur3": true}
	codecs        = map[string]bool{"": true, "snappy": true, "gzip": true}
)

type Config struct {
	Comment     string
	GOGC        int    // GCPercent
	Status      string // Listen address of the status endpoint, disabled if empty
	Policy      string // auto-expand | preserve-key-space
	Hash        string // md5 | xxhash | murmur3
	Compress    string // Values compression: "" | snappy | gzip
	PingCommand string // Command sent when a pooled connection is borrowed, "none" disables it
	Monitor     MonitorConfig
	Cluster     []ClusterConfig
	Relayer     []RelayerConfig
}

type MonitorConfig struct {
	Interval     int // Seconds between probe rounds
	Workers      int // Concurrent probes
	ProbeTimeout int // Seconds
}

type ClusterConfig struct {
	ID     string
	Weight int
	Server []ServerConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	Password           string
	Master             *bool // true if not set
	Timeout            int   // Socket timeout in milliseconds
	MaxConnections     int   // Pool management
	MaxIdleConnections int   // Pool management
	MinIdleConnections int   // Pool management
	MaxWait            int   // Milliseconds to wait for a free connection
	NoBlock            bool  // Fail immediately when the pool is exhausted
}

type RelayerConfig struct {
	Mode    string // smart | sync
	Listen  string // tcp://host:port or unix:///path
	Timeout int    // Timeout in seconds to wait for responses from the client
}

// ReadConfig reads and validates a toml configuration file
func ReadConfig(filename string) (config *Config, err error) {
	var configuration Config
	_, err = toml.DecodeFile(filename, &configuration)
	if err != nil {
		return
	}

	config = &configuration
	err = config.check()
	return
}

// ParseConfig does the same as ReadConfig from a string
func ParseConfig(data string) (config *Config, err error) {
	var configuration Config
	_, err = toml.Decode(data, &configuration)
	if err != nil {
		return
	}

	config = &configuration
	err = config.check()
	return
}

func (c *Config) check() error {
	if !policies[c.Policy] {
		return fmt.Errorf("config: unknown policy %q", c.Policy)
	}
	if !hashes[c.Hash] {
		return fmt.Errorf("config: unknown hash %q", c.Hash)
	}
	if !codecs[c.Compress] {
		return fmt.Errorf("config: unknown compression %q", c.Compress)
	}

	if c.PingCommand == "" {
		c.PingCommand = DefaultPingCommand
	}

	if c.Monitor.Interval <= 0 {
		c.Monitor.Interval = DefaultMonitorPeriod
	}
	if c.Monitor.Workers <= 0 {
		c.Monitor.Workers = DefaultMonitorWorkers
	}
	if c.Monitor.ProbeTimeout <= 0 {
		c.Monitor.ProbeTimeout = DefaultProbeTimeout
	}

	if len(c.Cluster) == 0 {
		return errNoClusters
	}

	ids := make(map[string]bool)
	var total int64
	for i := range c.Cluster {
		cl := &c.Cluster[i]
		if cl.Weight < 0 {
			return fmt.Errorf("config: cluster %d has a negative weight", i)
		}
		if cl.Weight == 0 {
			cl.Weight = DefaultWeight
		}
		total += int64(cl.Weight)
		if total > MaxTotalWeight {
			return fmt.Errorf("config: the sum of cluster weights exceeds %d", int64(MaxTotalWeight))
		}
		if len(cl.Server) == 0 {
			return fmt.Errorf("config: cluster %d has no servers", i)
		}
		for j := range cl.Server {
			if err := cl.Server[j].check(); err != nil {
				return fmt.Errorf("config: cluster %d: %w", i, err)
			}
		}
		if cl.ID == "" {
			cl.ID = cl.Server[0].Address()
		}
		if ids[cl.ID] {
			return fmt.Errorf("config: duplicated cluster id %s", cl.ID)
		}
		ids[cl.ID] = true
	}

	for i := range c.Relayer {
		r := &c.Relayer[i]
		if r.Timeout == 0 {
			r.Timeout = responseTimeout
		}
		u, err := url.Parse(r.Listen)
		if err != nil {
			return fmt.Errorf("config: bad relayer listen %q: %w", r.Listen, err)
		}
		if u.Scheme != "tcp" && u.Scheme != "unix" {
			return fmt.Errorf("config: relayer listen %q must be tcp:// or unix://", r.Listen)
		}
	}
	return nil
}

func (s *ServerConfig) check() error {
	if s.Host == "" {
		return errors.New("server without host")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("server %s has an invalid port %d", s.Host, s.Port)
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultServerTimeout
	}
	if s.MaxConnections <= 0 {
		s.MaxConnections = DefaultMaxConnections
	}
	if s.MaxIdleConnections <= 0 {
		s.MaxIdleConnections = DefaultMaxIdle
	}
	if s.MaxWait <= 0 {
		s.MaxWait = DefaultMaxWait
	}
	return nil
}

// Address returns host:port
func (s *ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// IsMaster returns true unless Master = false was set explicitly
func (s *ServerConfig) IsMaster() bool {
	return s.Master == nil || *s.Master
}

func (s *ServerConfig) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Millisecond
}

func (s *ServerConfig) MaxWaitDuration() time.Duration {
	return time.Duration(s.MaxWait) * time.Millisecond
}

func (m *MonitorConfig) IntervalDuration() time.Duration {
	return time.Duration(m.Interval) * time.Second
}

func (m *MonitorConfig) ProbeTimeoutDuration() time.Duration {
	return time.Duration(m.ProbeTimeout) * time.Second
}

// Type return the value of Mode coded in a integer
func (c *RelayerConfig) Type() int {
	if c.Mode == "smart" || c.Mode == "async" {
		return ModeSmart
	}
	return ModeSync
}

func (c *RelayerConfig) ListenScheme() (scheme string) {
	u, err := url.Parse(c.Listen)
	if err != nil {
		return ""
	}
	return u.Scheme
}

func (c *RelayerConfig) ListenHost() (host string) {
	u, err := url.Parse(c.Listen)
	if err != nil {
		return ""
	}
	if u.Host == "" {
		host = u.Path
	} else {
		host = u.Host
	}
	return
}
