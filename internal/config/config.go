package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Default values applied before a file is decoded
const (
	DefaultIcaoTimeout   = 5 * time.Second
	DefaultFastTick      = time.Second
	DefaultSlowTick      = 10 * time.Minute
	DefaultIdleTimeout   = 60 * time.Second
	DefaultFetchInterval = time.Second
	DefaultBaudRate      = 115200
	DefaultLogLevel      = "info"
)

// Configuration represents the complete adsbfeed configuration
type Configuration struct {
	Log         LogConfig           `yaml:"log"`
	Metrics     MetricsConfig       `yaml:"metrics"`
	Heartbeat   HeartbeatConfig     `yaml:"heartbeat"`
	Database    DatabaseConfig      `yaml:"database"`
	Receivers   []Receiver          `yaml:"receivers"`
	MergedFeeds []MergedFeed        `yaml:"merged_feeds"`
	Rebroadcast []RebroadcastServer `yaml:"rebroadcast"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// MetricsConfig holds the Prometheus endpoint settings. An empty address
// disables the endpoint.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// HeartbeatConfig holds the periodic tick intervals
type HeartbeatConfig struct {
	FastTick time.Duration `yaml:"fast_tick"`
	SlowTick time.Duration `yaml:"slow_tick"`
}

// DatabaseConfig holds the configuration store settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RawDecoding holds the decode-tuning settings that are pushed into a live
// raw translator without rebuilding it
type RawDecoding struct {
	IgnoreMilitaryExtendedSquitter bool `yaml:"ignore_military_extended_squitter"`
	SuppressTisbDecoding           bool `yaml:"suppress_tisb_decoding"`
	AcceptIcaoInNonPICount         int  `yaml:"accept_icao_in_non_pi_count"`
}

// Receiver describes one physical feeder
type Receiver struct {
	ID             int            `yaml:"id"`
	Name           string         `yaml:"name"`
	Enabled        bool           `yaml:"enabled"`
	DataSource     DataSource     `yaml:"data_source"`
	ConnectionType ConnectionType `yaml:"connection_type"`

	// TCP
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`

	// UDP
	LocalAddress string `yaml:"local_address"`
	LocalPort    int    `yaml:"local_port"`

	// Serial
	SerialPort string    `yaml:"serial_port"`
	BaudRate   int       `yaml:"baud_rate"`
	DataBits   int       `yaml:"data_bits"`
	StopBits   int       `yaml:"stop_bits"`
	Parity     Parity    `yaml:"parity"`
	Handshake  Handshake `yaml:"handshake"`

	// HTTP poll
	WebAddress    string        `yaml:"web_address"`
	FetchInterval time.Duration `yaml:"fetch_interval"`

	AutoReconnect     bool          `yaml:"auto_reconnect"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	IgnoreBadMessages bool          `yaml:"ignore_bad_messages"`
	Usage             ReceiverUsage `yaml:"usage"`
	RawDecoding       RawDecoding   `yaml:"raw_decoding"`
}

// MergedFeed combines several receivers into one deduplicated feed
type MergedFeed struct {
	ID                           int           `yaml:"id"`
	Name                         string        `yaml:"name"`
	Enabled                      bool          `yaml:"enabled"`
	ReceiverIDs                  []int         `yaml:"receiver_ids"`
	MlatReceiverIDs              []int         `yaml:"mlat_receiver_ids"`
	IcaoTimeout                  time.Duration `yaml:"icao_timeout"`
	IgnoreAircraftWithNoPosition bool          `yaml:"ignore_aircraft_with_no_position"`
	Usage                        ReceiverUsage `yaml:"usage"`
}

// RebroadcastServer pushes one feed's messages to downstream consumers
type RebroadcastServer struct {
	Name      string               `yaml:"name"`
	Enabled   bool                 `yaml:"enabled"`
	FeedID    int                  `yaml:"feed_id"`
	Format    RebroadcastFormat    `yaml:"format"`
	Transport RebroadcastTransport `yaml:"transport"`
	Address   string               `yaml:"address"`
	Subject   string               `yaml:"subject"`
}

// New creates a configuration populated with defaults
func New() *Configuration {
	return &Configuration{
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
		Heartbeat: HeartbeatConfig{
			FastTick: DefaultFastTick,
			SlowTick: DefaultSlowTick,
		},
	}
}

// DefaultReceiver returns a receiver with default settings
func DefaultReceiver() Receiver {
	return Receiver{
		Enabled:        true,
		DataSource:     DataSourcePort30003,
		ConnectionType: ConnectionTCP,
		BaudRate:       DefaultBaudRate,
		DataBits:       8,
		StopBits:       1,
		FetchInterval:  DefaultFetchInterval,
		AutoReconnect:  true,
		IdleTimeout:    DefaultIdleTimeout,
	}
}

// DefaultMergedFeed returns a merged feed with default settings
func DefaultMergedFeed() MergedFeed {
	return MergedFeed{
		Enabled:     true,
		IcaoTimeout: DefaultIcaoTimeout,
	}
}

// UnmarshalYAML applies receiver defaults before decoding
func (r *Receiver) UnmarshalYAML(value *yaml.Node) error {
	type plain Receiver
	p := plain(DefaultReceiver())
	if err := value.Decode(&p); err != nil {
		return err
	}
	*r = Receiver(p)
	return nil
}

// UnmarshalYAML applies merged feed defaults before decoding
func (m *MergedFeed) UnmarshalYAML(value *yaml.Node) error {
	type plain MergedFeed
	p := plain(DefaultMergedFeed())
	if err := value.Decode(&p); err != nil {
		return err
	}
	*m = MergedFeed(p)
	return nil
}

// UnmarshalYAML enables rebroadcast servers unless told otherwise
func (s *RebroadcastServer) UnmarshalYAML(value *yaml.Node) error {
	type plain RebroadcastServer
	p := plain(RebroadcastServer{Enabled: true})
	if err := value.Decode(&p); err != nil {
		return err
	}
	*s = RebroadcastServer(p)
	return nil
}

// Load reads and validates the configuration file at path
func Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML document
func Parse(data []byte) (*Configuration, error) {
	cfg := New()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal encodes the configuration as YAML
func (c *Configuration) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks the configuration for consistency
func (c *Configuration) Validate() error {
	ids := make(map[int]string)
	names := make(map[string]bool)
	receivers := make(map[int]bool)

	claim := func(id int, name string) error {
		if id <= 0 {
			return fmt.Errorf("%w: feed %q must have a positive id", ErrInvalidConfig, name)
		}
		if name == "" {
			return fmt.Errorf("%w: feed %d has no name", ErrInvalidConfig, id)
		}
		if other, ok := ids[id]; ok {
			return fmt.Errorf("%w: feed id %d used by %q and %q", ErrInvalidConfig, id, other, name)
		}
		if names[name] {
			return fmt.Errorf("%w: feed name %q is not unique", ErrInvalidConfig, name)
		}
		ids[id] = name
		names[name] = true
		return nil
	}

	for _, r := range c.Receivers {
		if err := claim(r.ID, r.Name); err != nil {
			return err
		}
		if err := r.Validate(); err != nil {
			return err
		}
		receivers[r.ID] = true
	}

	for _, m := range c.MergedFeeds {
		if err := claim(m.ID, m.Name); err != nil {
			return err
		}
		if len(m.ReceiverIDs) == 0 {
			return fmt.Errorf("%w: merged feed %q has no receivers", ErrInvalidConfig, m.Name)
		}
		members := make(map[int]bool, len(m.ReceiverIDs))
		for _, id := range m.ReceiverIDs {
			if !receivers[id] {
				return fmt.Errorf("%w: merged feed %q references unknown receiver %d", ErrInvalidConfig, m.Name, id)
			}
			members[id] = true
		}
		for _, id := range m.MlatReceiverIDs {
			if !members[id] {
				return fmt.Errorf("%w: merged feed %q lists MLAT receiver %d that is not a member", ErrInvalidConfig, m.Name, id)
			}
		}
		if m.IcaoTimeout <= 0 {
			return fmt.Errorf("%w: merged feed %q needs a positive icao_timeout", ErrInvalidConfig, m.Name)
		}
	}

	for _, s := range c.Rebroadcast {
		if _, ok := ids[s.FeedID]; !ok {
			return fmt.Errorf("%w: rebroadcast server %q references unknown feed %d", ErrInvalidConfig, s.Name, s.FeedID)
		}
		switch s.Transport {
		case TransportTCP, TransportWebSocket:
			if s.Address == "" {
				return fmt.Errorf("%w: rebroadcast server %q has no address", ErrInvalidConfig, s.Name)
			}
		case TransportNATS:
			if s.Address == "" || s.Subject == "" {
				return fmt.Errorf("%w: rebroadcast server %q needs a NATS url and subject", ErrInvalidConfig, s.Name)
			}
		}
	}

	return nil
}

// Validate checks that the receiver carries the fields its connection type needs
func (r Receiver) Validate() error {
	switch r.ConnectionType {
	case ConnectionTCP:
		if r.Address == "" || r.Port <= 0 {
			return fmt.Errorf("%w: receiver %q needs an address and port", ErrInvalidConfig, r.Name)
		}
	case ConnectionUDP:
		if r.LocalPort <= 0 {
			return fmt.Errorf("%w: receiver %q needs a local port", ErrInvalidConfig, r.Name)
		}
	case ConnectionSerial:
		if r.SerialPort == "" || r.BaudRate <= 0 {
			return fmt.Errorf("%w: receiver %q needs a serial port and baud rate", ErrInvalidConfig, r.Name)
		}
	case ConnectionHTTP:
		if r.WebAddress == "" || r.FetchInterval <= 0 {
			return fmt.Errorf("%w: receiver %q needs a web address and fetch interval", ErrInvalidConfig, r.Name)
		}
	default:
		return fmt.Errorf("%w: receiver %q has unknown connection type", ErrInvalidConfig, r.Name)
	}
	if r.IdleTimeout < 0 {
		return fmt.Errorf("%w: receiver %q has a negative idle timeout", ErrInvalidConfig, r.Name)
	}
	return nil
}

// ConnectionKey returns a string that changes whenever a field used by the
// receiver's connector changes
func (r Receiver) ConnectionKey() string {
	switch r.ConnectionType {
	case ConnectionTCP:
		return "tcp|" + r.Address + "|" + strconv.Itoa(r.Port)
	case ConnectionUDP:
		return "udp|" + r.LocalAddress + "|" + strconv.Itoa(r.LocalPort)
	case ConnectionSerial:
		return fmt.Sprintf("serial|%s|%d|%d|%d|%s|%s",
			r.SerialPort, r.BaudRate, r.DataBits, r.StopBits, r.Parity, r.Handshake)
	case ConnectionHTTP:
		return "http|" + r.WebAddress + "|" + r.FetchInterval.String()
	}
	return r.ConnectionType.String()
}

// FindReceiver returns the receiver with the given id
func (c *Configuration) FindReceiver(id int) (Receiver, bool) {
	for _, r := range c.Receivers {
		if r.ID == id {
			return r, true
		}
	}
	return Receiver{}, false
}

// FindMergedFeed returns the merged feed with the given id
func (c *Configuration) FindMergedFeed(id int) (MergedFeed, bool) {
	for _, m := range c.MergedFeeds {
		if m.ID == id {
			return m, true
		}
	}
	return MergedFeed{}, false
}
