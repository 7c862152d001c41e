package config

import (
	"fmt"
	"strings"
)

// DataSource selects the byte extractor family used by a receiver
type DataSource int

const (
	DataSourcePort30003 DataSource = iota
	DataSourceBeast
	DataSourceCompressed
	DataSourceSbs3
	DataSourcePlaneFinder
)

var dataSourceNames = map[DataSource]string{
	DataSourcePort30003:   "port30003",
	DataSourceBeast:       "beast",
	DataSourceCompressed:  "compressed",
	DataSourceSbs3:        "sbs3",
	DataSourcePlaneFinder: "planefinder",
}

func (d DataSource) String() string {
	return enumString(dataSourceNames, d)
}

func (d DataSource) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *DataSource) UnmarshalText(text []byte) error {
	return enumParse(dataSourceNames, "data source", text, d)
}

// ConnectionType selects the connector used by a receiver
type ConnectionType int

const (
	ConnectionTCP ConnectionType = iota
	ConnectionUDP
	ConnectionSerial
	ConnectionHTTP
)

var connectionTypeNames = map[ConnectionType]string{
	ConnectionTCP:    "tcp",
	ConnectionUDP:    "udp",
	ConnectionSerial: "serial",
	ConnectionHTTP:   "http",
}

func (c ConnectionType) String() string {
	return enumString(connectionTypeNames, c)
}

func (c ConnectionType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ConnectionType) UnmarshalText(text []byte) error {
	return enumParse(connectionTypeNames, "connection type", text, c)
}

// ReceiverUsage controls where a feed is shown
type ReceiverUsage int

const (
	UsageNormal ReceiverUsage = iota
	UsageHideFromWebSite
	UsageMergeOnly
)

var usageNames = map[ReceiverUsage]string{
	UsageNormal:          "normal",
	UsageHideFromWebSite: "hide_from_website",
	UsageMergeOnly:       "merge_only",
}

func (u ReceiverUsage) String() string {
	return enumString(usageNames, u)
}

func (u ReceiverUsage) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *ReceiverUsage) UnmarshalText(text []byte) error {
	return enumParse(usageNames, "receiver usage", text, u)
}

// Parity is the serial line parity setting
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
	ParityMark
	ParitySpace
)

var parityNames = map[Parity]string{
	ParityNone:  "none",
	ParityOdd:   "odd",
	ParityEven:  "even",
	ParityMark:  "mark",
	ParitySpace: "space",
}

func (p Parity) String() string {
	return enumString(parityNames, p)
}

func (p Parity) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Parity) UnmarshalText(text []byte) error {
	return enumParse(parityNames, "parity", text, p)
}

// Handshake is the serial line flow control setting
type Handshake int

const (
	HandshakeNone Handshake = iota
	HandshakeXOnXOff
	HandshakeRTS
	HandshakeRTSXOnXOff
)

var handshakeNames = map[Handshake]string{
	HandshakeNone:       "none",
	HandshakeXOnXOff:    "xonxoff",
	HandshakeRTS:        "rts",
	HandshakeRTSXOnXOff: "rts_xonxoff",
}

func (h Handshake) String() string {
	return enumString(handshakeNames, h)
}

func (h Handshake) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Handshake) UnmarshalText(text []byte) error {
	return enumParse(handshakeNames, "handshake", text, h)
}

// RebroadcastFormat is the wire format written by a rebroadcast server
type RebroadcastFormat int

const (
	FormatPort30003 RebroadcastFormat = iota
	FormatCompressed
	FormatJSON
)

var rebroadcastFormatNames = map[RebroadcastFormat]string{
	FormatPort30003:  "port30003",
	FormatCompressed: "compressed",
	FormatJSON:       "json",
}

func (f RebroadcastFormat) String() string {
	return enumString(rebroadcastFormatNames, f)
}

func (f RebroadcastFormat) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *RebroadcastFormat) UnmarshalText(text []byte) error {
	return enumParse(rebroadcastFormatNames, "rebroadcast format", text, f)
}

// RebroadcastTransport is how a rebroadcast server delivers messages
type RebroadcastTransport int

const (
	TransportTCP RebroadcastTransport = iota
	TransportWebSocket
	TransportNATS
)

var rebroadcastTransportNames = map[RebroadcastTransport]string{
	TransportTCP:       "tcp",
	TransportWebSocket: "websocket",
	TransportNATS:      "nats",
}

func (t RebroadcastTransport) String() string {
	return enumString(rebroadcastTransportNames, t)
}

func (t RebroadcastTransport) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *RebroadcastTransport) UnmarshalText(text []byte) error {
	return enumParse(rebroadcastTransportNames, "rebroadcast transport", text, t)
}

func enumString[T ~int](names map[T]string, v T) string {
	if name, ok := names[v]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(v))
}

func enumParse[T comparable](names map[T]string, kind string, text []byte, out *T) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for v, name := range names {
		if name == s {
			*out = v
			return nil
		}
	}
	return fmt.Errorf("%w: unknown %s %q", ErrInvalidConfig, kind, string(text))
}
