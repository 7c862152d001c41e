package database

import (
	"encoding"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dbehnke/adsbfeed/internal/config"
)

// ReceiverRecord is one configured receiver
type ReceiverRecord struct {
	ID             int    `gorm:"primarykey;autoIncrement:false"`
	Name           string `gorm:"uniqueIndex;size:100;not null"`
	Enabled        bool
	DataSource     string `gorm:"size:20"`
	ConnectionType string `gorm:"size:20"`

	Address      string `gorm:"size:255"`
	Port         int
	LocalAddress string `gorm:"size:255"`
	LocalPort    int

	SerialPort string `gorm:"size:100"`
	BaudRate   int
	DataBits   int
	StopBits   int
	Parity     string `gorm:"size:20"`
	Handshake  string `gorm:"size:20"`

	WebAddress    string `gorm:"size:255"`
	FetchInterval time.Duration

	AutoReconnect     bool
	IdleTimeout       time.Duration
	IgnoreBadMessages bool
	Usage             string `gorm:"size:20"`

	IgnoreMilitaryExtendedSquitter bool
	SuppressTisbDecoding           bool
	AcceptIcaoInNonPICount         int

	UpdatedAt time.Time
}

// TableName specifies the table name for GORM
func (ReceiverRecord) TableName() string {
	return "receivers"
}

// MergedFeedRecord is one configured merged feed. Receiver id lists are
// stored comma separated.
type MergedFeedRecord struct {
	ID                           int    `gorm:"primarykey;autoIncrement:false"`
	Name                         string `gorm:"uniqueIndex;size:100;not null"`
	Enabled                      bool
	ReceiverIDs                  string `gorm:"size:1000"`
	MlatReceiverIDs              string `gorm:"size:1000"`
	IcaoTimeout                  time.Duration
	IgnoreAircraftWithNoPosition bool
	Usage                        string `gorm:"size:20"`

	UpdatedAt time.Time
}

// TableName specifies the table name for GORM
func (MergedFeedRecord) TableName() string {
	return "merged_feeds"
}

// RebroadcastRecord is one configured rebroadcast server
type RebroadcastRecord struct {
	Name      string `gorm:"primarykey;size:100"`
	Enabled   bool
	FeedID    int
	Format    string `gorm:"size:20"`
	Transport string `gorm:"size:20"`
	Address   string `gorm:"size:255"`
	Subject   string `gorm:"size:255"`

	UpdatedAt time.Time
}

// TableName specifies the table name for GORM
func (RebroadcastRecord) TableName() string {
	return "rebroadcast_servers"
}

func newReceiverRecord(r config.Receiver) ReceiverRecord {
	return ReceiverRecord{
		ID:                             r.ID,
		Name:                           r.Name,
		Enabled:                        r.Enabled,
		DataSource:                     r.DataSource.String(),
		ConnectionType:                 r.ConnectionType.String(),
		Address:                        r.Address,
		Port:                           r.Port,
		LocalAddress:                   r.LocalAddress,
		LocalPort:                      r.LocalPort,
		SerialPort:                     r.SerialPort,
		BaudRate:                       r.BaudRate,
		DataBits:                       r.DataBits,
		StopBits:                       r.StopBits,
		Parity:                         r.Parity.String(),
		Handshake:                      r.Handshake.String(),
		WebAddress:                     r.WebAddress,
		FetchInterval:                  r.FetchInterval,
		AutoReconnect:                  r.AutoReconnect,
		IdleTimeout:                    r.IdleTimeout,
		IgnoreBadMessages:              r.IgnoreBadMessages,
		Usage:                          r.Usage.String(),
		IgnoreMilitaryExtendedSquitter: r.RawDecoding.IgnoreMilitaryExtendedSquitter,
		SuppressTisbDecoding:           r.RawDecoding.SuppressTisbDecoding,
		AcceptIcaoInNonPICount:         r.RawDecoding.AcceptIcaoInNonPICount,
	}
}

// Receiver converts the record back to configuration
func (rec ReceiverRecord) Receiver() (config.Receiver, error) {
	r := config.Receiver{
		ID:                rec.ID,
		Name:              rec.Name,
		Enabled:           rec.Enabled,
		Address:           rec.Address,
		Port:              rec.Port,
		LocalAddress:      rec.LocalAddress,
		LocalPort:         rec.LocalPort,
		SerialPort:        rec.SerialPort,
		BaudRate:          rec.BaudRate,
		DataBits:          rec.DataBits,
		StopBits:          rec.StopBits,
		WebAddress:        rec.WebAddress,
		FetchInterval:     rec.FetchInterval,
		AutoReconnect:     rec.AutoReconnect,
		IdleTimeout:       rec.IdleTimeout,
		IgnoreBadMessages: rec.IgnoreBadMessages,
		RawDecoding: config.RawDecoding{
			IgnoreMilitaryExtendedSquitter: rec.IgnoreMilitaryExtendedSquitter,
			SuppressTisbDecoding:           rec.SuppressTisbDecoding,
			AcceptIcaoInNonPICount:         rec.AcceptIcaoInNonPICount,
		},
	}
	err := decodeText(
		textField{rec.DataSource, &r.DataSource},
		textField{rec.ConnectionType, &r.ConnectionType},
		textField{rec.Parity, &r.Parity},
		textField{rec.Handshake, &r.Handshake},
		textField{rec.Usage, &r.Usage},
	)
	if err != nil {
		return config.Receiver{}, fmt.Errorf("receiver %d: %w", rec.ID, err)
	}
	return r, nil
}

func newMergedFeedRecord(m config.MergedFeed) MergedFeedRecord {
	return MergedFeedRecord{
		ID:                           m.ID,
		Name:                         m.Name,
		Enabled:                      m.Enabled,
		ReceiverIDs:                  joinIDs(m.ReceiverIDs),
		MlatReceiverIDs:              joinIDs(m.MlatReceiverIDs),
		IcaoTimeout:                  m.IcaoTimeout,
		IgnoreAircraftWithNoPosition: m.IgnoreAircraftWithNoPosition,
		Usage:                        m.Usage.String(),
	}
}

// MergedFeed converts the record back to configuration
func (rec MergedFeedRecord) MergedFeed() (config.MergedFeed, error) {
	m := config.MergedFeed{
		ID:                           rec.ID,
		Name:                         rec.Name,
		Enabled:                      rec.Enabled,
		IcaoTimeout:                  rec.IcaoTimeout,
		IgnoreAircraftWithNoPosition: rec.IgnoreAircraftWithNoPosition,
	}
	var err error
	if m.ReceiverIDs, err = splitIDs(rec.ReceiverIDs); err != nil {
		return config.MergedFeed{}, fmt.Errorf("merged feed %d: %w", rec.ID, err)
	}
	if m.MlatReceiverIDs, err = splitIDs(rec.MlatReceiverIDs); err != nil {
		return config.MergedFeed{}, fmt.Errorf("merged feed %d: %w", rec.ID, err)
	}
	if err := decodeText(textField{rec.Usage, &m.Usage}); err != nil {
		return config.MergedFeed{}, fmt.Errorf("merged feed %d: %w", rec.ID, err)
	}
	return m, nil
}

func newRebroadcastRecord(s config.RebroadcastServer) RebroadcastRecord {
	return RebroadcastRecord{
		Name:      s.Name,
		Enabled:   s.Enabled,
		FeedID:    s.FeedID,
		Format:    s.Format.String(),
		Transport: s.Transport.String(),
		Address:   s.Address,
		Subject:   s.Subject,
	}
}

// RebroadcastServer converts the record back to configuration
func (rec RebroadcastRecord) RebroadcastServer() (config.RebroadcastServer, error) {
	s := config.RebroadcastServer{
		Name:    rec.Name,
		Enabled: rec.Enabled,
		FeedID:  rec.FeedID,
		Address: rec.Address,
		Subject: rec.Subject,
	}
	err := decodeText(
		textField{rec.Format, &s.Format},
		textField{rec.Transport, &s.Transport},
	)
	if err != nil {
		return config.RebroadcastServer{}, fmt.Errorf("rebroadcast server %q: %w", rec.Name, err)
	}
	return s, nil
}

type textField struct {
	text string
	dst  encoding.TextUnmarshaler
}

func decodeText(fields ...textField) error {
	for _, f := range fields {
		if err := f.dst.UnmarshalText([]byte(f.text)); err != nil {
			return err
		}
	}
	return nil
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func splitIDs(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bad receiver id list %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
