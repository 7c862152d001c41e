// Package rebroadcast passes a feed's messages on to downstream consumers
// over TCP, WebSocket or NATS.
package rebroadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dbehnke/adsbfeed/internal/basestation"
	"github.com/dbehnke/adsbfeed/internal/compressed"
	"github.com/dbehnke/adsbfeed/internal/config"
)

// jsonMessage is the JSON form of a message. Absent values are omitted.
type jsonMessage struct {
	Type             string    `json:"type"`
	TransmissionType int       `json:"transmission_type,omitempty"`
	Icao             string    `json:"icao"`
	Generated        time.Time `json:"generated"`
	Callsign         string    `json:"callsign,omitempty"`
	Altitude         *int      `json:"altitude,omitempty"`
	GroundSpeed      *float64  `json:"ground_speed,omitempty"`
	Track            *float64  `json:"track,omitempty"`
	Latitude         *float64  `json:"lat,omitempty"`
	Longitude        *float64  `json:"lon,omitempty"`
	VerticalRate     *int      `json:"vertical_rate,omitempty"`
	Squawk           *int      `json:"squawk,omitempty"`
	Emergency        *bool     `json:"emergency,omitempty"`
	IdentActive      *bool     `json:"ident,omitempty"`
	OnGround         *bool     `json:"on_ground,omitempty"`
	SignalLevel      *int      `json:"signal_level,omitempty"`
	ReceiverID       int       `json:"receiver_id"`
	Mlat             bool      `json:"mlat,omitempty"`
}

// Encode formats msg for the wire. Port30003 lines end in CRLF and JSON
// documents in LF; compressed records carry their own length.
func Encode(format config.RebroadcastFormat, msg *basestation.Message) ([]byte, error) {
	switch format {
	case config.FormatPort30003:
		return []byte(msg.String() + "\r\n"), nil
	case config.FormatCompressed:
		return compressed.Compress(msg)
	case config.FormatJSON:
		b, err := json.Marshal(jsonMessage{
			Type:             msg.MessageType.String(),
			TransmissionType: int(msg.TransmissionType),
			Icao:             msg.Icao24,
			Generated:        msg.MessageGenerated,
			Callsign:         msg.Callsign,
			Altitude:         msg.Altitude,
			GroundSpeed:      msg.GroundSpeed,
			Track:            msg.Track,
			Latitude:         msg.Latitude,
			Longitude:        msg.Longitude,
			VerticalRate:     msg.VerticalRate,
			Squawk:           msg.Squawk,
			Emergency:        msg.Emergency,
			IdentActive:      msg.IdentActive,
			OnGround:         msg.OnGround,
			SignalLevel:      msg.SignalLevel,
			ReceiverID:       msg.ReceiverID,
			Mlat:             msg.IsMlat,
		})
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	}
	return nil, fmt.Errorf("unknown rebroadcast format %s", format)
}
