// Package basestation implements the Kinetic BaseStation message used as the
// normalised output of every decoding pipeline, and its Port30003 text form.
package basestation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidMessage is returned for text that is not a BaseStation message
var ErrInvalidMessage = errors.New("invalid basestation message")

// MessageType is the first field of a BaseStation line
type MessageType int

const (
	MessageTypeNone MessageType = iota
	MessageTypeTransmission
	MessageTypeSelectionChange
	MessageTypeNewIdentifier
	MessageTypeNewAircraft
	MessageTypeStatusChange
	MessageTypeUserClicked
)

var messageTypeText = map[MessageType]string{
	MessageTypeTransmission:    "MSG",
	MessageTypeSelectionChange: "SEL",
	MessageTypeNewIdentifier:   "ID",
	MessageTypeNewAircraft:     "AIR",
	MessageTypeStatusChange:    "STA",
	MessageTypeUserClicked:     "CLK",
}

func (t MessageType) String() string {
	if s, ok := messageTypeText[t]; ok {
		return s
	}
	return ""
}

// TransmissionType identifies the kind of MSG line
type TransmissionType int

const (
	TransmissionNone TransmissionType = iota
	TransmissionIdentificationAndCategory
	TransmissionSurfacePosition
	TransmissionAirbornePosition
	TransmissionAirborneVelocity
	TransmissionSurveillanceAltitude
	TransmissionSurveillanceID
	TransmissionAirToAir
	TransmissionAllCallReply
)

// Message is one BaseStation message. Optional values are nil when the
// message did not carry them.
type Message struct {
	MessageType      MessageType
	TransmissionType TransmissionType
	SessionID        int
	AircraftID       int
	FlightID         int
	Icao24           string
	MessageGenerated time.Time
	MessageLogged    time.Time
	Callsign         string
	Altitude         *int
	GroundSpeed      *float64
	Track            *float64
	Latitude         *float64
	Longitude        *float64
	VerticalRate     *int
	Squawk           *int
	SquawkHasChanged *bool
	Emergency        *bool
	IdentActive      *bool
	OnGround         *bool
	StatusCode       string

	// Not part of the text form
	SignalLevel *int
	ReceiverID  int
	IsMlat      bool
}

// HasPosition reports whether the message carries a usable position
func (m *Message) HasPosition() bool {
	if m.Latitude == nil || m.Longitude == nil {
		return false
	}
	return *m.Latitude != 0 || *m.Longitude != 0
}

// Clone returns a deep copy of the message
func (m *Message) Clone() *Message {
	c := *m
	c.Altitude = clonePtr(m.Altitude)
	c.GroundSpeed = clonePtr(m.GroundSpeed)
	c.Track = clonePtr(m.Track)
	c.Latitude = clonePtr(m.Latitude)
	c.Longitude = clonePtr(m.Longitude)
	c.VerticalRate = clonePtr(m.VerticalRate)
	c.Squawk = clonePtr(m.Squawk)
	c.SquawkHasChanged = clonePtr(m.SquawkHasChanged)
	c.Emergency = clonePtr(m.Emergency)
	c.IdentActive = clonePtr(m.IdentActive)
	c.OnGround = clonePtr(m.OnGround)
	c.SignalLevel = clonePtr(m.SignalLevel)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v, for filling optional fields
func Ptr[T any](v T) *T {
	return &v
}

const (
	dateLayout = "2006/01/02"
	timeLayout = "15:04:05.000"
)

// field indexes of a MSG line
const (
	fieldMessageType = iota
	fieldTransmissionType
	fieldSessionID
	fieldAircraftID
	fieldIcao24
	fieldFlightID
	fieldDateGenerated
	fieldTimeGenerated
	fieldDateLogged
	fieldTimeLogged
	fieldCallsign
	fieldAltitude
	fieldGroundSpeed
	fieldTrack
	fieldLatitude
	fieldLongitude
	fieldVerticalRate
	fieldSquawk
	fieldSquawkHasChanged
	fieldEmergency
	fieldIdentActive
	fieldOnGround
	fieldCount
)

// Parse decodes one line of Port30003 text
func Parse(text string, signalLevel *int) (*Message, error) {
	fields := strings.Split(strings.TrimRight(text, "\r\n"), ",")

	m := &Message{SignalLevel: signalLevel}
	for t, s := range messageTypeText {
		if fields[0] == s {
			m.MessageType = t
			break
		}
	}
	if m.MessageType == MessageTypeNone {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, fields[0])
	}
	if len(fields) < fieldCallsign {
		return nil, fmt.Errorf("%w: %d fields", ErrInvalidMessage, len(fields))
	}
	if m.MessageType == MessageTypeTransmission && len(fields) < fieldCount {
		return nil, fmt.Errorf("%w: MSG line has %d fields", ErrInvalidMessage, len(fields))
	}

	p := parser{fields: fields}
	m.TransmissionType = TransmissionType(p.integer(fieldTransmissionType))
	m.SessionID = p.integer(fieldSessionID)
	m.AircraftID = p.integer(fieldAircraftID)
	m.Icao24 = strings.ToUpper(p.text(fieldIcao24))
	m.FlightID = p.integer(fieldFlightID)
	m.MessageGenerated = p.timestamp(fieldDateGenerated, fieldTimeGenerated)
	m.MessageLogged = p.timestamp(fieldDateLogged, fieldTimeLogged)

	switch m.MessageType {
	case MessageTypeStatusChange:
		m.StatusCode = p.text(fieldCallsign)
	case MessageTypeTransmission:
		m.Callsign = strings.TrimSpace(p.text(fieldCallsign))
		m.Altitude = p.optionalInt(fieldAltitude)
		m.GroundSpeed = p.optionalFloat(fieldGroundSpeed)
		m.Track = p.optionalFloat(fieldTrack)
		m.Latitude = p.optionalFloat(fieldLatitude)
		m.Longitude = p.optionalFloat(fieldLongitude)
		m.VerticalRate = p.optionalInt(fieldVerticalRate)
		m.Squawk = p.optionalInt(fieldSquawk)
		m.SquawkHasChanged = p.flag(fieldSquawkHasChanged)
		m.Emergency = p.flag(fieldEmergency)
		m.IdentActive = p.flag(fieldIdentActive)
		m.OnGround = p.flag(fieldOnGround)
	default:
		if len(fields) > fieldCallsign {
			m.Callsign = strings.TrimSpace(p.text(fieldCallsign))
		}
	}

	if p.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, p.err)
	}
	return m, nil
}

// parser keeps the first error met while reading fields
type parser struct {
	fields []string
	err    error
}

func (p *parser) text(i int) string {
	if i >= len(p.fields) {
		return ""
	}
	return strings.TrimSpace(p.fields[i])
}

func (p *parser) integer(i int) int {
	v := p.optionalInt(i)
	if v == nil {
		return 0
	}
	return *v
}

func (p *parser) optionalInt(i int) *int {
	s := p.text(i)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		// some feeders write whole numbers with a decimal point
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			p.fail(i, err)
			return nil
		}
		v = int(f)
	}
	return &v
}

func (p *parser) optionalFloat(i int) *float64 {
	s := p.text(i)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(i, err)
		return nil
	}
	return &v
}

func (p *parser) flag(i int) *bool {
	switch p.text(i) {
	case "":
		return nil
	case "0":
		return Ptr(false)
	default:
		return Ptr(true)
	}
}

func (p *parser) timestamp(dateField, timeField int) time.Time {
	d, t := p.text(dateField), p.text(timeField)
	if d == "" || t == "" {
		return time.Time{}
	}
	ts, err := time.Parse(dateLayout+" "+timeLayout, d+" "+t)
	if err != nil {
		// times without milliseconds
		ts, err = time.Parse(dateLayout+" 15:04:05", d+" "+t)
		if err != nil {
			p.fail(timeField, err)
		}
	}
	return ts
}

func (p *parser) fail(i int, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("field %d: %w", i, err)
	}
}

// String formats the message as a Port30003 line without the line ending
func (m *Message) String() string {
	var b strings.Builder
	b.WriteString(m.MessageType.String())
	b.WriteByte(',')
	if m.TransmissionType != TransmissionNone {
		b.WriteString(strconv.Itoa(int(m.TransmissionType)))
	}
	fmt.Fprintf(&b, ",%d,%d,%s,%d,", m.SessionID, m.AircraftID, m.Icao24, m.FlightID)
	writeTimestamp(&b, m.MessageGenerated)
	b.WriteByte(',')
	writeTimestamp(&b, m.MessageLogged)
	b.WriteByte(',')

	if m.MessageType == MessageTypeStatusChange {
		b.WriteString(m.StatusCode)
		return b.String()
	}

	b.WriteString(m.Callsign)
	if m.MessageType != MessageTypeTransmission {
		return b.String()
	}

	writeOptional(&b, m.Altitude, strconv.Itoa)
	writeOptional(&b, m.GroundSpeed, formatFloat)
	writeOptional(&b, m.Track, formatFloat)
	writeOptional(&b, m.Latitude, formatFloat)
	writeOptional(&b, m.Longitude, formatFloat)
	writeOptional(&b, m.VerticalRate, strconv.Itoa)
	writeOptional(&b, m.Squawk, func(v int) string { return fmt.Sprintf("%04d", v) })
	writeOptional(&b, m.SquawkHasChanged, formatFlag)
	writeOptional(&b, m.Emergency, formatFlag)
	writeOptional(&b, m.IdentActive, formatFlag)
	writeOptional(&b, m.OnGround, formatFlag)
	return b.String()
}

func writeTimestamp(b *strings.Builder, t time.Time) {
	if t.IsZero() {
		b.WriteByte(',')
		return
	}
	b.WriteString(t.Format(dateLayout))
	b.WriteByte(',')
	b.WriteString(t.Format(timeLayout))
}

func writeOptional[T any](b *strings.Builder, v *T, format func(T) string) {
	b.WriteByte(',')
	if v != nil {
		b.WriteString(format(*v))
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatFlag(v bool) string {
	if v {
		return "-1"
	}
	return "0"
}
