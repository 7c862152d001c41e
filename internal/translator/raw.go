package translator

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dbehnke/adsbfeed/internal/adsb"
	"github.com/dbehnke/adsbfeed/internal/basestation"
	"github.com/dbehnke/adsbfeed/internal/config"
	"github.com/dbehnke/adsbfeed/internal/modes"
)

// ErrClosed is returned by a raw translator after Close
var ErrClosed = errors.New("raw translator closed")

// RawSettings are the decode-tuning settings that can change while the
// translator is in use
type RawSettings = config.RawDecoding

// Defaults for RawOptions
const (
	DefaultCPRPairWindow   = 10 * time.Second
	DefaultAircraftTimeout = 10 * time.Minute
)

// RawOptions configure a raw translator
type RawOptions struct {
	Settings RawSettings

	// even and odd positions further apart than this are not paired
	CPRPairWindow time.Duration

	// per-aircraft state is dropped after this long without a message
	AircraftTimeout time.Duration

	Logger *zap.Logger
}

type cprSample struct {
	lat, lon uint32
	at       time.Time
}

type rawAircraft struct {
	lastSeen   time.Time
	confirmed  bool
	nonPICount int
	even, odd  *cprSample
	surface    *bool
}

// Raw turns decoded Mode-S and ADS-B messages into BaseStation messages. It
// remembers enough about each aircraft to trust addresses recovered from
// parity and to pair position reports.
type Raw struct {
	mu        sync.Mutex
	opts      RawOptions
	settings  RawSettings
	aircraft  map[uint32]*rawAircraft
	onReset   func(icao string)
	lastPurge time.Time
	closed    bool
	logger    *zap.Logger
}

// NewRaw creates a raw translator
func NewRaw(opts RawOptions) *Raw {
	if opts.CPRPairWindow <= 0 {
		opts.CPRPairWindow = DefaultCPRPairWindow
	}
	if opts.AircraftTimeout <= 0 {
		opts.AircraftTimeout = DefaultAircraftTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Raw{
		opts:     opts,
		settings: opts.Settings,
		aircraft: map[uint32]*rawAircraft{},
		logger:   logger.Named("raw"),
	}
}

// Apply replaces the decode-tuning settings without losing aircraft state
func (r *Raw) Apply(s RawSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = s
}

// Settings returns the settings in use
func (r *Raw) Settings() RawSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// SetPositionResetHandler sets the function called when an aircraft's
// earlier positions must be discarded
func (r *Raw) SetPositionResetHandler(fn func(icao string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReset = fn
}

// Close releases the per-aircraft state
func (r *Raw) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.logger.Debug("released aircraft state", zap.Int("aircraft", len(r.aircraft)))
	}
	r.closed = true
	r.aircraft = nil
	r.onReset = nil
	return nil
}

// Translate builds the BaseStation message for m, or nil when m carries
// nothing worth reporting
func (r *Raw) Translate(now time.Time, m *modes.Message, a *adsb.Message) (*basestation.Message, error) {
	if m == nil {
		return nil, nil
	}

	r.mu.Lock()
	msg, reset, err := r.translate(now, m, a)
	onReset := r.onReset
	r.mu.Unlock()

	if reset && onReset != nil {
		onReset(m.IcaoString())
	}
	return msg, err
}

func (r *Raw) translate(now time.Time, m *modes.Message, a *adsb.Message) (*basestation.Message, bool, error) {
	if r.closed {
		return nil, false, ErrClosed
	}
	r.purge(now)

	if a != nil {
		if a.IsMilitary && r.settings.IgnoreMilitaryExtendedSquitter {
			return nil, false, nil
		}
		if a.IsTisb && r.settings.SuppressTisbDecoding {
			return nil, false, nil
		}
	}

	ac := r.aircraft[m.Icao24]
	if ac == nil {
		ac = &rawAircraft{}
	}
	if !r.trusted(m, ac) {
		r.remember(m.Icao24, ac, now)
		return nil, false, nil
	}
	r.remember(m.Icao24, ac, now)

	msg := &basestation.Message{
		MessageType:      basestation.MessageTypeTransmission,
		Icao24:           m.IcaoString(),
		MessageGenerated: now,
		MessageLogged:    now,
		SignalLevel:      m.SignalLevel,
		SessionID:        1,
		AircraftID:       1,
		FlightID:         1,
	}

	if a != nil {
		return r.translateAdsb(now, msg, ac, a)
	}

	switch m.DownlinkFormat {
	case modes.DFShortAirToAir, modes.DFLongAirToAir:
		msg.TransmissionType = basestation.TransmissionAirToAir
		msg.Altitude = altitude(m)
	case modes.DFSurveillanceAltitude, modes.DFCommBAltitudeReply:
		msg.TransmissionType = basestation.TransmissionSurveillanceAltitude
		msg.Altitude = altitude(m)
		flightStatus(msg, m)
	case modes.DFSurveillanceIdentity, modes.DFCommBIdentityReply:
		msg.TransmissionType = basestation.TransmissionSurveillanceID
		if m.IdentityCode != nil {
			squawk := modes.DecodeIdentity(*m.IdentityCode)
			msg.Squawk = &squawk
			msg.Emergency = basestation.Ptr(squawk == 7500 || squawk == 7600 || squawk == 7700)
		}
		flightStatus(msg, m)
	case modes.DFAllCallReply:
		msg.TransmissionType = basestation.TransmissionAllCallReply
		msg.OnGround = m.OnGround()
	default:
		return nil, false, nil
	}
	return msg, false, nil
}

// trusted decides whether the address in m can be believed. Addresses
// confirmed by a clean PI field are always trusted; addresses recovered from
// parity are trusted once seen often enough.
func (r *Raw) trusted(m *modes.Message, ac *rawAircraft) bool {
	if m.HasPI() {
		pi := *m.PI
		if m.DownlinkFormat == modes.DFAllCallReply {
			// the interrogator code sits in the low seven bits
			if pi&^0x7F != 0 {
				return false
			}
		} else if pi != 0 {
			return false
		}
		ac.confirmed = true
		return true
	}

	if ac.confirmed {
		return true
	}
	ac.nonPICount++
	return ac.nonPICount >= r.settings.AcceptIcaoInNonPICount
}

func (r *Raw) remember(icao uint32, ac *rawAircraft, now time.Time) {
	ac.lastSeen = now
	r.aircraft[icao] = ac
}

func (r *Raw) purge(now time.Time) {
	if now.Sub(r.lastPurge) < time.Minute {
		return
	}
	r.lastPurge = now
	for icao, ac := range r.aircraft {
		if now.Sub(ac.lastSeen) > r.opts.AircraftTimeout {
			delete(r.aircraft, icao)
		}
	}
}

func (r *Raw) translateAdsb(now time.Time, msg *basestation.Message, ac *rawAircraft, a *adsb.Message) (*basestation.Message, bool, error) {
	reset := false

	switch a.Kind {
	case adsb.KindIdentification:
		msg.TransmissionType = basestation.TransmissionIdentificationAndCategory
		msg.Callsign = a.Callsign
	case adsb.KindSurfacePosition:
		msg.TransmissionType = basestation.TransmissionSurfacePosition
		msg.OnGround = basestation.Ptr(true)
		msg.Track = a.Track
		reset = r.trackPosition(now, ac, a.Position)
	case adsb.KindAirbornePosition:
		msg.TransmissionType = basestation.TransmissionAirbornePosition
		msg.OnGround = basestation.Ptr(false)
		msg.Altitude = a.Altitude
		reset = r.trackPosition(now, ac, a.Position)
		if lat, lon, ok := r.resolve(ac, a.Position); ok {
			msg.Latitude = &lat
			msg.Longitude = &lon
		}
	case adsb.KindAirborneVelocity:
		msg.TransmissionType = basestation.TransmissionAirborneVelocity
		msg.GroundSpeed = a.GroundSpeed
		msg.Track = a.Track
		msg.VerticalRate = a.VerticalRate
	default:
		return nil, false, nil
	}
	return msg, reset, nil
}

// trackPosition stores a position report and reports whether the aircraft
// switched between surface and airborne reports
func (r *Raw) trackPosition(now time.Time, ac *rawAircraft, p *adsb.CPR) bool {
	if p == nil {
		return false
	}

	reset := ac.surface != nil && *ac.surface != p.Surface
	if reset {
		ac.even, ac.odd = nil, nil
	}
	ac.surface = basestation.Ptr(p.Surface)

	sample := &cprSample{lat: p.Lat, lon: p.Lon, at: now}
	if p.Odd {
		ac.odd = sample
	} else {
		ac.even = sample
	}
	return reset
}

func (r *Raw) resolve(ac *rawAircraft, p *adsb.CPR) (float64, float64, bool) {
	if p == nil || p.Surface || ac.even == nil || ac.odd == nil {
		return 0, 0, false
	}
	gap := ac.even.at.Sub(ac.odd.at)
	if gap < 0 {
		gap = -gap
	}
	if gap > r.opts.CPRPairWindow {
		return 0, 0, false
	}
	return decodeAirborneCPR(*ac.even, *ac.odd, !p.Odd)
}

func altitude(m *modes.Message) *int {
	if m.AltitudeCode == nil {
		return nil
	}
	return modes.DecodeAltitude(*m.AltitudeCode)
}

// flightStatus copies the alert, ident and ground flags from a
// surveillance reply's FS field
func flightStatus(msg *basestation.Message, m *modes.Message) {
	fs := m.Capability
	msg.SquawkHasChanged = basestation.Ptr(fs >= 2 && fs <= 4)
	msg.IdentActive = basestation.Ptr(fs == 4 || fs == 5)
	msg.OnGround = m.OnGround()
}
