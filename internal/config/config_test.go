package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
log:
  level: debug
metrics:
  address: 127.0.0.1:9110
heartbeat:
  fast_tick: 500ms
receivers:
  - id: 1
    name: Roof
    data_source: beast
    connection_type: tcp
    address: 192.168.0.10
    port: 30005
    ignore_bad_messages: true
    raw_decoding:
      suppress_tisb_decoding: true
  - id: 2
    name: Garage
    data_source: sbs3
    connection_type: serial
    serial_port: /dev/ttyUSB0
    baud_rate: 3000000
    parity: even
    handshake: rts
    idle_timeout: 30s
  - id: 3
    name: Remote
    data_source: port30003
    connection_type: http
    web_address: http://example.com/basestation
    fetch_interval: 2s
    usage: merge_only
merged_feeds:
  - id: 10
    name: All
    receiver_ids: [1, 2, 3]
    mlat_receiver_ids: [3]
    ignore_aircraft_with_no_position: true
rebroadcast:
  - name: Out
    feed_id: 10
    format: compressed
    transport: tcp
    address: ":33001"
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(testConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:9110", cfg.Metrics.Address)
	assert.Equal(t, 500*time.Millisecond, cfg.Heartbeat.FastTick)
	assert.Equal(t, DefaultSlowTick, cfg.Heartbeat.SlowTick, "unset fields keep their defaults")

	require.Len(t, cfg.Receivers, 3)

	roof := cfg.Receivers[0]
	assert.Equal(t, DataSourceBeast, roof.DataSource)
	assert.Equal(t, ConnectionTCP, roof.ConnectionType)
	assert.True(t, roof.Enabled, "receivers default to enabled")
	assert.True(t, roof.AutoReconnect)
	assert.True(t, roof.IgnoreBadMessages)
	assert.True(t, roof.RawDecoding.SuppressTisbDecoding)
	assert.Equal(t, DefaultIdleTimeout, roof.IdleTimeout)

	garage := cfg.Receivers[1]
	assert.Equal(t, DataSourceSbs3, garage.DataSource)
	assert.Equal(t, ConnectionSerial, garage.ConnectionType)
	assert.Equal(t, 3000000, garage.BaudRate)
	assert.Equal(t, ParityEven, garage.Parity)
	assert.Equal(t, HandshakeRTS, garage.Handshake)
	assert.Equal(t, 8, garage.DataBits)
	assert.Equal(t, 30*time.Second, garage.IdleTimeout)

	remote := cfg.Receivers[2]
	assert.Equal(t, ConnectionHTTP, remote.ConnectionType)
	assert.Equal(t, 2*time.Second, remote.FetchInterval)
	assert.Equal(t, UsageMergeOnly, remote.Usage)

	require.Len(t, cfg.MergedFeeds, 1)
	merged := cfg.MergedFeeds[0]
	assert.Equal(t, []int{1, 2, 3}, merged.ReceiverIDs)
	assert.Equal(t, []int{3}, merged.MlatReceiverIDs)
	assert.Equal(t, DefaultIcaoTimeout, merged.IcaoTimeout)
	assert.True(t, merged.IgnoreAircraftWithNoPosition)

	require.Len(t, cfg.Rebroadcast, 1)
	assert.Equal(t, FormatCompressed, cfg.Rebroadcast[0].Format)
	assert.True(t, cfg.Rebroadcast[0].Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adsbfeed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Receivers, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg, err := Parse([]byte(testConfig))
	require.NoError(t, err)

	data, err := cfg.Marshal()
	require.NoError(t, err)

	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown data source",
			yaml: "receivers:\n  - {id: 1, name: a, data_source: morse, address: x, port: 1}\n",
		},
		{
			name: "duplicate id",
			yaml: "receivers:\n  - {id: 1, name: a, address: x, port: 1}\n  - {id: 1, name: b, address: x, port: 1}\n",
		},
		{
			name: "duplicate name",
			yaml: "receivers:\n  - {id: 1, name: a, address: x, port: 1}\n  - {id: 2, name: a, address: x, port: 1}\n",
		},
		{
			name: "tcp without port",
			yaml: "receivers:\n  - {id: 1, name: a, address: x}\n",
		},
		{
			name: "udp without local port",
			yaml: "receivers:\n  - {id: 1, name: a, connection_type: udp}\n",
		},
		{
			name: "merged feed with unknown receiver",
			yaml: "receivers:\n  - {id: 1, name: a, address: x, port: 1}\nmerged_feeds:\n  - {id: 2, name: m, receiver_ids: [1, 9]}\n",
		},
		{
			name: "mlat receiver outside the merge",
			yaml: "receivers:\n  - {id: 1, name: a, address: x, port: 1}\n  - {id: 3, name: c, address: x, port: 1}\nmerged_feeds:\n  - {id: 2, name: m, receiver_ids: [1], mlat_receiver_ids: [3]}\n",
		},
		{
			name: "rebroadcast of unknown feed",
			yaml: "rebroadcast:\n  - {name: r, feed_id: 4, address: ':1'}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestConnectionKey(t *testing.T) {
	r := DefaultReceiver()
	r.Address = "host"
	r.Port = 30005
	key := r.ConnectionKey()

	r.IgnoreBadMessages = true
	r.DataSource = DataSourceSbs3
	assert.Equal(t, key, r.ConnectionKey(), "non-connection fields must not change the key")

	r.Port = 30006
	assert.NotEqual(t, key, r.ConnectionKey())

	serial := DefaultReceiver()
	serial.ConnectionType = ConnectionSerial
	serial.SerialPort = "COM1"
	serialKey := serial.ConnectionKey()
	serial.Parity = ParityOdd
	assert.NotEqual(t, serialKey, serial.ConnectionKey())
}

func TestEnumText(t *testing.T) {
	var ds DataSource
	require.NoError(t, ds.UnmarshalText([]byte(" PlaneFinder ")))
	assert.Equal(t, DataSourcePlaneFinder, ds)

	text, err := DataSourceCompressed.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "compressed", string(text))

	assert.Equal(t, "unknown(42)", DataSource(42).String())
}
