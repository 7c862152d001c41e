package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarm/serial"

	"github.com/dbehnke/adsbfeed/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		receiver config.Receiver
		want     Connector
		text     string
	}{
		{
			name:     "tcp",
			receiver: config.Receiver{ConnectionType: config.ConnectionTCP, Address: "10.0.0.1", Port: 30005},
			want:     &TCP{},
			text:     "tcp://10.0.0.1:30005",
		},
		{
			name:     "udp",
			receiver: config.Receiver{ConnectionType: config.ConnectionUDP, LocalPort: 30003},
			want:     &UDP{},
			text:     "udp://:30003",
		},
		{
			name:     "serial",
			receiver: config.Receiver{ConnectionType: config.ConnectionSerial, SerialPort: "/dev/ttyUSB0", BaudRate: 3000000},
			want:     &Serial{},
			text:     "serial:///dev/ttyUSB0?baud=3000000",
		},
		{
			name:     "http",
			receiver: config.Receiver{ConnectionType: config.ConnectionHTTP, WebAddress: "http://example.com/data"},
			want:     &HTTPPoll{},
			text:     "http://example.com/data",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.receiver, nil)
			require.NoError(t, err)
			assert.IsType(t, tt.want, c)
			assert.Equal(t, tt.text, c.String())
		})
	}

	poll, err := New(config.Receiver{ConnectionType: config.ConnectionHTTP, DataSource: config.DataSourceCompressed}, nil)
	require.NoError(t, err)
	assert.NotNil(t, poll.(*HTTPPoll).Transform, "aircraft lists are converted for compressed receivers")

	_, err = New(config.Receiver{ConnectionType: config.ConnectionType(42)}, nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestIsClosedError(t *testing.T) {
	assert.True(t, IsClosedError(net.ErrClosed))
	assert.True(t, IsClosedError(fmt.Errorf("read: %w", os.ErrClosed)))
	assert.True(t, IsClosedError(io.ErrClosedPipe))
	assert.True(t, IsClosedError(context.Canceled))
	assert.False(t, IsClosedError(io.EOF))
	assert.False(t, IsClosedError(errors.New("connection refused")))
	assert.False(t, IsClosedError(nil))
}

func TestTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("MSG,8\n"))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	c := &TCP{Address: "127.0.0.1", Port: addr.Port, KeepAlive: true}
	stream, err := c.Dial(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "MSG,8\n", string(data))
}

func TestTCPRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = (&TCP{Address: "127.0.0.1", Port: port}).Dial(context.Background())
	assert.Error(t, err)
}

func TestUDP(t *testing.T) {
	u := &UDP{LocalAddress: "127.0.0.1"}
	stream, err := u.Dial(context.Background())
	require.NoError(t, err)

	local := stream.(*udpStream).conn.LocalAddr().(*net.UDPAddr)
	sender, err := net.DialUDP("udp4", nil, local)
	require.NoError(t, err)
	defer sender.Close()
	_, err = sender.Write([]byte{0x1A, 0x32})
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := stream.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1A, 0x32}, buf[:n])

	require.NoError(t, stream.Close())
	_, err = stream.Read(buf)
	assert.True(t, IsClosedError(err))
}

func TestSerialPortConfig(t *testing.T) {
	s := &Serial{Port: "/dev/ttyUSB0", Baud: 115200, DataBits: 8, StopBits: 2, Parity: config.ParityEven}
	cfg, err := s.portConfig()
	require.NoError(t, err)
	assert.Equal(t, &serial.Config{
		Name:     "/dev/ttyUSB0",
		Baud:     115200,
		Size:     8,
		StopBits: serial.Stop2,
		Parity:   serial.ParityEven,
	}, cfg)

	s.StopBits = 3
	_, err = s.portConfig()
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	s.StopBits = 1
	s.Port = "/definitely/not/a/serial/port"
	_, err = s.Dial(context.Background())
	assert.Error(t, err)
}

func TestHTTPPoll(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		fmt.Fprintf(w, "body %d\n", n)
	}))
	defer srv.Close()

	h := &HTTPPoll{URL: srv.URL, Interval: 10 * time.Millisecond}
	stream, err := h.Dial(context.Background())
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := stream.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "body 1\n", string(buf[:n]))

	n, err = stream.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "body 2\n", string(buf[:n]))

	require.NoError(t, stream.Close())
	_, err = stream.Read(buf)
	assert.True(t, IsClosedError(err))
}

func TestHTTPPollTransformAndFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("abc"))
	}))
	defer srv.Close()

	_, err := (&HTTPPoll{URL: srv.URL + "/broken"}).Dial(context.Background())
	assert.Error(t, err, "a failing first fetch is a connect failure")

	h := &HTTPPoll{
		URL:       srv.URL,
		Interval:  time.Hour,
		Transform: func(b []byte) ([]byte, error) { return append([]byte("<"), append(b, '>')...), nil },
	}
	stream, err := h.Dial(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	buf := make([]byte, 16)
	n, err := stream.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "<abc>", string(buf[:n]))
}
