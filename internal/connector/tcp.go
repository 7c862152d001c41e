package connector

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

const (
	tcpDialTimeout = 10 * time.Second
	tcpKeepAlive   = 30 * time.Second
)

// TCP connects to a feeder that serves its stream on a TCP port
type TCP struct {
	Address   string
	Port      int
	KeepAlive bool
}

// Dial connects to the feeder
func (t *TCP) Dial(ctx context.Context) (io.ReadCloser, error) {
	d := net.Dialer{Timeout: tcpDialTimeout, KeepAlive: -1}
	if t.KeepAlive {
		d.KeepAlive = tcpKeepAlive
	}
	conn, err := d.DialContext(ctx, "tcp", t.endpoint())
	if err != nil {
		return nil, fmt.Errorf("tcp dial %s: %w", t.endpoint(), err)
	}
	return conn, nil
}

func (t *TCP) endpoint() string {
	return net.JoinHostPort(t.Address, strconv.Itoa(t.Port))
}

func (t *TCP) String() string {
	return "tcp://" + t.endpoint()
}
