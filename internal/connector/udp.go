package connector

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"go.uber.org/zap"
)

// UDP receives a feeder's stream as datagrams sent to a local port
type UDP struct {
	LocalAddress string
	LocalPort    int
	Logger       *zap.Logger
}

// Dial binds the local port. An empty address binds every interface.
func (u *UDP) Dial(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	localAddr := &net.UDPAddr{IP: net.IPv4zero, Port: u.LocalPort}
	if u.LocalAddress != "" {
		ip, err := Lookup(u.LocalAddress)
		if err != nil {
			return nil, err
		}
		localAddr.IP = ip
	}

	conn, err := net.ListenUDP("udp4", localAddr)
	if err != nil {
		return nil, fmt.Errorf("udp bind %s: %w", localAddr, err)
	}
	u.logger().Info("UDP socket bound", zap.Stringer("local", conn.LocalAddr()))
	return &udpStream{conn: conn}, nil
}

func (u *UDP) logger() *zap.Logger {
	if u.Logger == nil {
		return zap.NewNop()
	}
	return u.Logger
}

func (u *UDP) String() string {
	return "udp://" + net.JoinHostPort(u.LocalAddress, strconv.Itoa(u.LocalPort))
}

// udpStream reads datagrams from any sender as one byte stream
type udpStream struct {
	conn *net.UDPConn
}

func (s *udpStream) Read(p []byte) (int, error) {
	n, _, err := s.conn.ReadFromUDP(p)
	return n, err
}

func (s *udpStream) Close() error {
	return s.conn.Close()
}

// Lookup resolves hostname to an IPv4 address
func Lookup(hostname string) (net.IP, error) {
	if ip := net.ParseIP(hostname); ip != nil {
		return ip, nil
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if ip.To4() != nil {
			return ip, nil
		}
	}
	return nil, fmt.Errorf("no IPv4 address found for %s", hostname)
}
