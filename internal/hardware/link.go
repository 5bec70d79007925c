/*
Copyright (C) 2026 Starkindred Observatory

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package hardware speaks the ground station's half-duplex command
// protocol: short ASCII command lines out, a drained burst of reply bytes
// back. The link is flaky by nature, so every command is framed as an
// exchange that the station layer may retry.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// Link is one conversation with the station's serial bridge. The protocol
// is half-duplex: a command goes out, then the reply is drained until the
// line goes idle.
type Link interface {
	Send(line string) error
	Drain() (string, error)
	Close() error
}

// Dialer opens a fresh link for a single command exchange. Scoping the
// connection to the exchange keeps a wedged bridge socket from poisoning
// later commands.
type Dialer func(ctx context.Context) (Link, error)

// NewTCPDialer returns a dialer for a serial-over-TCP bridge at addr.
// idleTimeout bounds each read while draining; once a read window passes
// with no bytes the reply is considered complete.
func NewTCPDialer(addr string, idleTimeout time.Duration) Dialer {
	return func(ctx context.Context) (Link, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial station %s: %w", addr, err)
		}
		return &tcpLink{conn: conn, idleTimeout: idleTimeout}, nil
	}
}

type tcpLink struct {
	conn        net.Conn
	idleTimeout time.Duration
}

func (l *tcpLink) Send(line string) error {
	if err := l.conn.SetWriteDeadline(time.Now().Add(l.idleTimeout)); err != nil {
		return err
	}
	if _, err := l.conn.Write([]byte(line)); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}

// Drain accumulates reply bytes until the line stays quiet for a full
// idle window. An empty string means the station never answered.
func (l *tcpLink) Drain() (string, error) {
	var reply []byte
	buf := make([]byte, 256)
	for {
		if err := l.conn.SetReadDeadline(time.Now().Add(l.idleTimeout)); err != nil {
			return string(reply), err
		}
		n, err := l.conn.Read(buf)
		reply = append(reply, buf[:n]...)
		if err != nil {
			if isTimeout(err) {
				return string(reply), nil
			}
			// The bridge closes the socket once its reply is out.
			if errors.Is(err, io.EOF) && len(reply) > 0 {
				return string(reply), nil
			}
			return string(reply), fmt.Errorf("read reply: %w", err)
		}
	}
}

func (l *tcpLink) Close() error {
	return l.conn.Close()
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
