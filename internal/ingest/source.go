// Package ingest reads position streams from a network feed, a NATS
// subject, or a replay file, and drives the tracker, rule engine, and
// optional shadow consumers with periodic checkpoints.
package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/nats-io/nats.go"
)

// reconnectDelay is the sleep between connection attempts.
const reconnectDelay = 2 * time.Second

// Source yields one raw JSON line per call. io.EOF signals a clean end
// of stream.
type Source interface {
	Next() ([]byte, error)
	Close() error
}

// TCPSource reads newline-delimited JSON from a TCP feed, reconnecting
// on error when retry is set.
type TCPSource struct {
	addr  string
	retry bool

	conn net.Conn
	r    *bufio.Reader
}

// NewTCPSource creates a source for host:port. With retry, read and
// connect failures sleep and reconnect instead of ending the stream.
func NewTCPSource(addr string, retry bool) *TCPSource {
	return &TCPSource{addr: addr, retry: retry}
}

func (s *TCPSource) connect() error {
	conn, err := net.DialTimeout("tcp", s.addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("connect %s: %w", s.addr, err)
	}
	log.Printf("connected to %s", s.addr)
	s.conn = conn
	s.r = bufio.NewReader(conn)
	return nil
}

// Next returns the next line from the feed.
func (s *TCPSource) Next() ([]byte, error) {
	for {
		if s.r == nil {
			if err := s.connect(); err != nil {
				if !s.retry {
					return nil, err
				}
				log.Printf("ERROR: %v (retrying)", err)
				time.Sleep(reconnectDelay)
				continue
			}
		}

		line, err := s.r.ReadBytes('\n')
		if err == nil {
			return line, nil
		}

		_ = s.conn.Close()
		s.conn, s.r = nil, nil
		if !s.retry {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read %s: %w", s.addr, err)
		}
		log.Printf("ERROR: read %s: %v (reconnecting)", s.addr, err)
		time.Sleep(reconnectDelay)
	}
}

// Close closes the connection.
func (s *TCPSource) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// NATSSource reads positions published on a NATS subject.
type NATSSource struct {
	nc  *nats.Conn
	sub *nats.Subscription
	ch  chan *nats.Msg
}

// NewNATSSource connects to a NATS server and subscribes to subject.
func NewNATSSource(url, subject string) (*NATSSource, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectDelay),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("ERROR: nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected to %s", nc.ConnectedUrl())
		}))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}

	ch := make(chan *nats.Msg, 1024)
	sub, err := nc.ChanSubscribe(subject, ch)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return &NATSSource{nc: nc, sub: sub, ch: ch}, nil
}

// Next returns the next published message.
func (s *NATSSource) Next() ([]byte, error) {
	msg, ok := <-s.ch
	if !ok {
		return nil, io.EOF
	}
	return msg.Data, nil
}

// Close unsubscribes and drains the connection.
func (s *NATSSource) Close() error {
	err := s.sub.Unsubscribe()
	close(s.ch)
	s.nc.Close()
	return err
}

// heartbeatCadence is the interval at which heartbeat entries are
// synthesized across gaps in a replay file, so checkpointing advances
// even when no aircraft are seen.
const heartbeatCadence = 5.0

// ReplaySource reads a sorted JSONL file (optionally gzip-compressed,
// by extension) and fills timestamp gaps with heartbeat entries.
type ReplaySource struct {
	f  *os.File
	gz *gzip.Reader
	sc *bufio.Scanner

	pending []byte  // line held back while heartbeats catch up
	lastNow float64 // timestamp of the last emitted entry
}

// NewReplaySource opens path for replay.
func NewReplaySource(path string) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}

	s := &ReplaySource{f: f}
	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("open gzip replay: %w", err)
		}
		s.gz = gz
		r = gz
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	s.sc = sc
	return s, nil
}

// Next returns the next replay line, inserting heartbeats of the form
// {"flight":"N/A","now":<ts>} when the file's timestamps jump.
func (s *ReplaySource) Next() ([]byte, error) {
	if s.pending == nil {
		for s.sc.Scan() {
			line := strings.TrimSpace(s.sc.Text())
			if line == "" {
				continue
			}
			s.pending = []byte(line)
			break
		}
		if s.pending == nil {
			if err := s.sc.Err(); err != nil {
				return nil, fmt.Errorf("read replay: %w", err)
			}
			return nil, io.EOF
		}
	}

	now := lineTimestamp(s.pending)
	if s.lastNow != 0 && now-s.lastNow > heartbeatCadence {
		s.lastNow += heartbeatCadence
		return heartbeatLine(s.lastNow), nil
	}

	line := s.pending
	s.pending = nil
	if now > s.lastNow {
		s.lastNow = now
	}
	return line, nil
}

// Close closes the file.
func (s *ReplaySource) Close() error {
	if s.gz != nil {
		_ = s.gz.Close()
	}
	return s.f.Close()
}

func lineTimestamp(line []byte) float64 {
	var probe struct {
		Now float64 `json:"now"`
	}
	_ = json.Unmarshal(line, &probe)
	return probe.Now
}

func heartbeatLine(now float64) []byte {
	b, _ := json.Marshal(map[string]any{"flight": "N/A", "now": now})
	return b
}
