// Package radar streams point-cloud frames from a radar bridge. The bridge
// serves newline-delimited JSON frames over TCP; each frame carries the
// detected points in Cartesian coordinates plus radial velocity and SNR.
package radar

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"skillsd/internal/stream"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	// V is radial velocity in m/s, positive away from the sensor.
	V   float64 `json:"v"`
	SNR float64 `json:"snr"`
}

type PointCloud struct {
	Frame  uint64  `json:"frame"`
	Points []Point `json:"points"`
}

// Info is the periodic sensor status report.
type Info struct {
	Addr      string  `json:"addr"`
	Connected bool    `json:"connected"`
	Frames    uint64  `json:"frames"`
	FrameRate float64 `json:"frame_rate_hz"`
	UTC       string  `json:"utc"`
}

type Config struct {
	// Addr is host:port of the radar bridge data endpoint.
	Addr string

	DialTimeout    time.Duration
	ReconnectDelay time.Duration
	MaxLineBytes   int

	// InfoInterval is how often sensor info is published. 0 uses the default.
	InfoInterval time.Duration
}

type Service struct {
	cfg Config

	started atomic.Bool
	closed  atomic.Bool

	frames *stream.Stream[PointCloud]
	infos  *stream.Stream[Info]

	mu         sync.RWMutex
	state      string
	lastErr    string
	lastSeen   time.Time
	frameCount uint64
	decodeErrs uint64
	latest     *PointCloud

	cancel context.CancelFunc
	done   chan struct{}
}

type Snapshot struct {
	Addr         string `json:"addr"`
	State        string `json:"state"`
	LastError    string `json:"last_error,omitempty"`
	LastSeenUTC  string `json:"last_seen_utc,omitempty"`
	Frames       uint64 `json:"frames"`
	DecodeErrors uint64 `json:"decode_errors"`
}

func New(cfg Config) (*Service, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("radar bridge addr is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 1 * time.Second
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 1024 * 1024
	}
	if cfg.InfoInterval <= 0 {
		cfg.InfoInterval = 5 * time.Second
	}

	return &Service{
		cfg:    cfg,
		state:  "stopped",
		frames: stream.New[PointCloud](),
		infos:  stream.New[Info](),
		done:   make(chan struct{}),
	}, nil
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("radar service is nil")
	}
	if s.closed.Load() {
		return fmt.Errorf("radar service is closed")
	}
	if s.started.Swap(true) {
		return fmt.Errorf("radar service already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.setState("connecting", "")

	go func() {
		defer close(s.done)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.infoLoop(runCtx)
		}()
		s.runLoop(runCtx)
		wg.Wait()
	}()
	return nil
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	if s.closed.Swap(true) {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.started.Load() {
		<-s.done
	}
	s.frames.Close()
	s.infos.Close()
}

// Frames is the live point-cloud stream.
func (s *Service) Frames() *stream.Stream[PointCloud] { return s.frames }

// Infos is the periodic sensor-info stream.
func (s *Service) Infos() *stream.Stream[Info] { return s.infos }

// Latest returns the most recent frame. ok is false before the first frame.
func (s *Service) Latest() (PointCloud, bool) {
	if s == nil {
		return PointCloud{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return PointCloud{}, false
	}
	return *s.latest, true
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Snapshot{
		Addr:         s.cfg.Addr,
		State:        s.state,
		LastError:    s.lastErr,
		Frames:       s.frameCount,
		DecodeErrors: s.decodeErrs,
	}
	if !s.lastSeen.IsZero() {
		out.LastSeenUTC = s.lastSeen.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func (s *Service) runLoop(ctx context.Context) {
	dialer := &net.Dialer{Timeout: s.cfg.DialTimeout}

	for {
		select {
		case <-ctx.Done():
			s.setState("stopped", "")
			return
		default:
		}

		s.setState("connecting", "")
		conn, err := dialer.DialContext(ctx, "tcp", s.cfg.Addr)
		if err != nil {
			s.setState("error", err.Error())
			if !sleepCtx(ctx, s.cfg.ReconnectDelay) {
				s.setState("stopped", "")
				return
			}
			continue
		}

		s.setState("connected", "")
		log.Printf("radar connected addr=%s", s.cfg.Addr)
		s.readFrames(ctx, conn)

		if ctx.Err() != nil {
			s.setState("stopped", "")
			return
		}
		if !sleepCtx(ctx, s.cfg.ReconnectDelay) {
			s.setState("stopped", "")
			return
		}
	}
}

func (s *Service) readFrames(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	reader := bufio.NewReader(conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.setState("disconnected", "")
			} else {
				s.setState("disconnected", err.Error())
			}
			return
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if len(line) > s.cfg.MaxLineBytes {
			s.countDecodeErr(fmt.Sprintf("radar frame too large (%d bytes)", len(line)))
			continue
		}

		var pc PointCloud
		if err := json.Unmarshal(line, &pc); err != nil {
			s.countDecodeErr("radar frame parse: " + err.Error())
			continue
		}

		now := time.Now().UTC()
		s.mu.Lock()
		cp := pc
		s.latest = &cp
		s.lastSeen = now
		s.frameCount++
		s.mu.Unlock()

		s.frames.Publish(pc)
	}
}

// infoLoop publishes sensor info immediately and then every InfoInterval.
func (s *Service) infoLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.InfoInterval)
	defer ticker.Stop()

	var lastFrames uint64
	lastAt := time.Now()
	s.publishInfo(0)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			frames := s.frameCount
			s.mu.RUnlock()

			now := time.Now()
			rate := float64(frames-lastFrames) / now.Sub(lastAt).Seconds()
			lastFrames = frames
			lastAt = now
			s.publishInfo(rate)
		}
	}
}

func (s *Service) publishInfo(rate float64) {
	s.mu.RLock()
	frames := s.frameCount
	connected := s.state == "connected"
	s.mu.RUnlock()

	s.infos.Publish(Info{
		Addr:      s.cfg.Addr,
		Connected: connected,
		Frames:    frames,
		FrameRate: rate,
		UTC:       time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Service) countDecodeErr(msg string) {
	s.mu.Lock()
	s.decodeErrs++
	s.lastErr = msg
	s.mu.Unlock()
}

func (s *Service) setState(state string, lastErr string) {
	s.mu.Lock()
	s.state = state
	if lastErr != "" {
		s.lastErr = lastErr
	} else if state == "connected" || state == "connecting" || state == "stopped" {
		s.lastErr = ""
	}
	s.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
