package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"skillsd/internal/stream"
)

type Config struct {
	// Addr is host:port of gpsd. Empty uses localhost:2947.
	Addr string

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// MaxRetries bounds reconnect attempts after a dropped session. When the
	// budget is exhausted the service stops and the operator restarts it.
	// -1 retries forever; 0 uses the default.
	MaxRetries int

	ReconnectDelay time.Duration
	MaxLineBytes   int
}

type Service struct {
	cfg Config

	started atomic.Bool
	closed  atomic.Bool

	locations  *stream.Stream[Location]
	velocities *stream.Stream[Velocity]
	qualities  *stream.Stream[Quality]

	mu      sync.Mutex
	state   string
	lastErr string
	stale   bool

	lastLoc    *Location
	lastLocAt  time.Time
	lastVel    *Velocity
	lastVelAt  time.Time
	lastQual   *Quality
	lastQualAt time.Time

	lines      uint64
	decodeErrs uint64

	conn   net.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

type Snapshot struct {
	Addr  string `json:"addr"`
	State string `json:"state"`
	Stale bool   `json:"stale"`

	Location *Location `json:"location,omitempty"`
	Velocity *Velocity `json:"velocity,omitempty"`
	Quality  *Quality  `json:"quality,omitempty"`

	LocationUTC string `json:"location_utc,omitempty"`
	VelocityUTC string `json:"velocity_utc,omitempty"`
	QualityUTC  string `json:"quality_utc,omitempty"`

	Lines        uint64 `json:"lines"`
	DecodeErrors uint64 `json:"decode_errors"`
	LastError    string `json:"last_error,omitempty"`
}

func New(cfg Config) *Service {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = gpsdDefaultAddr
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 20
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 250 * time.Millisecond
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 256 * 1024
	}

	return &Service{
		cfg:        cfg,
		state:      "stopped",
		locations:  stream.New[Location](),
		velocities: stream.New[Velocity](),
		qualities:  stream.New[Quality](),
		done:       make(chan struct{}),
	}
}

// Start dials gpsd, enables watch mode, and launches the read loop. A failed
// initial connection is returned to the caller; the service does not enter a
// running state and the caller decides whether to retry.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps service is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}
	if s.closed.Load() {
		return fmt.Errorf("gps service is closed")
	}
	if s.started.Swap(true) {
		return fmt.Errorf("gps service already started")
	}

	conn, err := dialGPSD(ctx, s.cfg.Addr, s.cfg.DialTimeout)
	if err != nil {
		s.setState("error", fmt.Sprintf("gpsd dial failed addr=%s: %v", s.cfg.Addr, err))
		close(s.done)
		return fmt.Errorf("gpsd dial failed addr=%s: %w", s.cfg.Addr, err)
	}
	if err := gpsdWatch(conn); err != nil {
		_ = conn.Close()
		s.setState("error", fmt.Sprintf("gpsd watch failed: %v", err))
		close(s.done)
		return fmt.Errorf("gpsd watch failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.state = "connected"
	s.lastErr = ""
	s.mu.Unlock()

	log.Printf("gps connected addr=%s", s.cfg.Addr)

	go func() {
		defer close(s.done)
		s.runLoop(runCtx, conn)
	}()
	return nil
}

// Close cancels the read loop, closes the socket at the next blocking-read
// boundary, and waits for the loop to exit.
func (s *Service) Close() {
	if s == nil {
		return
	}
	if s.closed.Swap(true) {
		return
	}

	s.mu.Lock()
	cancel := s.cancel
	conn := s.conn
	s.cancel = nil
	s.conn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if s.started.Load() {
		<-s.done
	}

	s.locations.Close()
	s.velocities.Close()
	s.qualities.Close()
}

func (s *Service) runLoop(ctx context.Context, conn net.Conn) {
	retries := 0
	for {
		disconnectErr := s.readSession(ctx, conn)
		if ctx.Err() != nil {
			s.setState("stopped", "")
			return
		}

		// The session ended on its own: mark cached values stale so they are
		// not mistaken for live data.
		s.markStale()
		s.setState("disconnected", fmt.Sprintf("gpsd read stopped: %v", disconnectErr))
		log.Printf("gps disconnected addr=%s err=%v", s.cfg.Addr, disconnectErr)

		backoff := s.cfg.ReconnectDelay
		for {
			if s.cfg.MaxRetries >= 0 && retries >= s.cfg.MaxRetries {
				s.setState("stopped", fmt.Sprintf("gpsd reconnect budget exhausted after %d attempts", retries))
				log.Printf("gps giving up addr=%s attempts=%d", s.cfg.Addr, retries)
				return
			}
			retries++

			if !sleepCtx(ctx, backoff) {
				s.setState("stopped", "")
				return
			}
			if backoff < 10*time.Second {
				backoff *= 2
			}

			next, err := dialGPSD(ctx, s.cfg.Addr, s.cfg.DialTimeout)
			if err != nil {
				s.setState("disconnected", fmt.Sprintf("gpsd dial failed addr=%s: %v", s.cfg.Addr, err))
				continue
			}
			if err := gpsdWatch(next); err != nil {
				_ = next.Close()
				s.setState("disconnected", fmt.Sprintf("gpsd watch failed: %v", err))
				continue
			}

			s.mu.Lock()
			s.conn = next
			s.state = "connected"
			s.lastErr = ""
			s.mu.Unlock()

			log.Printf("gps reconnected addr=%s", s.cfg.Addr)
			conn = next
			retries = 0
			break
		}
	}
}

// readSession consumes report lines until the connection drops. It is the sole
// writer of the latest-value caches.
func (s *Service) readSession(ctx context.Context, conn net.Conn) error {
	defer func() { _ = conn.Close() }()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), s.cfg.MaxLineBytes)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !scanner.Scan() {
			err := scanner.Err()
			if err == nil {
				err = io.EOF
			}
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		s.mu.Lock()
		s.lines++
		s.mu.Unlock()

		upd, err := decodeLine([]byte(line))
		if err != nil {
			s.mu.Lock()
			s.decodeErrs++
			s.lastErr = err.Error()
			s.mu.Unlock()
			continue
		}
		if upd.empty() {
			continue
		}
		s.apply(time.Now().UTC(), upd)
	}
}

func (s *Service) apply(nowUTC time.Time, upd update) {
	s.mu.Lock()
	if upd.location != nil {
		v := *upd.location
		s.lastLoc = &v
		s.lastLocAt = nowUTC
	}
	if upd.velocity != nil {
		v := *upd.velocity
		s.lastVel = &v
		s.lastVelAt = nowUTC
	}
	if upd.quality != nil {
		v := *upd.quality
		s.lastQual = &v
		s.lastQualAt = nowUTC
	}
	s.stale = false
	s.mu.Unlock()

	// Publish outside the lock; streams never block the read loop.
	if upd.location != nil {
		s.locations.Publish(*upd.location)
	}
	if upd.velocity != nil {
		s.velocities.Publish(*upd.velocity)
	}
	if upd.quality != nil {
		s.qualities.Publish(*upd.quality)
	}
}

func (s *Service) markStale() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
}

// Locations is the live location stream. Values published before a subscriber
// joins are not replayed.
func (s *Service) Locations() *stream.Stream[Location] { return s.locations }

// Velocities is the live velocity stream.
func (s *Service) Velocities() *stream.Stream[Velocity] { return s.velocities }

// Qualities is the live fix-quality stream.
func (s *Service) Qualities() *stream.Stream[Quality] { return s.qualities }

// Location returns the most recent fix. ok is false before the first fix.
func (s *Service) Location() (Location, bool) {
	if s == nil {
		return Location{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastLoc == nil {
		return Location{}, false
	}
	return *s.lastLoc, true
}

func (s *Service) Velocity() (Velocity, bool) {
	if s == nil {
		return Velocity{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastVel == nil {
		return Velocity{}, false
	}
	return *s.lastVel, true
}

func (s *Service) Quality() (Quality, bool) {
	if s == nil {
		return Quality{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastQual == nil {
		return Quality{}, false
	}
	return *s.lastQual, true
}

// Stale reports whether cached values outlived their gpsd session.
func (s *Service) Stale() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Snapshot{
		Addr:         s.cfg.Addr,
		State:        s.state,
		Stale:        s.stale,
		Lines:        s.lines,
		DecodeErrors: s.decodeErrs,
		LastError:    s.lastErr,
	}
	if s.lastLoc != nil {
		v := *s.lastLoc
		out.Location = &v
		out.LocationUTC = s.lastLocAt.Format(time.RFC3339Nano)
	}
	if s.lastVel != nil {
		v := *s.lastVel
		out.Velocity = &v
		out.VelocityUTC = s.lastVelAt.Format(time.RFC3339Nano)
	}
	if s.lastQual != nil {
		v := *s.lastQual
		out.Quality = &v
		out.QualityUTC = s.lastQualAt.Format(time.RFC3339Nano)
	}
	return out
}

// Summary renders the latest values as a human-readable status for the agent.
// Missing categories degrade to explicit absence, never to zeros.
func (s *Service) Summary() string {
	if s == nil {
		return "GPS: no fix available"
	}

	s.mu.Lock()
	loc := s.lastLoc
	vel := s.lastVel
	qual := s.lastQual
	stale := s.stale
	s.mu.Unlock()

	if loc == nil {
		return "GPS: no fix available"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "GPS location: %.6f°, %.6f°", loc.Lat, loc.Lon)
	if loc.Alt != nil {
		fmt.Fprintf(&b, "\nAltitude: %.1f m", *loc.Alt)
	}
	if vel != nil {
		if vel.SpeedMS != nil {
			fmt.Fprintf(&b, "\nSpeed: %.1f m/s (%.1f km/h)", *vel.SpeedMS, *vel.SpeedMS*3.6)
		}
		if vel.TrackDeg != nil {
			fmt.Fprintf(&b, "\nHeading: %.1f°", *vel.TrackDeg)
		}
	}
	if qual != nil {
		fmt.Fprintf(&b, "\nSatellites: %d/%d", qual.SatellitesUsed, qual.Satellites)
		if qual.HDOP != nil {
			fmt.Fprintf(&b, "\nHDOP: %.1f", *qual.HDOP)
		}
	}
	if stale {
		b.WriteString("\nWarning: data is stale (disconnected from gpsd)")
	}
	return b.String()
}

func (s *Service) setState(state string, lastErr string) {
	s.mu.Lock()
	s.state = state
	if lastErr != "" {
		s.lastErr = lastErr
	} else if state == "connected" || state == "stopped" {
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
