package web

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"skillsd/internal/gps"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is served on the robot's LAN; the UI may be opened from any host.
	CheckOrigin: func(*http.Request) bool { return true },
}

// LiveGPS pushes GPS updates to websocket clients as tagged JSON messages:
// {"type":"location",...}, {"type":"velocity",...}, {"type":"quality",...}.
type LiveGPS struct {
	svc *gps.Service
}

func NewLiveGPS(svc *gps.Service) *LiveGPS {
	if svc == nil {
		return nil
	}
	return &LiveGPS{svc: svc}
}

type liveMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (l *LiveGPS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	locSub := l.svc.Locations().Subscribe(16)
	defer locSub.Cancel()
	velSub := l.svc.Velocities().Subscribe(16)
	defer velSub.Cancel()
	qualSub := l.svc.Qualities().Subscribe(16)
	defer qualSub.Cancel()

	// Reader goroutine only detects client close.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Seed the client with cached values so it renders before the next fix.
	if loc, ok := l.svc.Location(); ok {
		_ = writeLive(conn, "location", loc)
	}
	if vel, ok := l.svc.Velocity(); ok {
		_ = writeLive(conn, "velocity", vel)
	}
	if qual, ok := l.svc.Quality(); ok {
		_ = writeLive(conn, "quality", qual)
	}

	for {
		var err error
		select {
		case <-clientGone:
			return
		case loc, ok := <-locSub.C:
			if !ok {
				return
			}
			err = writeLive(conn, "location", loc)
		case vel, ok := <-velSub.C:
			if !ok {
				return
			}
			err = writeLive(conn, "velocity", vel)
		case qual, ok := <-qualSub.C:
			if !ok {
				return
			}
			err = writeLive(conn, "quality", qual)
		}
		if err != nil {
			log.Printf("gps live write failed err=%v", err)
			return
		}
	}
}

func writeLive(conn *websocket.Conn, typ string, data any) error {
	msg, err := json.Marshal(liveMessage{Type: typ, Data: data})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, msg)
}
