package speech

import (
	"context"
	"fmt"
	"log"
	"sync"
)

type STTConfig struct {
	// Command emits one final transcript per stdout line.
	Command string
	Args    []string

	// OnTranscript receives each non-empty transcript. Typically wired to the
	// operator-input bus topic.
	OnTranscript func(text string)
}

// STT forwards transcripts from a recognizer subprocess.
type STT struct {
	eng *engine

	mu          sync.Mutex
	transcripts uint64
}

type STTSnapshot struct {
	EngineSnapshot
	Transcripts uint64 `json:"transcripts"`
}

func NewSTT(cfg STTConfig) (*STT, error) {
	s := &STT{}
	eng, err := newEngine(engineConfig{
		name:    "stt",
		command: cfg.Command,
		args:    cfg.Args,
		restart: true,
		onLine: func(line string) {
			s.mu.Lock()
			s.transcripts++
			s.mu.Unlock()
			log.Printf("stt transcript len=%d", len(line))
			if cfg.OnTranscript != nil {
				cfg.OnTranscript(line)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	s.eng = eng
	return s, nil
}

func (s *STT) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("stt is nil")
	}
	return s.eng.start(ctx)
}

func (s *STT) Close() {
	if s == nil {
		return
	}
	s.eng.close()
}

func (s *STT) Snapshot() STTSnapshot {
	if s == nil {
		return STTSnapshot{}
	}
	s.mu.Lock()
	n := s.transcripts
	s.mu.Unlock()
	return STTSnapshot{EngineSnapshot: s.eng.snapshot(), Transcripts: n}
}
