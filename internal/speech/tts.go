package speech

import (
	"context"
	"fmt"
	"sync"

	"skillsd/internal/skill"
)

type TTSConfig struct {
	// Command synthesizes speech for each stdin line.
	Command string
	Args    []string
}

// TTS feeds utterances to a synthesizer subprocess, one per line.
type TTS struct {
	eng *engine

	mu     sync.Mutex
	spoken uint64
}

type TTSSnapshot struct {
	EngineSnapshot
	Spoken uint64 `json:"spoken"`
}

func NewTTS(cfg TTSConfig) (*TTS, error) {
	eng, err := newEngine(engineConfig{
		name:      "tts",
		command:   cfg.Command,
		args:      cfg.Args,
		restart:   true,
		wantStdin: true,
	})
	if err != nil {
		return nil, err
	}
	return &TTS{eng: eng}, nil
}

func (t *TTS) Start(ctx context.Context) error {
	if t == nil {
		return fmt.Errorf("tts is nil")
	}
	return t.eng.start(ctx)
}

func (t *TTS) Close() {
	if t == nil {
		return
	}
	t.eng.close()
}

// Say queues one utterance. Fails when the synthesizer is not running.
func (t *TTS) Say(text string) error {
	if t == nil {
		return fmt.Errorf("tts is nil")
	}
	if err := t.eng.writeLine(text); err != nil {
		return err
	}
	t.mu.Lock()
	t.spoken++
	t.mu.Unlock()
	return nil
}

func (t *TTS) Snapshot() TTSSnapshot {
	if t == nil {
		return TTSSnapshot{}
	}
	t.mu.Lock()
	spoken := t.spoken
	t.mu.Unlock()
	return TTSSnapshot{EngineSnapshot: t.eng.snapshot(), Spoken: spoken}
}

func (t *TTS) RegisterSkills(reg *skill.Registry) error {
	return reg.Register(skill.Skill{
		Name:        "say",
		Description: "Speak text aloud through the robot speaker. Args: text.",
		Run: func(_ context.Context, args map[string]string) (string, error) {
			text := args["text"]
			if err := t.Say(text); err != nil {
				return "", err
			}
			return "Speaking: " + text, nil
		},
	})
}
