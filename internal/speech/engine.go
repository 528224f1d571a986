// Package speech runs local text-to-speech and speech-to-text engines as
// supervised subprocesses. The engines speak a line protocol: TTS reads one
// utterance per stdin line, STT writes one final transcript per stdout line.
package speech

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type engineConfig struct {
	name    string
	command string
	args    []string

	restart        bool
	backoffInitial time.Duration
	backoffMax     time.Duration

	stderrTailLines int
	maxLineBytes    int

	// wantStdin keeps the child's stdin open for line writes.
	wantStdin bool
	// onLine receives each non-empty stdout line.
	onLine func(string)
}

// engine supervises one speech subprocess: start, restart with exponential
// backoff, stderr tail for diagnostics.
type engine struct {
	cfg engineConfig

	started atomic.Bool
	closed  atomic.Bool

	mu      sync.RWMutex
	pid     int
	state   string
	lastErr string
	stdin   io.WriteCloser

	stderr *tailBuffer

	cancel context.CancelFunc
	done   chan struct{}
}

type EngineSnapshot struct {
	Name      string   `json:"name"`
	Running   bool     `json:"running"`
	PID       int      `json:"pid,omitempty"`
	State     string   `json:"state"`
	LastError string   `json:"last_error,omitempty"`
	Stderr    []string `json:"stderr_tail,omitempty"`
}

func newEngine(cfg engineConfig) (*engine, error) {
	cfg.name = strings.TrimSpace(cfg.name)
	cfg.command = strings.TrimSpace(cfg.command)
	if cfg.name == "" {
		return nil, fmt.Errorf("speech engine name is required")
	}
	if cfg.command == "" {
		return nil, fmt.Errorf("speech engine command is required")
	}
	if cfg.backoffInitial <= 0 {
		cfg.backoffInitial = 250 * time.Millisecond
	}
	if cfg.backoffMax <= 0 {
		cfg.backoffMax = 10 * time.Second
	}
	if cfg.stderrTailLines <= 0 {
		cfg.stderrTailLines = 100
	}
	if cfg.maxLineBytes <= 0 {
		cfg.maxLineBytes = 16 * 1024
	}

	return &engine{
		cfg:    cfg,
		state:  "stopped",
		stderr: newTailBuffer(cfg.stderrTailLines, cfg.maxLineBytes),
		done:   make(chan struct{}),
	}, nil
}

func (e *engine) start(ctx context.Context) error {
	if e == nil {
		return fmt.Errorf("speech engine is nil")
	}
	if e.closed.Load() {
		return fmt.Errorf("speech engine is closed")
	}
	if e.started.Swap(true) {
		return fmt.Errorf("speech engine already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.setState("starting", "")
	go e.runLoop(runCtx)
	return nil
}

func (e *engine) close() {
	if e == nil {
		return
	}
	if e.closed.Swap(true) {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	if e.started.Load() {
		<-e.done
	} else {
		close(e.done)
	}
}

func (e *engine) snapshot() EngineSnapshot {
	if e == nil {
		return EngineSnapshot{}
	}
	e.mu.RLock()
	pid := e.pid
	state := e.state
	lastErr := e.lastErr
	e.mu.RUnlock()

	return EngineSnapshot{
		Name:      e.cfg.name,
		Running:   pid != 0 && state == "running",
		PID:       pid,
		State:     state,
		LastError: lastErr,
		Stderr:    e.stderr.snapshot(),
	}
}

// writeLine sends one line to the child's stdin. Newlines inside text are
// flattened so one call is always one protocol line.
func (e *engine) writeLine(text string) error {
	if e == nil {
		return fmt.Errorf("speech engine is nil")
	}
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if text == "" {
		return fmt.Errorf("empty line")
	}

	e.mu.RLock()
	w := e.stdin
	e.mu.RUnlock()
	if w == nil {
		return fmt.Errorf("%s engine is not running", e.cfg.name)
	}
	if _, err := io.WriteString(w, text+"\n"); err != nil {
		return fmt.Errorf("%s stdin write: %w", e.cfg.name, err)
	}
	return nil
}

func (e *engine) runLoop(ctx context.Context) {
	defer close(e.done)

	backoff := e.cfg.backoffInitial
	for {
		select {
		case <-ctx.Done():
			e.setState("stopped", "")
			return
		default:
		}

		exitErr := e.runOnce(ctx)
		if ctx.Err() != nil {
			e.setState("stopped", "")
			return
		}

		if exitErr != nil {
			e.setState("exited", exitErr.Error())
			log.Printf("speech engine exited name=%s err=%v", e.cfg.name, exitErr)
		} else {
			e.setState("exited", "")
			log.Printf("speech engine exited name=%s", e.cfg.name)
		}

		if !e.cfg.restart {
			return
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			e.setState("stopped", "")
			return
		case <-t.C:
		}
		backoff *= 2
		if backoff > e.cfg.backoffMax {
			backoff = e.cfg.backoffMax
		}
		e.setState("restarting", "")
	}
}

func (e *engine) runOnce(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, e.cfg.command, e.cfg.args...)

	var stdin io.WriteCloser
	if e.cfg.wantStdin {
		w, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("stdin pipe: %w", err)
		}
		stdin = w
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
	}
	e.mu.Lock()
	e.pid = pid
	e.state = "running"
	e.lastErr = ""
	e.stdin = stdin
	e.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.readStdout(stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		readLinesToTail(stderrPipe, e.stderr, e.cfg.maxLineBytes)
	}()

	waitErr := cmd.Wait()
	wg.Wait()

	e.mu.Lock()
	e.pid = 0
	e.stdin = nil
	e.mu.Unlock()
	if stdin != nil {
		_ = stdin.Close()
	}

	if waitErr == nil || errors.Is(waitErr, context.Canceled) {
		return nil
	}
	return waitErr
}

func (e *engine) readStdout(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), e.cfg.maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if e.cfg.onLine != nil {
			e.cfg.onLine(line)
		}
	}
}

func (e *engine) setState(state string, lastErr string) {
	e.mu.Lock()
	e.state = state
	if strings.TrimSpace(lastErr) != "" {
		e.lastErr = lastErr
	}
	e.mu.Unlock()
}

func readLinesToTail(r io.Reader, t *tailBuffer, maxLineBytes int) {
	if r == nil || t == nil {
		return
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for scanner.Scan() {
		t.add(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.add("[tail error] " + err.Error())
	}
}
