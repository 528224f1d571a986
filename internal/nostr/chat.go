// Package nostr connects the robot to its operator over Nostr encrypted
// direct messages. Incoming DMs are forwarded to the operator-input bus topic
// with a context prefix so the agent knows to reply with send_dm.
package nostr

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// chatContextPrefix tells the agent which skill closes the loop.
const chatContextPrefix = "[message received via chat - reply with send_dm]\n"

type Config struct {
	Relays []string

	// AgentKey is the robot's secret key, hex or nsec.
	AgentKey string
	// OperatorPubkey is the human's public key, hex or npub.
	OperatorPubkey string

	// Lookback bounds how far back stored DMs are fetched on startup.
	Lookback       time.Duration
	ReconnectDelay time.Duration

	// UploadURL is the image-server upload endpoint for send_camera_image.
	UploadURL string

	// OnMessage receives each decrypted incoming DM, already prefixed.
	OnMessage func(text string)
}

type Service struct {
	cfg Config

	agentSK  string
	agentPK  string
	operator string

	started atomic.Bool
	closed  atomic.Bool

	// sendMu serializes outgoing DMs.
	sendMu sync.Mutex

	mu       sync.Mutex
	relays   map[string]*nostr.Relay
	received uint64
	sent     uint64
	deduped  uint64
	lastErr  string

	seen *seenSet

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Snapshot struct {
	AgentPubkey     string   `json:"agent_pubkey"`
	OperatorPubkey  string   `json:"operator_pubkey"`
	Relays          []string `json:"relays"`
	ConnectedRelays int      `json:"connected_relays"`
	Received        uint64   `json:"received"`
	Sent            uint64   `json:"sent"`
	Deduplicated    uint64   `json:"deduplicated"`
	LastError       string   `json:"last_error,omitempty"`
}

func New(cfg Config) (*Service, error) {
	if len(cfg.Relays) == 0 {
		return nil, fmt.Errorf("at least one relay is required")
	}
	sk, err := decodeSecretKey(cfg.AgentKey)
	if err != nil {
		return nil, fmt.Errorf("agent key: %w", err)
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("agent key: %w", err)
	}
	operator, err := decodePublicKey(cfg.OperatorPubkey)
	if err != nil {
		return nil, fmt.Errorf("operator pubkey: %w", err)
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = time.Hour
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}

	return &Service{
		cfg:      cfg,
		agentSK:  sk,
		agentPK:  pk,
		operator: operator,
		relays:   make(map[string]*nostr.Relay),
		seen:     newSeenSet(512),
	}, nil
}

// AgentPubkey is the robot's hex public key.
func (s *Service) AgentPubkey() string { return s.agentPK }

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("nostr service is nil")
	}
	if s.closed.Load() {
		return fmt.Errorf("nostr service is closed")
	}
	if s.started.Swap(true) {
		return fmt.Errorf("nostr service already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	since := nostr.Timestamp(time.Now().Add(-s.cfg.Lookback).Unix())
	for _, url := range s.cfg.Relays {
		url := nostr.NormalizeURL(url)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.relayLoop(runCtx, url, since)
		}()
	}
	log.Printf("nostr listener started relays=%d agent=%s", len(s.cfg.Relays), short(s.agentPK))
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
	s.wg.Wait()
}

// relayLoop keeps one relay connection alive and consumes the DM subscription.
func (s *Service) relayLoop(ctx context.Context, url string, since nostr.Timestamp) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		relay, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			s.setError(fmt.Sprintf("relay connect %s: %v", url, err))
			if !sleepCtx(ctx, s.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		s.mu.Lock()
		s.relays[url] = relay
		s.mu.Unlock()
		log.Printf("nostr relay connected url=%s", url)

		sub, err := relay.Subscribe(ctx, nostr.Filters{{
			Kinds: []int{nostr.KindEncryptedDirectMessage},
			Tags:  nostr.TagMap{"p": []string{s.agentPK}},
			Since: &since,
		}})
		if err != nil {
			s.setError(fmt.Sprintf("relay subscribe %s: %v", url, err))
			s.dropRelay(url, relay)
			if !sleepCtx(ctx, s.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		s.consume(ctx, sub)
		s.dropRelay(url, relay)
		if ctx.Err() != nil {
			return
		}
		// Resubscribe from now; stored events were already replayed once.
		since = nostr.Now()
		if !sleepCtx(ctx, s.cfg.ReconnectDelay) {
			return
		}
	}
}

func (s *Service) consume(ctx context.Context, sub *nostr.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if ev == nil {
				continue
			}
			s.handleEvent(ev)
		}
	}
}

// handleEvent decrypts one incoming DM and forwards it. Events arriving from
// multiple relays are deduplicated by ID.
func (s *Service) handleEvent(ev *nostr.Event) {
	if !s.seen.add(ev.ID) {
		s.mu.Lock()
		s.deduped++
		s.mu.Unlock()
		return
	}

	shared, err := nip04.ComputeSharedSecret(ev.PubKey, s.agentSK)
	if err != nil {
		s.setError(fmt.Sprintf("shared secret: %v", err))
		return
	}
	plain, err := nip04.Decrypt(ev.Content, shared)
	if err != nil {
		s.setError(fmt.Sprintf("dm decrypt: %v", err))
		return
	}

	s.mu.Lock()
	s.received++
	s.mu.Unlock()
	log.Printf("nostr dm received from=%s len=%d", short(ev.PubKey), len(plain))

	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(chatContextPrefix + plain)
	}
}

// SendDM encrypts message for the operator and publishes it to every
// connected relay. It succeeds when at least one relay accepts the event.
func (s *Service) SendDM(ctx context.Context, message string) error {
	if s == nil {
		return fmt.Errorf("nostr service is nil")
	}
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("message is empty")
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	ev, err := s.buildDM(message)
	if err != nil {
		return err
	}

	s.mu.Lock()
	relays := make([]*nostr.Relay, 0, len(s.relays))
	for _, r := range s.relays {
		relays = append(relays, r)
	}
	s.mu.Unlock()
	if len(relays) == 0 {
		return fmt.Errorf("no connected relays")
	}

	var lastErr error
	accepted := 0
	for _, relay := range relays {
		if err := relay.Publish(ctx, ev); err != nil {
			lastErr = err
			continue
		}
		accepted++
	}
	if accepted == 0 {
		s.setError(fmt.Sprintf("dm publish: %v", lastErr))
		return fmt.Errorf("dm publish failed on all relays: %w", lastErr)
	}

	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
	log.Printf("nostr dm sent relays=%d id=%s", accepted, short(ev.ID))
	return nil
}

// buildDM produces a signed NIP-04 kind-4 event addressed to the operator.
func (s *Service) buildDM(message string) (nostr.Event, error) {
	shared, err := nip04.ComputeSharedSecret(s.operator, s.agentSK)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("shared secret: %w", err)
	}
	enc, err := nip04.Encrypt(message, shared)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("dm encrypt: %w", err)
	}

	ev := nostr.Event{
		Kind:      nostr.KindEncryptedDirectMessage,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"p", s.operator}},
		Content:   enc,
	}
	if err := ev.Sign(s.agentSK); err != nil {
		return nostr.Event{}, fmt.Errorf("dm sign: %w", err)
	}
	return ev, nil
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		AgentPubkey:     s.agentPK,
		OperatorPubkey:  s.operator,
		Relays:          append([]string(nil), s.cfg.Relays...),
		ConnectedRelays: len(s.relays),
		Received:        s.received,
		Sent:            s.sent,
		Deduplicated:    s.deduped,
		LastError:       s.lastErr,
	}
}

func (s *Service) dropRelay(url string, relay *nostr.Relay) {
	s.mu.Lock()
	if s.relays[url] == relay {
		delete(s.relays, url)
	}
	s.mu.Unlock()
	_ = relay.Close()
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
	log.Printf("nostr error: %s", msg)
}

func decodeSecretKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("secret key is required")
	}
	if strings.HasPrefix(key, "nsec") {
		prefix, value, err := nip19.Decode(key)
		if err != nil {
			return "", fmt.Errorf("decode nsec: %w", err)
		}
		if prefix != "nsec" {
			return "", fmt.Errorf("unexpected bech32 prefix %q", prefix)
		}
		return value.(string), nil
	}
	if !nostr.IsValid32ByteHex(key) {
		return "", fmt.Errorf("not a 32-byte hex or nsec key")
	}
	return key, nil
}

func decodePublicKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("public key is required")
	}
	if strings.HasPrefix(key, "npub") {
		prefix, value, err := nip19.Decode(key)
		if err != nil {
			return "", fmt.Errorf("decode npub: %w", err)
		}
		if prefix != "npub" {
			return "", fmt.Errorf("unexpected bech32 prefix %q", prefix)
		}
		return value.(string), nil
	}
	if !nostr.IsValidPublicKey(key) {
		return "", fmt.Errorf("not a valid hex or npub public key")
	}
	return key, nil
}

func short(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:16]
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

// seenSet is a bounded event-ID set for cross-relay deduplication.
type seenSet struct {
	mu    sync.Mutex
	max   int
	order []string
	ids   map[string]struct{}
}

func newSeenSet(max int) *seenSet {
	if max <= 0 {
		max = 512
	}
	return &seenSet{max: max, ids: make(map[string]struct{}, max)}
}

// add reports whether id was new.
func (s *seenSet) add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	if len(s.order) >= s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.ids, oldest)
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}
