// Package stash keeps the transport's correlation state in the shared store:
// the outbound PDU cache, SMSC id mappings and multipart bookkeeping.
package stash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/thrillee/esmelink/internal/store"
)

// Key layout under the bind prefix.
const (
	pduKeyPrefix          = "pdu"
	remoteIDKeyPrefix     = "remote_message_id"
	multipartInKeyPrefix  = "multipart_in"
	multipartOutKeyPrefix = "multipart_out"
)

// Defaults for Config.
const (
	DefaultPDUTTL       = 24 * time.Hour
	DefaultRemoteIDTTL  = 7 * 24 * time.Hour
	DefaultMultipartTTL = time.Hour
)

// ErrNotFound is returned when an entry is missing or has expired.
var ErrNotFound = store.ErrNotFound

// Config controls key prefixes and expiries.
type Config struct {
	Prefix       string
	PDUTTL       time.Duration // submit_sm_expiry
	RemoteIDTTL  time.Duration // third_party_id_expiry
	MultipartTTL time.Duration
}

// Stash stores correlation state for one bind prefix. Multipart entries are
// read-modify-write; mu serialises them within the process.
type Stash struct {
	store store.Store
	cfg   Config
	mu    sync.Mutex
}

func New(s store.Store, cfg Config) *Stash {
	if cfg.PDUTTL <= 0 {
		cfg.PDUTTL = DefaultPDUTTL
	}
	if cfg.RemoteIDTTL <= 0 {
		cfg.RemoteIDTTL = DefaultRemoteIDTTL
	}
	if cfg.MultipartTTL <= 0 {
		cfg.MultipartTTL = DefaultMultipartTTL
	}
	return &Stash{store: s, cfg: cfg}
}

func (s *Stash) key(parts ...any) string {
	k := s.cfg.Prefix
	for _, p := range parts {
		k += fmt.Sprintf(":%v", p)
	}
	return k
}

// ==============================================================
// Outbound PDU Cache
// ==============================================================

// PendingPDU is an outbound PDU cache entry.
type PendingPDU struct {
	MessageID string `json:"message_id"`
	Command   string `json:"command"`
	PDU       []byte `json:"pdu"`
	Part      int    `json:"part,omitempty"`
	Total     int    `json:"total,omitempty"`
}

// Multipart reports whether the entry is one part of a split message.
func (p PendingPDU) Multipart() bool {
	return p.Total > 1
}

// CachePDU records what was sent under seq.
func (s *Stash) CachePDU(ctx context.Context, seq uint32, entry PendingPDU) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, s.key(pduKeyPrefix, seq), b, s.cfg.PDUTTL)
}

// PendingPDU returns the entry cached under seq.
func (s *Stash) PendingPDU(ctx context.Context, seq uint32) (PendingPDU, error) {
	var entry PendingPDU
	b, err := s.store.Get(ctx, s.key(pduKeyPrefix, seq))
	if err != nil {
		return entry, err
	}
	if err := json.Unmarshal(b, &entry); err != nil {
		return entry, fmt.Errorf("stash: corrupt pdu entry %d: %w", seq, err)
	}
	return entry, nil
}

func (s *Stash) DeletePDU(ctx context.Context, seq uint32) error {
	return s.store.Delete(ctx, s.key(pduKeyPrefix, seq))
}

// ==============================================================
// SMSC Message ID Mapping
// ==============================================================

// SetRemoteMessageID maps the id an SMSC assigned to our message id so later
// delivery reports can be correlated.
func (s *Stash) SetRemoteMessageID(ctx context.Context, smscID, messageID string) error {
	return s.store.Set(ctx, s.key(remoteIDKeyPrefix, smscID), []byte(messageID), s.cfg.RemoteIDTTL)
}

func (s *Stash) RemoteMessageID(ctx context.Context, smscID string) (string, error) {
	b, err := s.store.Get(ctx, s.key(remoteIDKeyPrefix, smscID))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ==============================================================
// Inbound Multipart Reassembly
// ==============================================================

type inboundBuffer struct {
	Total int            `json:"total"`
	Parts map[int][]byte `json:"parts"`
}

// AddInboundPart buffers part seq of total under ref. When the last part
// arrives it returns all parts joined in order and clears the buffer.
func (s *Stash) AddInboundPart(ctx context.Context, ref string, seq, total int, content []byte) ([]byte, bool, error) {
	if total < 1 || seq < 1 || seq > total {
		return nil, false, fmt.Errorf("stash: part %d of %d is out of range", seq, total)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.key(multipartInKeyPrefix, ref)
	buf := inboundBuffer{Total: total, Parts: map[int][]byte{}}
	if err := s.load(ctx, key, &buf); err != nil {
		return nil, false, err
	}
	buf.Parts[seq] = content

	if len(buf.Parts) < buf.Total {
		return nil, false, s.save(ctx, key, buf, s.cfg.MultipartTTL)
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return nil, false, err
	}
	var joined []byte
	for i := 1; i <= buf.Total; i++ {
		joined = append(joined, buf.Parts[i]...)
	}
	return joined, true, nil
}

// ==============================================================
// Outbound Multipart Tracking
// ==============================================================

type outboundTracker struct {
	Total   int            `json:"total"`
	SMSCIDs map[int]string `json:"smsc_ids"`
	Failed  map[int]string `json:"failed"`
}

// PartOutcome is the aggregate result once every part has been answered.
type PartOutcome struct {
	Done          bool
	Failed        bool
	Reason        string
	SentMessageID string
}

// InitMultipart starts tracking a message split into total parts.
func (s *Stash) InitMultipart(ctx context.Context, messageID string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, s.key(multipartOutKeyPrefix, messageID), outboundTracker{
		Total:   total,
		SMSCIDs: map[int]string{},
		Failed:  map[int]string{},
	}, s.cfg.PDUTTL)
}

// RecordPart notes the response for one part. reason is empty on success.
func (s *Stash) RecordPart(ctx context.Context, messageID string, part int, smscID, reason string) (PartOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.key(multipartOutKeyPrefix, messageID)
	var tr outboundTracker
	b, err := s.store.Get(ctx, key)
	if err != nil {
		return PartOutcome{}, err
	}
	if err := json.Unmarshal(b, &tr); err != nil {
		return PartOutcome{}, fmt.Errorf("stash: corrupt multipart tracker %s: %w", messageID, err)
	}
	if tr.SMSCIDs == nil {
		tr.SMSCIDs = map[int]string{}
	}
	if tr.Failed == nil {
		tr.Failed = map[int]string{}
	}
	if reason != "" {
		tr.Failed[part] = reason
		delete(tr.SMSCIDs, part)
	} else {
		tr.SMSCIDs[part] = smscID
		delete(tr.Failed, part)
	}

	if len(tr.SMSCIDs)+len(tr.Failed) < tr.Total {
		return PartOutcome{}, s.save(ctx, key, tr, s.cfg.PDUTTL)
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return PartOutcome{}, err
	}

	out := PartOutcome{Done: true}
	if len(tr.Failed) > 0 {
		out.Failed = true
		out.Reason = tr.Failed[firstKey(tr.Failed)]
		return out, nil
	}
	out.SentMessageID = tr.SMSCIDs[firstKey(tr.SMSCIDs)]
	return out, nil
}

func firstKey(m map[int]string) int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys[0]
}

func (s *Stash) load(ctx context.Context, key string, v any) error {
	b, err := s.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (s *Stash) save(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, key, b, ttl)
}
