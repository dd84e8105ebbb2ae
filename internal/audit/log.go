package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gowebpki/jcs"

	dErrors "actiongate/pkg/domain-errors"
	"actiongate/pkg/platform/clock"
	"actiongate/pkg/requestcontext"
)

// GenesisHash is the previous-hash of the first record in every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ErrChainBroken reports a record whose hash or linkage does not recompute.
var ErrChainBroken = errors.New("audit chain broken")

// Record is one appended audit event. Hash covers sequence, type, data and
// timestamp chained onto PrevHash; ChainID only groups records in sinks.
type Record struct {
	ChainID   string          `json:"chain_id"`
	Sequence  uint64          `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// Decode returns the typed payload of r as a pointer to its struct.
func (r Record) Decode() (Payload, error) {
	return Decode(r.Type, r.Data)
}

// Decode unmarshals data into the payload variant for t.
func Decode(t EventType, data []byte) (Payload, error) {
	p, ok := newPayload(t)
	if !ok {
		return nil, fmt.Errorf("unknown audit event type %q", t)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

// Observer receives every record after it is appended. Observe must not
// block; it runs while the log's lock is held so records arrive in order.
type Observer interface {
	Observe(Record)
}

// Log is the in-memory, append-only hash chain for one session. Appends are
// serialized; the chain head is the root of integrity verification.
type Log struct {
	chainID  string
	clock    clock.Clock
	logger   *slog.Logger
	observer Observer

	mu      sync.RWMutex
	records []Record
	head    string
}

type Option func(*Log)

func WithClock(c clock.Clock) Option {
	return func(l *Log) { l.clock = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// WithObserver forwards appended records, typically to a Flusher.
func WithObserver(o Observer) Option {
	return func(l *Log) { l.observer = o }
}

func NewLog(chainID string, opts ...Option) *Log {
	l := &Log{
		chainID: chainID,
		clock:   clock.Real(),
		logger:  slog.Default(),
		head:    GenesisHash,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Log) ChainID() string { return l.chainID }

// Emit appends p and returns the stored record.
func (l *Log) Emit(ctx context.Context, p Payload) (Record, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Record{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode audit payload")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec := Record{
		ChainID: l.chainID,
		// Microsecond precision survives every sink's timestamp column.
		Timestamp: l.clock.Now().UTC().Truncate(time.Microsecond),
		Sequence:  uint64(len(l.records)) + 1,
		Type:      p.EventType(),
		Data:      data,
		PrevHash:  l.head,
	}
	rec.Hash, err = ComputeHash(rec)
	if err != nil {
		return Record{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash audit record")
	}
	l.records = append(l.records, rec)
	l.head = rec.Hash

	if l.observer != nil {
		l.observer.Observe(rec)
	}
	l.logger.DebugContext(ctx, "audit event appended",
		"type", rec.Type,
		"sequence", rec.Sequence,
		"request_id", requestcontext.RequestID(ctx),
	)
	return rec, nil
}

// MustEmit appends p and logs, rather than returns, an encoding failure.
// Every payload is a plain struct, so a failure here is a programming error.
func (l *Log) MustEmit(ctx context.Context, p Payload) {
	if _, err := l.Emit(ctx, p); err != nil {
		l.logger.ErrorContext(ctx, "audit append failed", "type", p.EventType(), "error", err)
	}
}

// Head returns the sequence and hash of the latest record.
func (l *Log) Head() (uint64, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.records)), l.head
}

// Records returns a copy of every record in append order.
func (l *Log) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Types returns the event types in append order.
func (l *Log) Types() []EventType {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]EventType, len(l.records))
	for i, r := range l.records {
		out[i] = r.Type
	}
	return out
}

// Verify recomputes the whole chain from genesis and checks it ends at the
// recorded head.
func (l *Log) Verify(ctx context.Context) error {
	l.mu.RLock()
	records := make([]Record, len(l.records))
	copy(records, l.records)
	head := l.head
	l.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := VerifyRecords(records); err != nil {
		return err
	}
	if len(records) > 0 && records[len(records)-1].Hash != head {
		return &ChainError{Sequence: uint64(len(records)), Reason: "head hash does not match last record"}
	}
	return nil
}

// ChainError locates the first broken link.
type ChainError struct {
	Sequence uint64
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at sequence %d: %s", e.Sequence, e.Reason)
}

func (e *ChainError) Unwrap() error { return ErrChainBroken }

// VerifyRecords checks sequence continuity, linkage and every hash of one
// chain given in append order.
func VerifyRecords(records []Record) error {
	gaps, err := VerifySegments(records)
	if err != nil {
		return err
	}
	if len(gaps) > 0 {
		return &ChainError{Sequence: gaps[0].From, Reason: gaps[0].String()}
	}
	return nil
}

// Gap is a run of sequences absent from a stored chain.
type Gap struct {
	From uint64
	To   uint64
}

func (g Gap) String() string {
	if g.From == g.To {
		return fmt.Sprintf("record %d missing", g.From)
	}
	return fmt.Sprintf("records %d..%d missing", g.From, g.To)
}

// VerifySegments verifies a sink copy that may lack records the flusher
// dropped. A forward jump in sequence is reported as a Gap and starts a new
// segment whose first link cannot be checked; every hash and every link
// inside a segment must still hold.
func VerifySegments(records []Record) ([]Gap, error) {
	var gaps []Gap
	prev := GenesisHash
	want := uint64(1)
	for _, rec := range records {
		if rec.Sequence < want {
			return gaps, &ChainError{Sequence: want, Reason: fmt.Sprintf("found sequence %d", rec.Sequence)}
		}
		if rec.Sequence > want {
			gaps = append(gaps, Gap{From: want, To: rec.Sequence - 1})
			prev = rec.PrevHash
		}
		if rec.PrevHash != prev {
			return gaps, &ChainError{Sequence: rec.Sequence, Reason: "previous hash does not link"}
		}
		hash, err := ComputeHash(rec)
		if err != nil {
			return gaps, &ChainError{Sequence: rec.Sequence, Reason: "record cannot be canonicalized: " + err.Error()}
		}
		if hash != rec.Hash {
			return gaps, &ChainError{Sequence: rec.Sequence, Reason: "hash mismatch"}
		}
		prev = rec.Hash
		want = rec.Sequence + 1
	}
	return gaps, nil
}

type hashable struct {
	Sequence  uint64          `json:"sequence"`
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// ComputeHash returns hex(SHA-256(JCS(sequence,type,data,timestamp) || prevHash)).
func ComputeHash(rec Record) (string, error) {
	raw, err := json.Marshal(hashable{
		Sequence:  rec.Sequence,
		Type:      rec.Type,
		Data:      rec.Data,
		Timestamp: rec.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(canonical)
	h.Write([]byte(rec.PrevHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}
