package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "actiongate/pkg/domain"
	"actiongate/pkg/platform/clock"
)

type LogSuite struct {
	suite.Suite
	ctx   context.Context
	clock *clock.FakeClock
	log   *Log
}

func TestLogSuite(t *testing.T) {
	suite.Run(t, new(LogSuite))
}

func (s *LogSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = clock.NewFake(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	s.log = NewLog("chain-1", WithClock(s.clock))
}

func (s *LogSuite) emitSome(n int) {
	for i := 0; i < n; i++ {
		_, err := s.log.Emit(s.ctx, CapabilityGrantsCleared{Count: i})
		s.Require().NoError(err)
		s.clock.Advance(time.Millisecond)
	}
}

func (s *LogSuite) TestEmit() {
	s.Run("first record links to genesis", func() {
		rec, err := s.log.Emit(s.ctx, SessionStarted{SessionID: id.NewSessionID(), Scope: "studio"})
		s.Require().NoError(err)

		s.Equal(uint64(1), rec.Sequence)
		s.Equal(GenesisHash, rec.PrevHash)
		s.Equal(EventSessionStarted, rec.Type)
		s.Equal("chain-1", rec.ChainID)
		s.Len(rec.Hash, 64)
	})

	s.Run("each record links to its predecessor", func() {
		s.emitSome(3)
		records := s.log.Records()
		for i := 1; i < len(records); i++ {
			s.Equal(records[i-1].Hash, records[i].PrevHash)
			s.Equal(records[i-1].Sequence+1, records[i].Sequence)
		}
		seq, head := s.log.Head()
		s.Equal(records[len(records)-1].Sequence, seq)
		s.Equal(records[len(records)-1].Hash, head)
	})
}

func (s *LogSuite) TestVerify() {
	s.Run("empty chain verifies", func() {
		s.NoError(NewLog("empty").Verify(s.ctx))
	})

	s.Run("untouched chain verifies", func() {
		s.emitSome(5)
		s.NoError(s.log.Verify(s.ctx))
	})

	s.Run("mutated data breaks the chain at that record", func() {
		s.SetupTest()
		s.emitSome(5)
		s.log.records[2].Data = json.RawMessage(`{"count":99}`)

		err := s.log.Verify(s.ctx)
		s.Require().Error(err)
		s.True(errors.Is(err, ErrChainBroken))
		var ce *ChainError
		s.Require().True(errors.As(err, &ce))
		s.Equal(uint64(3), ce.Sequence)
	})

	s.Run("mutated timestamp breaks the chain", func() {
		s.SetupTest()
		s.emitSome(2)
		s.log.records[0].Timestamp = s.log.records[0].Timestamp.Add(time.Second)
		s.ErrorIs(s.log.Verify(s.ctx), ErrChainBroken)
	})

	s.Run("deleted record breaks the chain", func() {
		s.SetupTest()
		s.emitSome(4)
		records := s.log.Records()
		records = append(records[:1], records[2:]...)
		s.ErrorIs(VerifyRecords(records), ErrChainBroken)
	})

	s.Run("truncated tail no longer matches head", func() {
		s.SetupTest()
		s.emitSome(4)
		s.log.records = s.log.records[:3]
		s.ErrorIs(s.log.Verify(s.ctx), ErrChainBroken)
	})
}

// Justification: a sink that shed its oldest backlog holds a chain with holes.
// The holes must be reported as missing records, while a forged record inside
// a surviving segment must still break the chain.
func (s *LogSuite) TestVerifySegments() {
	s.emitSome(6)
	records := s.log.Records()

	s.Run("intact chain has no gaps", func() {
		gaps, err := VerifySegments(records)
		s.NoError(err)
		s.Empty(gaps)
	})

	s.Run("dropped records become gaps", func() {
		stored := append([]Record{records[0]}, records[3:]...)
		gaps, err := VerifySegments(stored)
		s.Require().NoError(err)
		s.Equal([]Gap{{From: 2, To: 3}}, gaps)
		s.Equal("records 2..3 missing", gaps[0].String())

		err = VerifyRecords(stored)
		s.ErrorIs(err, ErrChainBroken, "the strict check still refuses holes")
		s.Contains(err.Error(), "records 2..3 missing")
	})

	s.Run("leading drop is a gap", func() {
		gaps, err := VerifySegments(records[2:])
		s.Require().NoError(err)
		s.Equal([]Gap{{From: 1, To: 2}}, gaps)
	})

	s.Run("tampering after a gap is still detected", func() {
		stored := make([]Record, 0, 4)
		stored = append(stored, records[0])
		stored = append(stored, records[3:]...)
		stored[2].Data = json.RawMessage(`{"count":42}`)
		_, err := VerifySegments(stored)
		var ce *ChainError
		s.Require().ErrorAs(err, &ce)
		s.Equal(uint64(5), ce.Sequence)
	})

	s.Run("sequence going backwards is broken", func() {
		stored := []Record{records[0], records[1], records[1]}
		_, err := VerifySegments(stored)
		s.ErrorIs(err, ErrChainBroken)
	})
}

func (s *LogSuite) TestObserverSeesRecordsInOrder() {
	obs := &recordingObserver{}
	log := NewLog("observed", WithClock(s.clock), WithObserver(obs))
	for i := 0; i < 3; i++ {
		_, err := log.Emit(s.ctx, ACCTokensInvalidated{Count: i})
		s.Require().NoError(err)
	}
	s.Require().Len(obs.records, 3)
	for i, rec := range obs.records {
		s.Equal(uint64(i+1), rec.Sequence)
	}
}

func TestEveryEventTypeDecodes(t *testing.T) {
	for _, et := range AllEventTypes() {
		t.Run(string(et), func(t *testing.T) {
			p, err := Decode(et, []byte(`{}`))
			if err != nil {
				t.Fatalf("decode %s: %v", et, err)
			}
			if p.EventType() != et {
				t.Fatalf("payload reports %s, want %s", p.EventType(), et)
			}
			if !et.IsValid() {
				t.Fatalf("%s missing from category map", et)
			}
		})
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	if _, err := Decode("NOT_AN_EVENT", []byte(`{}`)); err == nil {
		t.Fatal("expected unknown event type to fail")
	}
}

func TestRecordDecodeRoundTrip(t *testing.T) {
	log := NewLog("rt")
	grantID := id.NewGrantID()
	rec, err := log.Emit(context.Background(), ACCTokenConsumed{ACCID: id.NewACCID(), GrantID: grantID})
	if err != nil {
		t.Fatal(err)
	}
	p, err := rec.Decode()
	if err != nil {
		t.Fatal(err)
	}
	consumed, ok := p.(*ACCTokenConsumed)
	if !ok {
		t.Fatalf("unexpected payload type %T", p)
	}
	if consumed.GrantID != grantID {
		t.Fatalf("grant ID lost in round trip")
	}
}

type recordingObserver struct{ records []Record }

func (o *recordingObserver) Observe(r Record) { o.records = append(o.records, r) }
