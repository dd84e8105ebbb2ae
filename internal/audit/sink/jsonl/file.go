// Package jsonl appends audit records to a newline-delimited JSON file, one
// record per line, in chain order.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"actiongate/internal/audit"
)

type File struct {
	mu   sync.Mutex
	f    *os.File
	last map[string]uint64
}

// Open opens path for appending. Sequences already in the file are loaded
// so that retried batches are not written twice.
func Open(path string) (*File, error) {
	last := make(map[string]uint64)
	if chains, err := ReadChains(path); err == nil {
		for chainID, recs := range chains {
			last[chainID] = recs[len(recs)-1].Sequence
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit jsonl: %w", err)
	}
	return &File{f: f, last: last}, nil
}

func (j *File) Name() string { return "jsonl" }

func (j *File) Write(_ context.Context, records []audit.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	w := bufio.NewWriter(j.f)
	enc := json.NewEncoder(w)
	for _, r := range records {
		if r.Sequence <= j.last[r.ChainID] {
			continue
		}
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode audit record %d: %w", r.Sequence, err)
		}
		j.last[r.ChainID] = r.Sequence
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return j.f.Sync()
}

func (j *File) Close() error { return j.f.Close() }

// ReadChains reads every record in path grouped by chain, in file order.
func ReadChains(path string) (map[string][]audit.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	chains := make(map[string][]audit.Record)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var r audit.Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		chains[r.ChainID] = append(chains[r.ChainID], r)
	}
	return chains, scanner.Err()
}
