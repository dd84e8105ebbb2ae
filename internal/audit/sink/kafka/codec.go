package kafka

import (
	"encoding/json"
	"fmt"

	"actiongate/internal/audit"
)

func marshal(r audit.Record) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode audit record %d: %w", r.Sequence, err)
	}
	return b, nil
}

// Unmarshal decodes a record value produced by Producer.
func Unmarshal(value []byte) (audit.Record, error) {
	var r audit.Record
	if err := json.Unmarshal(value, &r); err != nil {
		return audit.Record{}, fmt.Errorf("decode audit record: %w", err)
	}
	return r, nil
}
