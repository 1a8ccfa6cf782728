package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Op string

const (
	OpIndex   Op = "index"
	OpUpdate  Op = "update"
	OpArchive Op = "archive"
	OpRestore Op = "restore"
	OpDelete  Op = "delete"
)

var errBadMessage = errors.New("bad ingest message")

// Message is one queue entry. Document carries the dataset description,
// either as a JSON object or as a string holding JSON or YAML text.
type Message struct {
	Op       Op              `json:"op"`
	ID       string          `json:"id,omitempty"`
	Version  uint64          `json:"version,omitempty"`
	TS       time.Time       `json:"ts"`
	Document json.RawMessage `json:"document,omitempty"`
}

func (m Message) Validate() error {
	switch m.Op {
	case OpIndex, OpUpdate:
		if len(m.Document) == 0 {
			return fmt.Errorf("%w: op %s needs a document", errBadMessage, m.Op)
		}
	case OpArchive, OpRestore, OpDelete:
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("%w: op %s needs an id", errBadMessage, m.Op)
		}
	default:
		return fmt.Errorf("%w: op must be index|update|archive|restore|delete, got %q", errBadMessage, m.Op)
	}
	return nil
}

// documentBytes unwraps a string-encoded document.
func (m Message) documentBytes() ([]byte, error) {
	raw := []byte(strings.TrimSpace(string(m.Document)))
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: document: %w", errBadMessage, err)
		}
		return []byte(s), nil
	}
	return raw, nil
}
