package store

import (
	"fmt"
	"strings"
)

// Layout is the set of schemas found in one underlying store.
type Layout int32

const (
	Unprobed Layout = iota
	LegacyOnly
	CurrentOnly
	Mixed
)

func (l Layout) String() string {
	switch l {
	case LegacyOnly:
		return "legacy"
	case CurrentOnly:
		return "current"
	case Mixed:
		return "mixed"
	default:
		return "unprobed"
	}
}

func (l Layout) HasLegacy() bool  { return l == LegacyOnly || l == Mixed }
func (l Layout) HasCurrent() bool { return l == CurrentOnly || l == Mixed }

// Has reports whether the layout contains the table of s.
func (l Layout) Has(s Schema) bool {
	if s == SchemaLegacy {
		return l.HasLegacy()
	}
	return l.HasCurrent()
}

func layoutOf(legacy, current bool) Layout {
	switch {
	case legacy && current:
		return Mixed
	case current:
		return CurrentOnly
	case legacy:
		return LegacyOnly
	default:
		return Unprobed
	}
}

// Schema names one of the two physical layouts.
type Schema string

const (
	SchemaLegacy  Schema = "legacy"
	SchemaCurrent Schema = "current"
)

func ParseSchema(s string) (Schema, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "current", "new", "extent":
		return SchemaCurrent, nil
	case "legacy", "old":
		return SchemaLegacy, nil
	default:
		return "", fmt.Errorf("unknown write schema %q (want legacy or current)", s)
	}
}
