package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestSlogBridgeCarriesContextFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Service: "extent-index"}, &buf)
	log := NewSlog(&zl)

	ctx := WithDatasetID(WithComponent(context.Background(), "engine"), "ds-1")
	log.InfoContext(ctx, "resolved", "bands", 3, "err", errors.New("boom"))

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for k, want := range map[string]any{
		"msg":        "resolved",
		"service":    "extent-index",
		"component":  "engine",
		"dataset_id": "ds-1",
		"err":        "boom",
	} {
		if got[k] != want {
			t.Fatalf("field %s = %v, want %v", k, got[k], want)
		}
	}
	if got["bands"] != float64(3) {
		t.Fatalf("bands = %v", got["bands"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	log := NewSlog(&zl)
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	log.Warn("shown")
	if buf.Len() == 0 {
		t.Fatalf("warn should be written")
	}
	Build(Config{Level: "info"}, &buf)
}
