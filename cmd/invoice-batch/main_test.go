package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"invoicebridge/internal/pipeline"
)

func TestProcessOneUnreadableFileIsLoggedAndCountedFailed(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	result := processOne(context.Background(), nil, filepath.Join(t.TempDir(), "missing.pdf"), false)
	if result.Outcome != pipeline.OutcomeFailed {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	if !strings.Contains(buf.String(), "batch.read_failed") {
		t.Errorf("read failure not logged: %q", buf.String())
	}
}
