package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestSpanTree(t *testing.T) {
	ctx, root := Start(context.Background(), "search", "req-1")
	extractCtx, extract := StartChild(ctx, "extract")
	_, fetch := StartChild(extractCtx, "fetch")
	fetch.SetAttr("records", 50)
	fetch.End()
	extract.End()
	root.End()

	if FromContext(ctx) != root || FromContext(extractCtx) != extract {
		t.Fatal("context does not carry the innermost span")
	}
	if fetch.TraceID != "req-1" {
		t.Fatalf("child trace id = %q", fetch.TraceID)
	}
	if c := root.Children(); len(c) != 1 || c[0] != extract {
		t.Fatalf("root children = %v", c)
	}

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	root.Log(context.Background(), log)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("logged %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[2], "span=fetch") || !strings.Contains(lines[2], "depth=2") || !strings.Contains(lines[2], "records=50") {
		t.Fatalf("fetch line = %s", lines[2])
	}
}

func TestEndIsIdempotent(t *testing.T) {
	_, span := StartChild(context.Background(), "detached")
	first := span.End()
	time.Sleep(5 * time.Millisecond)
	if second := span.End(); second != first {
		t.Fatalf("second End = %v, first = %v", second, first)
	}
}
