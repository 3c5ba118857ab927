package counsel

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileTools(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	tools := FileTools(dir)

	write, ok := ToolByName(tools, "writeFile")
	if !ok {
		t.Fatal("expected writeFile")
	}
	read, ok := ToolByName(tools, "readFile")
	if !ok {
		t.Fatal("expected readFile")
	}

	out, err := write.Call(ctx, json.RawMessage(`{"fileName":"plan/date.txt","content":"看电影"}`))
	if err != nil {
		t.Fatalf("writeFile failed: %v", err)
	}
	if !strings.HasPrefix(out, "File written successfully to: ") {
		t.Errorf("unexpected output %q", out)
	}
	if b, err := os.ReadFile(filepath.Join(dir, "plan", "date.txt")); err != nil || string(b) != "看电影" {
		t.Errorf("file not written: %q, %v", b, err)
	}

	content, err := read.Call(ctx, json.RawMessage(`{"fileName":"plan/date.txt"}`))
	if err != nil || content != "看电影" {
		t.Errorf("readFile returned %q, %v", content, err)
	}

	t.Run("Sandbox", func(t *testing.T) {
		_, err := read.Call(ctx, json.RawMessage(`{"fileName":"../../etc/passwd"}`))
		if !errors.Is(err, ErrOutsideSandbox) {
			t.Errorf("expected ErrOutsideSandbox, got %v", err)
		}
		_, err = write.Call(ctx, json.RawMessage(`{"fileName":"../escape.txt","content":"x"}`))
		if !errors.Is(err, ErrOutsideSandbox) {
			t.Errorf("expected ErrOutsideSandbox, got %v", err)
		}
	})

	t.Run("BadArguments", func(t *testing.T) {
		if _, err := read.Call(ctx, json.RawMessage(`{"fileName":`)); err == nil {
			t.Error("expected decode error")
		}
		if _, err := read.Call(ctx, nil); err == nil {
			t.Error("expected missing fileName error")
		}
		if _, err := read.Call(ctx, json.RawMessage(`{"fileName":"missing.txt"}`)); err == nil {
			t.Error("expected read error")
		}
	})
}

func TestToolSchema(t *testing.T) {
	tool := FileTools(t.TempDir())[1]
	schema := tool.Parameters()
	if schema == nil {
		t.Fatal("expected schema")
	}
	b, err := json.Marshal(schema)
	if err != nil {
		t.Fatalf("failed to encode schema: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"fileName"`, `"content"`, `"type":"object"`} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %s in schema %s", want, s)
		}
	}
	if strings.Contains(s, "$schema") || strings.Contains(s, "$ref") {
		t.Errorf("schema must be inline without a version, got %s", s)
	}
}

func TestDateTimeTool(t *testing.T) {
	fixed := time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC)
	tool := DateTimeTool(func() time.Time { return fixed })

	if tool.Name() != "getCurrentTime" || tool.Description() == "" {
		t.Errorf("unexpected tool identity %q", tool.Name())
	}

	out, err := tool.Call(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "2025-02-14 12:00:00") {
		t.Errorf("unexpected time %q", out)
	}

	if _, err := tool.Call(context.Background(), json.RawMessage(`{"timeZone":"Not/AZone"}`)); err == nil {
		t.Error("expected unknown time zone error")
	}
}

func TestNewTool(t *testing.T) {
	type echoInput struct {
		Text string `json:"text"`
	}
	tool := NewTool("echo", "Echo text", func(_ context.Context, in echoInput) (string, error) {
		return in.Text, nil
	})

	out, err := tool.Call(context.Background(), json.RawMessage(`{"text":"hi"}`))
	if err != nil || out != "hi" {
		t.Errorf("unexpected result %q, %v", out, err)
	}
	if _, ok := ToolByName([]Tool{tool}, "missing"); ok {
		t.Error("expected no tool")
	}
}
