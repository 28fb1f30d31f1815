package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestChunkCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "book.txt")
	doc := "Chapter 1\n\nIt was a dark night. The wind howled.\n\nMorning came."
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	out, err := run(t, "chunk", path, "--max-chars", "25")
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if !strings.Contains(out, "chapter") || !strings.Contains(out, "chunks, about") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestConvertCommandWritesWAV(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("LOQA_SYNTHESIS_MODE", "mock")
	path := filepath.Join(dir, "story.txt")
	if err := os.WriteFile(path, []byte("Once upon a time. The end."), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	out, err := run(t, "convert", path, "--sentence-silence", "0.1")
	if err != nil {
		t.Fatalf("convert: %v\n%s", err, out)
	}
	data, err := os.ReadFile(filepath.Join(dir, "story.wav"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Fatal("expected a WAV file")
	}
	if !strings.Contains(out, "wrote") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestConvertRejectsEmptyInput(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(path, []byte("\n\n  "), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	if _, err := run(t, "convert", path, "-o", filepath.Join(dir, "out.wav")); err == nil {
		t.Fatal("expected empty input to be rejected")
	}
	if _, err := os.Stat(filepath.Join(dir, "out.wav")); !os.IsNotExist(err) {
		t.Fatal("no output should be written for rejected input")
	}
}

func TestPresetsCommand(t *testing.T) {
	out, err := run(t, "presets")
	if err != nil {
		t.Fatalf("presets: %v", err)
	}
	for _, name := range []string{"audiobook_comfort", "meditation_calm", "news_efficient"} {
		if !strings.Contains(out, name) {
			t.Fatalf("expected %s in output:\n%s", name, out)
		}
	}
}

func TestConvertRejectsUnknownPreset(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("LOQA_SYNTHESIS_MODE", "mock")
	t.Cleanup(func() { voice.preset = "" })
	path := filepath.Join(dir, "story.txt")
	if err := os.WriteFile(path, []byte("Once upon a time."), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	_, err := run(t, "convert", path, "--preset", "whispering")
	if err == nil || !strings.Contains(err.Error(), "unknown preset") {
		t.Fatalf("expected unknown preset error, got %v", err)
	}
}
