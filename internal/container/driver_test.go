package container

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

// fakeRuntime writes a tiny shell script that stands in for the `docker`
// binary so Execute's argument-building and stream-capture logic can be
// exercised without a real container runtime.
func fakeRuntime(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "docker")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake runtime: %v", err)
	}
	return path
}

func TestExecuteSuccess(t *testing.T) {
	bin := fakeRuntime(t, `echo "hello"; exit 0`)
	d := New(Config{RuntimeBin: bin, ContainerWorkdir: "/work", OutputStreamCapBytes: 1024})

	out := d.Execute(context.Background(), "irrelevant-image", []string{"run"}, t.TempDir(), nil, 5000, 128, 1.0)

	if out.SpawnFailed {
		t.Fatalf("unexpected spawn failure: %s", out.SpawnError)
	}
	if out.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", out.ExitCode)
	}
	if !bytes.Contains(out.Stdout, []byte("hello")) {
		t.Fatalf("Stdout = %q, want it to contain %q", out.Stdout, "hello")
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	bin := fakeRuntime(t, `echo "boom" 1>&2; exit 7`)
	d := New(Config{RuntimeBin: bin, ContainerWorkdir: "/work", OutputStreamCapBytes: 1024})

	out := d.Execute(context.Background(), "img", []string{"run"}, t.TempDir(), nil, 5000, 128, 1.0)

	if out.ExitCode != 7 {
		t.Fatalf("ExitCode = %d, want 7", out.ExitCode)
	}
	if !bytes.Contains(out.Stderr, []byte("boom")) {
		t.Fatalf("Stderr = %q, want it to contain %q", out.Stderr, "boom")
	}
}

func TestExecuteTimeout(t *testing.T) {
	bin := fakeRuntime(t, `sleep 2; exit 0`)
	d := New(Config{RuntimeBin: bin, ContainerWorkdir: "/work", OutputStreamCapBytes: 1024})

	out := d.Execute(context.Background(), "img", []string{"run"}, t.TempDir(), nil, 50, 128, 1.0)

	if !out.TimedOut {
		t.Fatal("expected TimedOut to be true")
	}
	if out.ExitCode != -1 {
		t.Fatalf("ExitCode = %d, want -1", out.ExitCode)
	}
}

func TestExecuteSpawnFailed(t *testing.T) {
	d := New(Config{RuntimeBin: filepath.Join(t.TempDir(), "no-such-binary"), ContainerWorkdir: "/work", OutputStreamCapBytes: 1024})

	out := d.Execute(context.Background(), "img", []string{"run"}, t.TempDir(), nil, 1000, 128, 1.0)

	if !out.SpawnFailed {
		t.Fatal("expected SpawnFailed to be true for a missing runtime binary")
	}
}

func TestCappedWriterTruncatesAndAppendsSentinelOnce(t *testing.T) {
	var buf bytes.Buffer
	w := newCappedWriter(&buf, 5)

	_, _ = w.Write([]byte("abc"))
	_, _ = w.Write([]byte("defgh"))
	_, _ = w.Write([]byte("ijk"))

	out := buf.String()
	if got := out[:5]; got != "abcde" {
		t.Fatalf("captured prefix = %q, want %q", got, "abcde")
	}
	if count := bytes.Count([]byte(out), []byte("truncated")); count != 1 {
		t.Fatalf("sentinel appeared %d times, want exactly 1", count)
	}
}
