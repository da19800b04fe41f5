package logs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeLog(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pitchpiped.log")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestTailLastLines(t *testing.T) {
	path := writeLog(t, "one\ntwo\nthree\nfour\n")
	result, err := Tail(context.Background(), path, TailOptions{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(result.Lines) != 2 || result.Lines[0] != "three" || result.Lines[1] != "four" {
		t.Fatalf("unexpected lines %v", result.Lines)
	}
	if result.Offset == 0 {
		t.Fatal("offset should point at end of file")
	}
}

func TestTailFromOffsetReadsNewContent(t *testing.T) {
	path := writeLog(t, "one\n")
	first, err := Tail(context.Background(), path, TailOptions{Offset: 0, Limit: 0})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(first.Lines) != 1 || first.Lines[0] != "one" {
		t.Fatalf("unexpected lines %v", first.Lines)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString("two\n"); err != nil {
		t.Fatalf("append log: %v", err)
	}
	_ = f.Close()

	second, err := Tail(context.Background(), path, TailOptions{Offset: first.Offset})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(second.Lines) != 1 || second.Lines[0] != "two" {
		t.Fatalf("unexpected lines %v", second.Lines)
	}
}

func TestTailMissingFileIsEmpty(t *testing.T) {
	result, err := Tail(context.Background(), filepath.Join(t.TempDir(), "absent.log"), TailOptions{Offset: -1, Limit: 10})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(result.Lines) != 0 || result.Offset != 0 {
		t.Fatalf("missing file should read as empty, got %+v", result)
	}
}

func TestTailFollowWaitsForContent(t *testing.T) {
	path := writeLog(t, "")
	go func() {
		time.Sleep(300 * time.Millisecond)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		_, _ = f.WriteString("late\n")
		_ = f.Close()
	}()

	result, err := Tail(context.Background(), path, TailOptions{Offset: 0, Follow: true, Wait: 2 * time.Second})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(result.Lines) != 1 || result.Lines[0] != "late" {
		t.Fatalf("follow did not pick up appended line: %v", result.Lines)
	}
}
