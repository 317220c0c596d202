package runlog

import (
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func window() (time.Time, time.Time) {
	from := time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)
	return from, from.Add(24 * time.Hour)
}

func TestRunKey(t *testing.T) {
	from, to := window()
	got := runKey(from, to)
	want := "run-20130101T000000Z-20130102T000000Z.json"
	if got != want {
		t.Errorf("runKey = %q, want %q", got, want)
	}

	// Same key for the same window expressed in another zone.
	est := time.FixedZone("EST", -5*3600)
	if alt := runKey(from.In(est), to.In(est)); alt != want {
		t.Errorf("runKey in non-UTC zone = %q, want %q", alt, want)
	}
}

func TestLocalClaimOnce(t *testing.T) {
	store := NewLocal(t.TempDir(), testLogger())
	from, to := window()
	ctx := context.Background()

	claimed, err := store.Claim(ctx, from, to, "node-a")
	if err != nil {
		t.Fatalf("first claim error = %v", err)
	}
	if !claimed {
		t.Fatal("first claim returned false")
	}

	claimed, err = store.Claim(ctx, from, to, "node-b")
	if err != nil {
		t.Fatalf("second claim error = %v", err)
	}
	if claimed {
		t.Error("second claim for the same window succeeded")
	}
}

func TestLocalClaimConcurrent(t *testing.T) {
	store := NewLocal(t.TempDir(), testLogger())
	from, to := window()
	ctx := context.Background()

	const claimants = 16
	var wg sync.WaitGroup
	winners := make(chan string, claimants)

	for i := range claimants {
		wg.Add(1)
		go func(node int) {
			defer wg.Done()
			claimed, err := store.Claim(ctx, from, to, string(rune('a'+node)))
			if err != nil {
				t.Errorf("claim error = %v", err)
				return
			}
			if claimed {
				winners <- string(rune('a' + node))
			}
		}(i)
	}
	wg.Wait()
	close(winners)

	var count int
	for range winners {
		count++
	}
	if count != 1 {
		t.Errorf("%d claimants won, want exactly 1", count)
	}
}

func TestLocalClaimRecordContents(t *testing.T) {
	dir := t.TempDir()
	store := NewLocal(dir, testLogger())
	from, to := window()

	if _, err := store.Claim(context.Background(), from, to, "worker-7"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, runKey(from, to)))
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if !run.FromDT.Equal(from) || !run.ToDT.Equal(to) {
		t.Errorf("record window = (%v, %v), want (%v, %v)", run.FromDT, run.ToDT, from, to)
	}
	if run.Node != "worker-7" {
		t.Errorf("record node = %q, want %q", run.Node, "worker-7")
	}
	if run.Created.IsZero() {
		t.Error("record created timestamp is zero")
	}
}

func TestLocalPrune(t *testing.T) {
	dir := t.TempDir()
	store := NewLocal(dir, testLogger())
	ctx := context.Background()

	writeRecord := func(name string, created time.Time) {
		t.Helper()
		data, err := json.Marshal(Run{
			FromDT:  created,
			ToDT:    created.Add(time.Hour),
			Node:    "n",
			Created: created,
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, fs.FileMode(0o600)); err != nil {
			t.Fatal(err)
		}
	}

	writeRecord("run-old.json", time.Now().UTC().AddDate(0, 0, -45))
	writeRecord("run-older.json", time.Now().UTC().AddDate(0, 0, -31))
	writeRecord("run-recent.json", time.Now().UTC().AddDate(0, 0, -5))

	// Unrelated files are left alone.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0o600); err != nil {
		t.Fatal(err)
	}

	removed, err := store.Prune(ctx, 30)
	if err != nil {
		t.Fatalf("Prune error = %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	for _, name := range []string{"run-recent.json", "notes.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s should survive prune: %v", name, err)
		}
	}
	for _, name := range []string{"run-old.json", "run-older.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s should be pruned", name)
		}
	}
}
