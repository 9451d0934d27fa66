package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func exerciseJournal(t *testing.T, j Journal) {
	t.Helper()
	ctx := context.Background()
	occ := time.Date(2026, time.October, 23, 23, 0, 0, 0, time.UTC)
	k := Key{Event: "Playtest Night", Occurrence: occ, Phase: "starting"}

	done, err := j.Done(ctx, k)
	if err != nil || done {
		t.Fatalf("Done() before Record = %v, %v", done, err)
	}

	if err := j.Record(ctx, k); err != nil {
		t.Fatalf("Record: %v", err)
	}
	// Recording twice is harmless.
	if err := j.Record(ctx, k); err != nil {
		t.Fatalf("Record again: %v", err)
	}

	// Names are case-insensitive and the instant is zone-independent.
	loc := time.FixedZone("EDT", -4*60*60)
	same := Key{Event: "playtest night", Occurrence: occ.In(loc), Phase: "starting"}
	if done, err := j.Done(ctx, same); err != nil || !done {
		t.Fatalf("Done(equivalent key) = %v, %v", done, err)
	}

	other := Key{Event: "Playtest Night", Occurrence: occ, Phase: "ending"}
	if done, _ := j.Done(ctx, other); done {
		t.Fatalf("Done(other phase) = true")
	}

	if err := j.Prune(ctx, occ.Add(time.Hour)); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if done, _ := j.Done(ctx, k); done {
		t.Fatalf("Done() after Prune = true")
	}
}

func TestMemory(t *testing.T) {
	exerciseJournal(t, NewMemory())
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal", "transitions.db")
	j, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer j.Close()

	exerciseJournal(t, j)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "transitions.db")
	k := Key{Event: "Jam", Occurrence: time.Date(2026, time.May, 1, 18, 0, 0, 0, time.UTC), Phase: "ending"}

	j, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := j.Record(ctx, k); err != nil {
		t.Fatalf("Record: %v", err)
	}
	j.Close()

	j, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()
	if done, err := j.Done(ctx, k); err != nil || !done {
		t.Fatalf("Done() after reopen = %v, %v", done, err)
	}
}
