package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/panteleyshmelev/pii-anon-3/internal/detect"
	"github.com/panteleyshmelev/pii-anon-3/internal/mask"
)

func sampleMapping(docID string) *mask.Mapping {
	return &mask.Mapping{
		Schema:    mask.MappingSchemaVersion,
		DocID:     docID,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Entries: []mask.Entry{
			{
				Placeholder: mask.Placeholder{Type: detect.EntityPerson, Index: 1},
				Original:    "Lim Hee Bing",
				Occurrences: []mask.Occurrence{
					{
						Start: 5, End: 17,
						Fragments: []mask.Fragment{
							{Start: 5, End: 8, Line: 0, Text: "Lim"},
							{Start: 9, End: 17, Line: 1, Text: "Hee Bing"},
						},
					},
				},
			},
		},
		Counters:   map[detect.EntityType]int{detect.EntityPerson: 1},
		MaskedText: "Dear PERSON1, welcome",
	}
}

// backends returns one store of each implementation, named for subtests.
func backends(t *testing.T) map[string]MappingStore {
	t.Helper()

	bboltStore, err := NewBbolt(filepath.Join(t.TempDir(), "mappings.db"))
	if err != nil {
		t.Fatalf("NewBbolt: %v", err)
	}

	mr := miniredis.RunT(t)
	redisStore, err := NewRedis("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}

	return map[string]MappingStore{
		"memory": NewMemory(),
		"bbolt":  bboltStore,
		"redis":  redisStore,
	}
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer s.Close() //nolint:errcheck // test cleanup

			ctx := context.Background()
			want := sampleMapping("doc-1")
			if err := s.Put(ctx, want); err != nil {
				t.Fatalf("Put: %v", err)
			}

			got, err := s.Get(ctx, "doc-1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.DocID != want.DocID {
				t.Errorf("DocID: got %q", got.DocID)
			}
			if got.MaskedText != want.MaskedText {
				t.Errorf("MaskedText: got %q", got.MaskedText)
			}
			if len(got.Entries) != 1 || got.Entries[0].Original != "Lim Hee Bing" {
				t.Errorf("Entries: %+v", got.Entries)
			}
			if len(got.Entries[0].Occurrences[0].Fragments) != 2 {
				t.Errorf("Fragments not preserved: %+v", got.Entries[0].Occurrences[0])
			}
			if got.Counters[detect.EntityPerson] != 1 {
				t.Errorf("Counters: %+v", got.Counters)
			}
		})
	}
}

func TestStore_GetUnknownIsNotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer s.Close() //nolint:errcheck // test cleanup

			_, err := s.Get(context.Background(), "no-such-doc")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_PutTwiceRejected(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer s.Close() //nolint:errcheck // test cleanup

			ctx := context.Background()
			if err := s.Put(ctx, sampleMapping("doc-dup")); err != nil {
				t.Fatalf("first Put: %v", err)
			}
			err := s.Put(ctx, sampleMapping("doc-dup"))
			if !errors.Is(err, ErrAlreadyExists) {
				t.Errorf("expected ErrAlreadyExists, got %v", err)
			}
		})
	}
}

func TestStore_DeleteThenGetNotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer s.Close() //nolint:errcheck // test cleanup

			ctx := context.Background()
			if err := s.Put(ctx, sampleMapping("doc-del")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := s.Delete(ctx, "doc-del"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.Get(ctx, "doc-del"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound after delete, got %v", err)
			}
			// Deleting an absent id is a no-op.
			if err := s.Delete(ctx, "doc-del"); err != nil {
				t.Errorf("second Delete: %v", err)
			}
		})
	}
}

func TestStore_ConcurrentWritesAndReads(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer s.Close() //nolint:errcheck // test cleanup

			ctx := context.Background()
			const n = 20
			var wg sync.WaitGroup
			errCh := make(chan error, n*2)

			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					docID := "doc-" + string(rune('a'+i))
					if err := s.Put(ctx, sampleMapping(docID)); err != nil {
						errCh <- err
						return
					}
					if _, err := s.Get(ctx, docID); err != nil {
						errCh <- err
					}
				}(i)
			}
			wg.Wait()
			close(errCh)
			for err := range errCh {
				t.Errorf("concurrent op: %v", err)
			}
		})
	}
}

func TestBbolt_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.db")
	s, err := NewBbolt(path)
	if err != nil {
		t.Fatalf("NewBbolt: %v", err)
	}
	ctx := context.Background()
	if err := s.Put(ctx, sampleMapping("doc-persist")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewBbolt(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close() //nolint:errcheck // test cleanup

	got, err := reopened.Get(ctx, "doc-persist")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Entries[0].Original != "Lim Hee Bing" {
		t.Errorf("mapping corrupted across reopen: %+v", got.Entries)
	}
}

func TestRedis_BadURL(t *testing.T) {
	if _, err := NewRedis("not-a-url"); err == nil {
		t.Error("expected error for malformed redis url")
	}
}
