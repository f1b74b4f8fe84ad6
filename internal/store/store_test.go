package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cortexuvula/massagesync/internal/session"
)

func strPtr(s string) *string { return &s }

// backends returns a fresh instance of every store for contract tests.
func backends(t *testing.T) map[string]session.Store {
	t.Helper()
	lite, err := OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { lite.Close() })
	return map[string]session.Store{
		"memory": NewMemory(),
		"sqlite": lite,
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := session.New("Ana", time.Now())
			if _, err := st.Create(ctx, rec); err != nil {
				t.Fatalf("Create: %v", err)
			}

			got, err := st.Get(ctx, rec.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.ClientName != "Ana" || got.Pressure != "medium" || got.Speed != "medium" || got.Depth != "medium" {
				t.Errorf("got %+v", got)
			}
			if got.FocusZones == nil || len(got.FocusZones) != 0 || got.IgnoreZones == nil || len(got.IgnoreZones) != 0 {
				t.Errorf("zones = %v / %v, want empty", got.FocusZones, got.IgnoreZones)
			}
			if !got.UpdatedAt.Equal(rec.UpdatedAt) {
				t.Errorf("updated_at = %v, want %v", got.UpdatedAt, rec.UpdatedAt)
			}
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.Get(context.Background(), "nope")
			if !errors.Is(err, session.ErrNotFound) {
				t.Errorf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreUpdateMerges(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := session.New("Ana", time.Now())
			st.Create(ctx, rec)

			zones := []string{"lower_back"}
			got, err := st.Update(ctx, rec.ID, session.Preferences{Pressure: strPtr("high"), FocusZones: &zones})
			if err != nil {
				t.Fatalf("Update: %v", err)
			}
			if got.Pressure != "high" || got.Speed != "medium" {
				t.Errorf("pressure=%q speed=%q", got.Pressure, got.Speed)
			}
			if !got.UpdatedAt.After(rec.UpdatedAt) {
				t.Errorf("updated_at %v not after %v", got.UpdatedAt, rec.UpdatedAt)
			}

			reread, _ := st.Get(ctx, rec.ID)
			if reread.Pressure != "high" || len(reread.FocusZones) != 1 || reread.FocusZones[0] != "lower_back" {
				t.Errorf("reread = %+v", reread)
			}
			if !reread.CreatedAt.Equal(rec.CreatedAt) {
				t.Errorf("created_at changed: %v -> %v", rec.CreatedAt, reread.CreatedAt)
			}
		})
	}
}

func TestStoreUpdateMissing(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.Update(context.Background(), "nope", session.Preferences{Depth: strPtr("deep")})
			if !errors.Is(err, session.ErrNotFound) {
				t.Errorf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreUpdateTimestampStrictlyIncreases(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := session.New("Ana", time.Now())
			st.Create(ctx, rec)

			prev := rec.UpdatedAt
			for i := 0; i < 5; i++ {
				got, err := st.Update(ctx, rec.ID, session.Preferences{Speed: strPtr("slow")})
				if err != nil {
					t.Fatal(err)
				}
				if !got.UpdatedAt.After(prev) {
					t.Fatalf("update %d: %v not after %v", i, got.UpdatedAt, prev)
				}
				prev = got.UpdatedAt
			}
		})
	}
}

func TestStoreConcurrentUpdatesLastWriteWins(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := session.New("Ana", time.Now())
			st.Create(ctx, rec)

			var wg sync.WaitGroup
			for _, v := range []string{"low", "high"} {
				wg.Add(1)
				go func(v string) {
					defer wg.Done()
					for i := 0; i < 10; i++ {
						if _, err := st.Update(ctx, rec.ID, session.Preferences{Pressure: strPtr(v)}); err != nil {
							t.Errorf("Update: %v", err)
						}
					}
				}(v)
			}
			wg.Wait()

			got, _ := st.Get(ctx, rec.ID)
			if got.Pressure != "low" && got.Pressure != "high" {
				t.Errorf("pressure = %q", got.Pressure)
			}
		})
	}
}

func TestMemoryReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	rec := session.New("Ana", time.Now())
	rec.FocusZones = []string{"neck"}
	m.Create(ctx, rec)

	got, _ := m.Get(ctx, rec.ID)
	got.FocusZones[0] = "modified"

	again, _ := m.Get(ctx, rec.ID)
	if again.FocusZones[0] != "neck" {
		t.Errorf("store was modified through returned record: %v", again.FocusZones)
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}
}

func TestMemoryDuplicateCreate(t *testing.T) {
	m := NewMemory()
	rec := session.New("Ana", time.Now())
	if _, err := m.Create(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create(context.Background(), rec); err == nil {
		t.Error("expected error on duplicate id")
	}
}

func TestOpen(t *testing.T) {
	st, err := Open("memory", "")
	if err != nil || st == nil {
		t.Fatalf("Open(memory) = %v, %v", st, err)
	}
	st, err = Open("sqlite", filepath.Join(t.TempDir(), "nested", "s.db"))
	if err != nil {
		t.Fatalf("Open(sqlite) = %v", err)
	}
	if err := st.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	st.Close()
	if _, err := Open("mongo", ""); err == nil {
		t.Error("expected error for unknown driver")
	}
}
