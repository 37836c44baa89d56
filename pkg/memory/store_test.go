package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), step: time.Second}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func newTestStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	sqliteStore, err := NewSQLiteStore(filepath.Join(dir, "state", "teaching_memory.db"))
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	memStore, err := NewMemoryStore("")
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	t.Cleanup(func() {
		_ = sqliteStore.Close()
		_ = memStore.Close()
	})
	return map[string]Store{"sqlite": sqliteStore, "memory": memStore}
}

// forEachBackend runs fn once per storage backend with a fresh Manager.
func forEachBackend(t *testing.T, fn func(t *testing.T, m *Manager)) {
	t.Helper()
	for _, name := range []string{"sqlite", "memory"} {
		name := name
		t.Run(name, func(t *testing.T) {
			store := newTestStores(t)[name]
			m, err := NewManager(store, Config{Clock: newStepClock().Now})
			if err != nil {
				t.Fatalf("new manager: %v", err)
			}
			fn(t, m)
		})
	}
}

func countRows(t *testing.T, s Store) TableCounts {
	t.Helper()
	var counts TableCounts
	if err := s.View(context.Background(), func(tx Tx) error {
		var err error
		counts, err = tx.Counts(context.Background())
		return err
	}); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return counts
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "state", "teaching_memory.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	m, err := NewManager(store, Config{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	id, err := m.StoreCourseOutline(ctx, "python basics", CourseOutline{Title: "Python 101"})
	if err != nil {
		t.Fatalf("store outline: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store2.Close()

	version, err := store2.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version != len(schemaMigrations) {
		t.Fatalf("expected schema version %d, got %d", len(schemaMigrations), version)
	}

	m2, _ := NewManager(store2, Config{})
	got, found, err := m2.GetCourseOutline(ctx, id)
	if err != nil || !found {
		t.Fatalf("get outline after reopen: found=%v err=%v", found, err)
	}
	if got.Title != "Python 101" {
		t.Fatalf("unexpected title %q", got.Title)
	}
}

func TestSQLiteStore_RejectsEmptyPath(t *testing.T) {
	if _, err := NewSQLiteStore("  "); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMemoryStore_SnapshotReload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	snapshot := filepath.Join(dir, "snap", "teaching_memory.json")

	store, err := NewMemoryStore(snapshot)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	m, _ := NewManager(store, Config{})
	if err := m.UpdateLearningProgress(ctx, "u1", 1, "intro", ProgressData{ComprehensionScore: 0.4}); err != nil {
		t.Fatalf("update progress: %v", err)
	}
	if _, err := m.RecordTeachingInteraction(ctx, TeachingInteraction{
		ClientID: "u1", SessionID: "s1", Topic: "math", Type: InteractionQuestionAnswer, TopicRelevance: 0.5,
	}); err != nil {
		t.Fatalf("record interaction: %v", err)
	}
	_ = m.Close()

	entries, err := os.ReadDir(filepath.Dir(snapshot))
	if err != nil {
		t.Fatalf("read snapshot dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temporary snapshot left behind: %s", e.Name())
		}
	}

	reopened, err := NewMemoryStore(snapshot)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	counts := countRows(t, reopened)
	if counts.Progress != 1 || counts.Interactions != 1 {
		t.Fatalf("unexpected counts after reload: %+v", counts)
	}

	m2, _ := NewManager(reopened, Config{})
	if err := m2.UpdateLearningProgress(ctx, "u1", 1, "intro", ProgressData{ComprehensionScore: 0.8}); err != nil {
		t.Fatalf("update progress after reload: %v", err)
	}
	rows, err := m2.GetLearningProgress(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if len(rows) != 1 || rows[0].InteractionCount != 2 {
		t.Fatalf("expected reloaded row to be upserted, got %#v", rows)
	}
}

func TestMemoryStore_CorruptSnapshot(t *testing.T) {
	snapshot := filepath.Join(t.TempDir(), "teaching_memory.json")
	if err := os.WriteFile(snapshot, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if _, err := NewMemoryStore(snapshot); !IsSerialization(err) {
		t.Fatalf("expected serialization error, got %v", err)
	}
}

func TestMemoryStore_ViewIsReadOnly(t *testing.T) {
	store, _ := NewMemoryStore("")
	err := store.View(context.Background(), func(tx Tx) error {
		_, err := tx.InsertCourse(context.Background(), CourseOutline{Topic: "x"})
		return err
	})
	if !IsStorage(err) || !errors.Is(err, errReadOnlyTx) {
		t.Fatalf("expected read-only storage error, got %v", err)
	}
}

func TestStore_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			boom := errors.New("boom")
			err := store.Update(ctx, func(tx Tx) error {
				if _, err := tx.InsertCourse(ctx, CourseOutline{Topic: "rolled back"}); err != nil {
					return err
				}
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("expected fn error to be returned, got %v", err)
			}
			if counts := countRows(t, store); counts.Courses != 0 {
				t.Fatalf("expected rollback, got %+v", counts)
			}
		})
	}
}

func TestStore_RollbackOnPanic(t *testing.T) {
	ctx := context.Background()
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			func() {
				defer func() {
					if recover() == nil {
						t.Fatalf("expected panic to propagate")
					}
				}()
				_ = store.Update(ctx, func(tx Tx) error {
					if _, err := tx.InsertCourse(ctx, CourseOutline{Topic: "panicked"}); err != nil {
						return err
					}
					panic("mid-transaction failure")
				})
			}()
			if counts := countRows(t, store); counts.Courses != 0 {
				t.Fatalf("expected rollback after panic, got %+v", counts)
			}
			// The store stays usable.
			if err := store.Update(ctx, func(tx Tx) error {
				_, err := tx.InsertCourse(ctx, CourseOutline{Topic: "after"})
				return err
			}); err != nil {
				t.Fatalf("update after panic: %v", err)
			}
		})
	}
}

func TestStore_OneOpenTopicPerSession(t *testing.T) {
	ctx := context.Background()
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			seg := TopicSegment{ClientID: "u1", SessionID: "s1", Topic: "a", StartedAt: time.Now(), CreatedAt: time.Now()}
			if err := store.Update(ctx, func(tx Tx) error {
				_, err := tx.InsertTopic(ctx, seg)
				return err
			}); err != nil {
				t.Fatalf("insert first open segment: %v", err)
			}
			err := store.Update(ctx, func(tx Tx) error {
				seg.Topic = "b"
				_, err := tx.InsertTopic(ctx, seg)
				return err
			})
			if !IsStorage(err) {
				t.Fatalf("expected storage error for second open segment, got %v", err)
			}
		})
	}
}

func TestOpenStore_SelectsBackend(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		cfg     StoreConfig
		backend string
	}{
		{StoreConfig{Path: filepath.Join(dir, "a.db")}, "sqlite"},
		{StoreConfig{Type: "SQLite", Path: filepath.Join(dir, "b.db")}, "sqlite"},
		{StoreConfig{Type: StoreTypeMemory}, "memory"},
	}
	for _, tc := range cases {
		store, err := OpenStore(tc.cfg)
		if err != nil {
			t.Fatalf("open %+v: %v", tc.cfg, err)
		}
		if store.Backend() != tc.backend {
			t.Fatalf("expected backend %s, got %s", tc.backend, store.Backend())
		}
		_ = store.Close()
	}

	if _, err := OpenStore(StoreConfig{Type: "redis"}); !IsValidation(err) {
		t.Fatalf("expected validation error for unknown backend, got %v", err)
	}
}
