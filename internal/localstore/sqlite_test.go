package localstore

import (
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func testSQLite(t *testing.T, quota int64) *SQLite {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s, err := New(db, quota)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// backends runs fn against every Storage implementation.
func backends(t *testing.T, quota int64, fn func(t *testing.T, s Storage)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, testSQLite(t, quota)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory(quota)) })
}

func TestGetMissing(t *testing.T) {
	backends(t, 0, func(t *testing.T, s Storage) {
		val, ok, err := s.Get("missing")
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if ok || val != "" {
			t.Errorf("Get() = %q, %v; want absent", val, ok)
		}
	})
}

func TestSetGetUpsert(t *testing.T) {
	backends(t, 0, func(t *testing.T, s Storage) {
		if err := s.Set("laopeng_conversations", "[]"); err != nil {
			t.Fatalf("Set(v1) error: %v", err)
		}
		if err := s.Set("laopeng_conversations", `[{"id":"a"}]`); err != nil {
			t.Fatalf("Set(v2) error: %v", err)
		}

		val, ok, err := s.Get("laopeng_conversations")
		if err != nil || !ok {
			t.Fatalf("Get() = %v, %v", ok, err)
		}
		if val != `[{"id":"a"}]` {
			t.Errorf("Get() = %q, want upserted value", val)
		}
	})
}

func TestRemoveAndKeys(t *testing.T) {
	backends(t, 0, func(t *testing.T, s Storage) {
		for _, k := range []string{"news_list_2026-2-22", "home_data_2026-2-21", "home_data_2026-2-22"} {
			if err := s.Set(k, "{}"); err != nil {
				t.Fatalf("Set(%q): %v", k, err)
			}
		}
		if err := s.Remove("home_data_2026-2-21"); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if err := s.Remove("never-existed"); err != nil {
			t.Fatalf("Remove(absent): %v", err)
		}

		keys, err := s.Keys()
		if err != nil {
			t.Fatalf("Keys: %v", err)
		}
		want := []string{"home_data_2026-2-22", "news_list_2026-2-22"}
		if !reflect.DeepEqual(keys, want) {
			t.Errorf("Keys() = %v, want %v", keys, want)
		}
	})
}

func TestQuota(t *testing.T) {
	backends(t, 10, func(t *testing.T, s Storage) {
		if err := s.Set("a", "12345"); err != nil {
			t.Fatalf("Set(a): %v", err)
		}
		// Replacing a key only counts the new value.
		if err := s.Set("a", "1234567890"); err != nil {
			t.Fatalf("Set(a) replace: %v", err)
		}
		err := s.Set("b", "x")
		if !errors.Is(err, ErrQuotaExceeded) {
			t.Fatalf("Set(b) = %v, want ErrQuotaExceeded", err)
		}
		if _, ok, _ := s.Get("b"); ok {
			t.Error("refused write must not be stored")
		}
	})
}

func TestQuotaCountsBytes(t *testing.T) {
	backends(t, 6, func(t *testing.T, s Storage) {
		// Two CJK characters are six bytes in UTF-8.
		if err := s.Set("k", "老彭"); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := s.Set("k", "老彭!"); !errors.Is(err, ErrQuotaExceeded) {
			t.Errorf("Set = %v, want ErrQuotaExceeded", err)
		}
	})
}

func TestOpen_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "laopeng.db")
	s, err := Open("sqlite", path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set("k", strings.Repeat("v", 100)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.Close()

	// Reopen and confirm durability.
	s, err = Open("sqlite", path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	val, ok, err := s.Get("k")
	if err != nil || !ok || len(val) != 100 {
		t.Errorf("Get after reopen = %d bytes, %v, %v", len(val), ok, err)
	}
}
