package daycache

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/nugget/laopeng-portal/internal/localstore"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type item struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

func TestKey(t *testing.T) {
	tests := []struct {
		t    time.Time
		want string
	}{
		{time.Date(2026, 2, 3, 9, 0, 0, 0, time.Local), "news_list_2026-2-3"},
		{time.Date(2026, 12, 31, 23, 59, 59, 0, time.Local), "news_list_2026-12-31"},
	}
	for _, tt := range tests {
		if got := Key("news_list", tt.t); got != tt.want {
			t.Errorf("Key(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}
}

func TestReadWrite_SameDay(t *testing.T) {
	clk := &clock{t: time.Date(2026, 2, 22, 8, 0, 0, 0, time.Local)}
	c := New(localstore.NewMemory(0), nil, WithClock(clk.now))

	if _, ok := Read[[]item](c, "news_list"); ok {
		t.Fatal("empty cache should miss")
	}

	want := []item{{ID: 1, Title: "教育"}, {ID: 2, Title: "科技"}}
	c.Write("news_list", want)

	clk.t = clk.t.Add(10 * time.Hour)
	got, ok := Read[[]item](c, "news_list")
	if !ok {
		t.Fatal("same-day read should hit")
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Read = %+v, want %+v", got, want)
	}
}

func TestDateRollover(t *testing.T) {
	store := localstore.NewMemory(0)
	clk := &clock{t: time.Date(2026, 2, 22, 12, 0, 0, 0, time.Local)}
	c := New(store, nil, WithClock(clk.now))

	c.Write("home_data", map[string]string{"day": "one"})
	d1Key := Key("home_data", clk.t)

	// Unrelated prefixes survive pruning.
	store.Set("news_list_2026-2-22", "[]")
	store.Set("laopeng_conversations", "[]")

	clk.t = clk.t.Add(24 * time.Hour)
	if _, ok := Read[map[string]string](c, "home_data"); ok {
		t.Fatal("read after rollover should miss")
	}

	c.Write("home_data", map[string]string{"day": "two"})

	if _, ok, _ := store.Get(d1Key); ok {
		t.Errorf("stale key %s survived the D2 write", d1Key)
	}
	got, ok := Read[map[string]string](c, "home_data")
	if !ok || got["day"] != "two" {
		t.Errorf("Read after D2 write = %v, %v", got, ok)
	}

	keys, _ := store.Keys()
	want := []string{"home_data_2026-2-23", "laopeng_conversations", "news_list_2026-2-22"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("keys = %v, want %v", keys, want)
	}
}

func TestRead_CorruptEntryMisses(t *testing.T) {
	store := localstore.NewMemory(0)
	clk := &clock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.Local)}
	c := New(store, nil, WithClock(clk.now))

	store.Set(Key("home_data", clk.t), "{not json")
	if _, ok := Read[map[string]any](c, "home_data"); ok {
		t.Error("corrupt entry should read as a miss")
	}
}

type failingStorage struct {
	localstore.Storage
}

func (failingStorage) Get(string) (string, bool, error) { return "", false, errors.New("disk gone") }
func (failingStorage) Keys() ([]string, error)          { return nil, errors.New("disk gone") }
func (failingStorage) Set(string, string) error         { return errors.New("disk gone") }

func TestErrorsAreSwallowed(t *testing.T) {
	c := New(failingStorage{}, nil)
	c.Write("home_data", map[string]int{"a": 1})
	if _, ok := Read[map[string]int](c, "home_data"); ok {
		t.Error("failing storage should read as a miss")
	}
}

func TestWrite_QuotaExceededIsIgnored(t *testing.T) {
	store := localstore.NewMemory(8)
	c := New(store, nil)

	c.Write("news_list", []string{"a long enough value"})
	if keys, _ := store.Keys(); len(keys) != 0 {
		t.Errorf("keys = %v, want none after refused write", keys)
	}
}
