package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nugget/laopeng-portal/internal/localstore"
)

type tick struct{ t time.Time }

func (c *tick) now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newTestStore(t *testing.T) (*Store, *localstore.Memory) {
	t.Helper()
	mem := localstore.NewMemory(0)
	clk := &tick{t: time.Date(2026, 2, 22, 9, 0, 0, 0, time.UTC)}
	s, err := New(mem, nil, WithClock(clk.now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, mem
}

func stored(t *testing.T, mem *localstore.Memory) []Conversation {
	t.Helper()
	raw, ok, _ := mem.Get(StorageKey)
	if !ok {
		t.Fatal("collection not persisted")
	}
	var out []Conversation
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("decode stored collection: %v", err)
	}
	return out
}

func TestCreate(t *testing.T) {
	s, mem := newTestStore(t)

	first, err := s.Create("")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, _ := s.Create("poetry")

	if first.Title != DefaultTitle || first.AgentID != DefaultAgentID {
		t.Errorf("first = %+v", first)
	}
	if first.CreatedAt == 0 || first.CreatedAt != first.UpdatedAt {
		t.Errorf("timestamps = %d/%d", first.CreatedAt, first.UpdatedAt)
	}

	list := s.List()
	if len(list) != 2 || list[0].ID != second.ID {
		t.Errorf("newest conversation should be first: %+v", list)
	}
	if active, _ := s.Active(); active.ID != second.ID {
		t.Errorf("active = %q, want newest", active.ID)
	}
	if got := stored(t, mem); len(got) != 2 || got[0].AgentID != "poetry" {
		t.Errorf("stored = %+v", got)
	}
}

func TestAppendMessage_PreservesOrder(t *testing.T) {
	s, _ := newTestStore(t)
	c, _ := s.Create("")

	const n = 25
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := s.AppendMessage(c.ID, Message{Role: role, Content: fmt.Sprint(i)}); err != nil {
			t.Fatalf("AppendMessage(%d): %v", i, err)
		}
	}

	got, _ := s.Get(c.ID)
	if len(got.Messages) != n {
		t.Fatalf("messages = %d, want %d", len(got.Messages), n)
	}
	for i, m := range got.Messages {
		if m.Content != fmt.Sprint(i) {
			t.Errorf("message %d content = %q", i, m.Content)
		}
		if m.ID == "" || m.Timestamp == 0 {
			t.Errorf("message %d missing id or timestamp", i)
		}
	}
}

func TestAppendMessage_DerivesTitle(t *testing.T) {
	tests := []struct {
		name    string
		first   Message
		want    string
		wantSet bool
	}{
		{
			name:  "long user message truncated to 20 characters",
			first: Message{Role: RoleUser, Content: "测试一下这个功能是否正常工作超过二十个字"},
			want:  "测试一下这个功能是否正常工作超过二十个字",
		},
		{
			name:  "longer than 20",
			first: Message{Role: RoleUser, Content: "测试一下这个功能是否正常工作超过二十个字还有更多内容"},
			want:  "测试一下这个功能是否正常工作超过二十个字",
		},
		{
			name:  "short",
			first: Message{Role: RoleUser, Content: "你好"},
			want:  "你好",
		},
		{
			name:  "empty falls back",
			first: Message{Role: RoleUser, Content: ""},
			want:  DefaultTitle,
		},
		{
			name:  "assistant first leaves title",
			first: Message{Role: RoleAssistant, Content: "欢迎"},
			want:  DefaultTitle,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			c, _ := s.Create("")
			if err := s.AppendMessage(c.ID, tt.first); err != nil {
				t.Fatal(err)
			}
			got, _ := s.Get(c.ID)
			if got.Title != tt.want {
				t.Errorf("title = %q, want %q", got.Title, tt.want)
			}
			if n := len([]rune(got.Title)); n > 20 {
				t.Errorf("title has %d characters", n)
			}
		})
	}
}

func TestAppendMessage_TitleOnlyFromFirstMessage(t *testing.T) {
	s, _ := newTestStore(t)
	c, _ := s.Create("")
	s.AppendMessage(c.ID, Message{Role: RoleUser, Content: "第一条"})
	s.AppendMessage(c.ID, Message{Role: RoleUser, Content: "第二条"})

	got, _ := s.Get(c.ID)
	if got.Title != "第一条" {
		t.Errorf("title = %q, want 第一条", got.Title)
	}
}

func TestUpdateLastAssistantMessage(t *testing.T) {
	s, _ := newTestStore(t)
	c, _ := s.Create("")
	s.AppendMessage(c.ID, Message{Role: RoleUser, Content: "问题"})

	before, _ := s.Get(c.ID)
	if err := s.UpdateLastAssistantMessage(c.ID, "不应写入"); err != nil {
		t.Fatalf("no-op update returned error: %v", err)
	}
	after, _ := s.Get(c.ID)
	if after.Messages[0].Content != "问题" || len(after.Messages) != 1 {
		t.Errorf("user message mutated: %+v", after.Messages)
	}
	if after.UpdatedAt != before.UpdatedAt {
		t.Error("no-op update changed updatedAt")
	}

	s.AppendMessage(c.ID, Message{Role: RoleAssistant})
	for _, partial := range []string{"Hel", "Hello", ""} {
		if err := s.UpdateLastAssistantMessage(c.ID, partial); err != nil {
			t.Fatal(err)
		}
		got, _ := s.Get(c.ID)
		if last, _ := got.LastMessage(); last.Content != partial {
			t.Errorf("last content = %q, want %q", last.Content, partial)
		}
	}

	if err := s.UpdateLastAssistantMessage("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}
}

func TestDelete_ReselectsActive(t *testing.T) {
	s, mem := newTestStore(t)
	a, _ := s.Create("")
	b, _ := s.Create("")
	c, _ := s.Create("") // order: c, b, a; active c

	if err := s.Delete(b.ID); err != nil {
		t.Fatal(err)
	}
	if active, _ := s.Active(); active.ID != c.ID {
		t.Errorf("deleting inactive changed active to %q", active.ID)
	}

	if err := s.Delete(c.ID); err != nil {
		t.Fatal(err)
	}
	if active, _ := s.Active(); active.ID != a.ID {
		t.Errorf("active = %q, want %q", active.ID, a.ID)
	}

	if err := s.Delete(a.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Active(); ok {
		t.Error("expected no active conversation")
	}
	if got := stored(t, mem); len(got) != 0 {
		t.Errorf("stored = %+v, want empty", got)
	}

	if err := s.Delete("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(missing) = %v", err)
	}
}

func TestRenameAndSetAgent(t *testing.T) {
	s, _ := newTestStore(t)
	c, _ := s.Create("")

	if err := s.Rename(c.ID, "古诗复习"); err != nil {
		t.Fatal(err)
	}
	renamed, _ := s.Get(c.ID)
	if renamed.Title != "古诗复习" || renamed.UpdatedAt != c.UpdatedAt {
		t.Errorf("rename = %+v", renamed)
	}

	if err := s.SetAgent(c.ID, "poetry"); err != nil {
		t.Fatal(err)
	}
	reassigned, _ := s.Get(c.ID)
	if reassigned.AgentID != "poetry" || reassigned.UpdatedAt <= c.UpdatedAt {
		t.Errorf("set agent = %+v", reassigned)
	}

	if err := s.Rename("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Rename(missing) = %v", err)
	}
}

func TestNew_ReloadsCollection(t *testing.T) {
	s, mem := newTestStore(t)
	old, _ := s.Create("writing")
	s.AppendMessage(old.ID, Message{Role: RoleUser, Content: "写作文"})
	newest, _ := s.Create("")

	reloaded, err := New(mem, nil)
	if err != nil {
		t.Fatal(err)
	}
	list := reloaded.List()
	if len(list) != 2 || list[1].Title != "写作文" {
		t.Errorf("reloaded = %+v", list)
	}
	if active, _ := reloaded.Active(); active.ID != newest.ID {
		t.Errorf("active after reload = %q, want first", active.ID)
	}
}

func TestNew_StoredFormat(t *testing.T) {
	mem := localstore.NewMemory(0)
	mem.Set(StorageKey, `[{"id":"c1","title":"旧对话","messages":[{"id":"m1","role":"user","content":"hi","timestamp":1}],"agentId":"news","createdAt":1,"updatedAt":2}]`)

	s, err := New(mem, nil)
	if err != nil {
		t.Fatal(err)
	}
	c, ok := s.Get("c1")
	if !ok || c.AgentID != "news" || c.Messages[0].Content != "hi" {
		t.Errorf("browser-format collection not loaded: %+v", c)
	}
}

func TestNew_CorruptCollectionStartsEmpty(t *testing.T) {
	mem := localstore.NewMemory(0)
	mem.Set(StorageKey, "{broken")

	s, err := New(mem, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(s.List()) != 0 {
		t.Error("corrupt collection should load empty")
	}
}

func TestPersistFailure_KeepsMemoryState(t *testing.T) {
	mem := localstore.NewMemory(300)
	s, err := New(mem, nil)
	if err != nil {
		t.Fatal(err)
	}
	c, err := s.Create("")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	err = s.AppendMessage(c.ID, Message{Role: RoleUser, Content: strings.Repeat("长", 200)})
	if !IsPersistError(err) {
		t.Fatalf("AppendMessage error = %v, want *PersistError", err)
	}
	if !errors.Is(err, localstore.ErrQuotaExceeded) {
		t.Errorf("PersistError should wrap the storage error: %v", err)
	}

	got, _ := s.Get(c.ID)
	if len(got.Messages) != 1 {
		t.Errorf("in-memory state lost: %d messages", len(got.Messages))
	}
}

func TestReadsReturnCopies(t *testing.T) {
	s, _ := newTestStore(t)
	c, _ := s.Create("")
	s.AppendMessage(c.ID, Message{Role: RoleUser, Content: "原文"})

	got, _ := s.Get(c.ID)
	got.Messages[0].Content = "篡改"

	again, _ := s.Get(c.ID)
	if again.Messages[0].Content != "原文" {
		t.Error("mutating a returned copy changed the store")
	}
}

func TestConcurrentConversations(t *testing.T) {
	s, mem := newTestStore(t)
	a, _ := s.Create("")
	b, _ := s.Create("")

	var wg sync.WaitGroup
	for _, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.AppendMessage(id, Message{Role: RoleAssistant, Content: fmt.Sprint(i)})
				s.UpdateLastAssistantMessage(id, fmt.Sprint(i, "!"))
			}
		}(id)
	}
	wg.Wait()

	for _, c := range stored(t, mem) {
		if len(c.Messages) != 50 {
			t.Errorf("conversation %s persisted %d messages, want 50", c.ID, len(c.Messages))
		}
	}
}

func TestSetActive(t *testing.T) {
	s, _ := newTestStore(t)
	a, _ := s.Create("")
	s.Create("")

	if err := s.SetActive(a.ID); err != nil {
		t.Fatal(err)
	}
	if active, _ := s.Active(); active.ID != a.ID {
		t.Errorf("active = %q", active.ID)
	}
	if err := s.SetActive("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetActive(missing) = %v", err)
	}
	if err := s.SetActive(""); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Active(); ok {
		t.Error("empty id should clear the selection")
	}
}
