package bot

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lebouse/telegram-reminder/internal/storage"
	"github.com/Lebouse/telegram-reminder/internal/task"
)

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newSessionStore(10 * time.Minute)
	s.now = func() time.Time { return now }

	if got := s.get(1); got != nil {
		t.Fatalf("get before start = %v, want nil", got)
	}

	sess := s.start(1)
	sess.Step = stepDate
	if got := s.get(1); got != sess {
		t.Fatal("get did not return the started session")
	}

	// A fresh start replaces the old dialog.
	again := s.start(1)
	if again == sess || again.Step != 0 {
		t.Fatal("start did not replace the session")
	}

	// Access inside the idle window keeps the session alive.
	now = now.Add(9 * time.Minute)
	if s.get(1) == nil {
		t.Fatal("session expired too early")
	}
	now = now.Add(9 * time.Minute)
	if s.get(1) == nil {
		t.Fatal("access should have refreshed the idle clock")
	}

	now = now.Add(11 * time.Minute)
	if got := s.get(1); got != nil {
		t.Fatalf("idle session not expired: %v", got)
	}

	s.start(2)
	s.drop(2)
	if s.get(2) != nil {
		t.Fatal("dropped session still present")
	}
}

func TestCheckFireAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	horizon := 365 * 24 * time.Hour

	if msg := checkFireAt(now, now.Add(time.Hour), horizon); msg != "" {
		t.Errorf("near-future rejected: %q", msg)
	}
	if msg := checkFireAt(now, now.Add(-time.Minute), horizon); msg == "" {
		t.Error("past instant accepted")
	}
	if msg := checkFireAt(now, now, horizon); msg == "" {
		t.Error("exact now accepted")
	}
	if msg := checkFireAt(now, now.Add(horizon+time.Hour), horizon); msg == "" {
		t.Error("over-horizon instant accepted")
	}
	// Zero horizon disables the ceiling.
	if msg := checkFireAt(now, now.Add(10*365*24*time.Hour), 0); msg != "" {
		t.Errorf("zero horizon rejected: %q", msg)
	}
}

func TestRenderTaskList(t *testing.T) {
	t.Parallel()

	loc := time.UTC
	if got := renderTaskList(nil, loc); !strings.Contains(got, "No active publications") {
		t.Errorf("empty list = %q", got)
	}

	tasks := []task.Task{
		{
			ID:         7,
			ChatID:     -100123,
			Payload:    task.Payload{Kind: task.KindText, Text: "weekly digest"},
			NextFireAt: time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC),
			Recurrence: task.RecurWeekly,
			Pin:        true,
		},
		{
			ID:              8,
			ChatID:          -100456,
			Payload:         task.Payload{Kind: task.KindPhoto, FileID: "f", Caption: "banner"},
			NextFireAt:      time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC),
			Recurrence:      task.RecurNone,
			DeleteAfterDays: 2,
		},
	}
	got := renderTaskList(tasks, loc)
	for _, want := range []string{"#7", "#8", "weekly digest", "01.04.2024 09:00", "(weekly)", "pin: yes", "delete: after 2 days"} {
		if !strings.Contains(got, want) {
			t.Errorf("list missing %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "(once)") {
		t.Errorf("one-shot task should not carry a recurrence label:\n%s", got)
	}
}

func TestRenderChatList(t *testing.T) {
	t.Parallel()

	if got := renderChatList(nil, time.UTC); !strings.Contains(got, "not a member of any chat") {
		t.Errorf("empty chats = %q", got)
	}
	chats := []storage.Chat{
		{ID: -100123, Title: "Announcements", AddedAt: time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)},
	}
	got := renderChatList(chats, time.UTC)
	for _, want := range []string{"Announcements", "-100123", "01.02.2024 10:00"} {
		if !strings.Contains(got, want) {
			t.Errorf("chat list missing %q in:\n%s", want, got)
		}
	}
}

func TestRenderScheduled(t *testing.T) {
	t.Parallel()

	d := task.Draft{
		ChatID:          -100123,
		Payload:         task.Payload{Kind: task.KindText, Text: "hi"},
		FireAt:          time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC),
		Recurrence:      task.RecurMonthly,
		Pin:             true,
		Silent:          true,
		DeleteAfterDays: 1,
	}
	got := renderScheduled(42, d, time.UTC)
	for _, want := range []string{"ID: 42", "Chat: -100123", "01.04.2024 09:00", "monthly", "Pin: yes", "Silent: yes", "after 1 day"} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q in:\n%s", want, got)
		}
	}
}

func TestSessionConcurrentDialogUpdates(t *testing.T) {
	t.Parallel()

	// Handlers run in separate goroutines per update; the per-session
	// lock must keep read-check-mutate sequences whole.
	s := newSessionStore(time.Minute)
	s.start(1)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				sess := s.get(1)
				if sess == nil {
					continue
				}
				sess.mu.Lock()
				sess.Step = stepDate
				sess.Draft.ChatID = -100123
				sess.Draft.Payload = task.Payload{Kind: task.KindText, Text: "post"}
				if sess.Draft.ChatID != -100123 {
					t.Error("draft mutated mid-sequence")
				}
				sess.mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sess := s.get(1)
	if sess == nil {
		t.Fatal("session lost")
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Step != stepDate || sess.Draft.ChatID != -100123 {
		t.Fatalf("final session state = step %d, chat %d", sess.Step, sess.Draft.ChatID)
	}
}
