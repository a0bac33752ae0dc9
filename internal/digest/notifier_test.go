package digest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/feedscribe/feedscribe/internal/storage"
)

type sentMail struct {
	to      string
	subject string
	body    string
}

type fakeMailer struct {
	sent    []sentMail
	failFor string // recipient that errors
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if to == m.failFor {
		return fmt.Errorf("smtp rejected %s", to)
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: htmlBody})
	return nil
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func addDigestUser(t *testing.T, store *storage.Store, name, frequency string) int64 {
	t.Helper()
	id, err := store.CreateUser(&storage.User{
		Username:             name,
		Email:                name + "@example.com",
		EmailVerified:        true,
		NotificationsEnabled: true,
		EmailFrequency:       frequency,
		SummaryLength:        "medium",
		FocusAreas:           "main points",
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return id
}

func addProcessedArticle(t *testing.T, store *storage.Store, feedID int64, n int) {
	t.Helper()
	summary := fmt.Sprintf("summary %d", n)
	_, _, err := store.InsertArticle(&storage.Article{
		FeedID:    feedID,
		Title:     fmt.Sprintf("Article %d", n),
		URL:       fmt.Sprintf("https://example.com/%d/%d", feedID, n),
		Summary:   &summary,
		Processed: true,
	})
	if err != nil {
		t.Fatalf("InsertArticle failed: %v", err)
	}
}

func TestSendDaily(t *testing.T) {
	store := newTestStore(t)
	userID := addDigestUser(t, store, "alice", storage.FrequencyDaily)
	feedID, _ := store.AddFeed(userID, "https://example.com/feed.xml")
	addProcessedArticle(t, store, feedID, 1)
	addProcessedArticle(t, store, feedID, 2)

	mailer := &fakeMailer{}
	n := NewNotifier(store, mailer)
	if err := n.SendDaily(context.Background()); err != nil {
		t.Fatalf("SendDaily failed: %v", err)
	}

	if len(mailer.sent) != 1 {
		t.Fatalf("sent = %d messages, want 1", len(mailer.sent))
	}
	mail := mailer.sent[0]
	if mail.to != "alice@example.com" {
		t.Errorf("to = %q", mail.to)
	}
	if !strings.Contains(mail.subject, "daily") || !strings.Contains(mail.subject, "2 new articles") {
		t.Errorf("subject = %q", mail.subject)
	}
	if !strings.Contains(mail.body, "Article 1") || !strings.Contains(mail.body, "summary 2") {
		t.Error("body missing article content")
	}
	if !strings.Contains(mail.body, "Hi alice") {
		t.Error("body missing greeting")
	}
}

func TestSendDailySkipsUsersWithoutArticles(t *testing.T) {
	store := newTestStore(t)
	addDigestUser(t, store, "empty", storage.FrequencyDaily)

	withArticles := addDigestUser(t, store, "busy", storage.FrequencyDaily)
	feedID, _ := store.AddFeed(withArticles, "https://example.com/feed.xml")
	addProcessedArticle(t, store, feedID, 1)

	mailer := &fakeMailer{}
	if err := NewNotifier(store, mailer).SendDaily(context.Background()); err != nil {
		t.Fatalf("SendDaily failed: %v", err)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].to != "busy@example.com" {
		t.Fatalf("sent = %v, want only busy@example.com", mailer.sent)
	}
}

func TestSendDailyIgnoresUnprocessedArticles(t *testing.T) {
	store := newTestStore(t)
	userID := addDigestUser(t, store, "alice", storage.FrequencyDaily)
	feedID, _ := store.AddFeed(userID, "https://example.com/feed.xml")
	store.InsertArticle(&storage.Article{
		FeedID: feedID, Title: "Raw", URL: "https://example.com/raw",
	})

	mailer := &fakeMailer{}
	if err := NewNotifier(store, mailer).SendDaily(context.Background()); err != nil {
		t.Fatalf("SendDaily failed: %v", err)
	}
	if len(mailer.sent) != 0 {
		t.Errorf("sent = %d, want 0 (raw articles excluded)", len(mailer.sent))
	}
}

func TestSendWeeklyMatchesFrequency(t *testing.T) {
	store := newTestStore(t)

	dailyID := addDigestUser(t, store, "daily", storage.FrequencyDaily)
	dailyFeed, _ := store.AddFeed(dailyID, "https://example.com/daily.xml")
	addProcessedArticle(t, store, dailyFeed, 1)

	weeklyID := addDigestUser(t, store, "weekly", storage.FrequencyWeekly)
	weeklyFeed, _ := store.AddFeed(weeklyID, "https://example.com/weekly.xml")
	addProcessedArticle(t, store, weeklyFeed, 1)

	mailer := &fakeMailer{}
	if err := NewNotifier(store, mailer).SendWeekly(context.Background()); err != nil {
		t.Fatalf("SendWeekly failed: %v", err)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].to != "weekly@example.com" {
		t.Fatalf("sent = %v, want only weekly@example.com", mailer.sent)
	}
}

func TestSendDailyPerUserFailureContained(t *testing.T) {
	store := newTestStore(t)
	for _, name := range []string{"alice", "bob"} {
		id := addDigestUser(t, store, name, storage.FrequencyDaily)
		feedID, _ := store.AddFeed(id, fmt.Sprintf("https://example.com/%s.xml", name))
		addProcessedArticle(t, store, feedID, 1)
	}

	mailer := &fakeMailer{failFor: "alice@example.com"}
	if err := NewNotifier(store, mailer).SendDaily(context.Background()); err != nil {
		t.Fatalf("SendDaily failed: %v", err)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].to != "bob@example.com" {
		t.Fatalf("sent = %v, want bob despite alice's failure", mailer.sent)
	}
}

func TestRenderSanitizesSummaries(t *testing.T) {
	store := newTestStore(t)
	n := NewNotifier(store, &fakeMailer{})

	summary := `Nice read. <script>alert("x")</script>`
	body, err := n.render("daily", "alice", "in the last day", []storage.Article{
		{Title: "A", URL: "https://example.com/a", Summary: &summary},
	})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if strings.Contains(body, "<script>") {
		t.Error("markup survived sanitization")
	}
	if !strings.Contains(body, "Nice read.") {
		t.Error("summary text missing")
	}
}
