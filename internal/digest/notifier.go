package digest

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"

	"github.com/feedscribe/feedscribe/internal/storage"
)

const digestTemplate = `<html>
<body style="font-family: sans-serif; max-width: 640px; margin: 0 auto;">
  <h2>Your {{.Frequency}} digest</h2>
  <p>Hi {{.Username}}, here is what your feeds published {{.Window}}.</p>
  {{range .Articles}}
  <div style="margin-bottom: 24px; border-bottom: 1px solid #ddd; padding-bottom: 12px;">
    <h3 style="margin-bottom: 4px;"><a href="{{.URL}}">{{.Title}}</a></h3>
    {{if .Published}}<p style="color: #888; font-size: 12px; margin: 0;">{{.Published}}</p>{{end}}
    <p>{{.Summary}}</p>
    {{if .Critique}}<p style="color: #555;"><em>{{.Critique}}</em></p>{{end}}
  </div>
  {{end}}
</body>
</html>`

type templateArticle struct {
	Title     string
	URL       string
	Published string
	Summary   string
	Critique  string
}

type templateData struct {
	Frequency string
	Username  string
	Window    string
	Articles  []templateArticle
}

// Notifier assembles and sends digest emails.
type Notifier struct {
	store  *storage.Store
	mailer Mailer
	tmpl   *template.Template
	policy *bluemonday.Policy
	now    func() time.Time
}

// NewNotifier creates a digest notifier delivering through mailer.
func NewNotifier(store *storage.Store, mailer Mailer) *Notifier {
	return &Notifier{
		store:  store,
		mailer: mailer,
		tmpl:   template.Must(template.New("digest").Parse(digestTemplate)),
		policy: bluemonday.StrictPolicy(),
		now:    time.Now,
	}
}

// SendDaily emails each daily-digest user their processed articles from the
// trailing 24 hours.
func (n *Notifier) SendDaily(ctx context.Context) error {
	return n.send(ctx, storage.FrequencyDaily, 24*time.Hour, "in the last day")
}

// SendWeekly emails each weekly-digest user their processed articles from
// the trailing 7 days.
func (n *Notifier) SendWeekly(ctx context.Context) error {
	return n.send(ctx, storage.FrequencyWeekly, 7*24*time.Hour, "in the last week")
}

// send walks matching users and mails one digest per user with at least one
// article. Per-user failures are logged; the rest of the batch proceeds.
func (n *Notifier) send(ctx context.Context, frequency string, window time.Duration, windowLabel string) error {
	users, err := n.store.UsersForDigest(frequency)
	if err != nil {
		return fmt.Errorf("select digest users: %w", err)
	}

	since := n.now().UTC().Add(-window)
	sent, skipped, failed := 0, 0, 0
	for i := range users {
		user := &users[i]
		if err := ctx.Err(); err != nil {
			return err
		}

		articles, err := n.store.ProcessedArticlesSince(user.ID, since)
		if err != nil {
			log.Error().Err(err).Int64("user_id", user.ID).Msg("digest article query failed")
			failed++
			continue
		}
		if len(articles) == 0 {
			skipped++
			continue
		}

		body, err := n.render(frequency, user.Username, windowLabel, articles)
		if err != nil {
			log.Error().Err(err).Int64("user_id", user.ID).Msg("digest rendering failed")
			failed++
			continue
		}

		subject := fmt.Sprintf("Feedscribe %s digest: %d new article%s",
			frequency, len(articles), plural(len(articles)))
		if err := n.mailer.Send(ctx, user.Email, subject, body); err != nil {
			log.Error().Err(err).Int64("user_id", user.ID).Msg("digest delivery failed")
			failed++
			continue
		}
		sent++
	}

	log.Info().Str("frequency", frequency).Int("sent", sent).
		Int("skipped", skipped).Int("failed", failed).Msg("digest batch finished")
	return nil
}

func (n *Notifier) render(frequency, username, windowLabel string, articles []storage.Article) (string, error) {
	data := templateData{
		Frequency: frequency,
		Username:  username,
		Window:    windowLabel,
	}
	for _, a := range articles {
		ta := templateArticle{
			Title: a.Title,
			URL:   a.URL,
		}
		if a.PublishedDate != nil {
			ta.Published = a.PublishedDate.Format("Jan 2, 2006")
		}
		if a.Summary != nil {
			ta.Summary = n.policy.Sanitize(*a.Summary)
		}
		if a.Critique != nil {
			ta.Critique = n.policy.Sanitize(*a.Critique)
		}
		data.Articles = append(data.Articles, ta)
	}

	var out strings.Builder
	if err := n.tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("execute digest template: %w", err)
	}
	return out.String(), nil
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
