// Package feedscribe is the processing core of the Feedscribe service: a
// recurring job scheduler driving the fetch, dedupe, enrich, persist
// pipeline, plus webhook-triggered processing and digest delivery.
package feedscribe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/feedscribe/feedscribe/internal/ai"
	"github.com/feedscribe/feedscribe/internal/config"
	"github.com/feedscribe/feedscribe/internal/digest"
	"github.com/feedscribe/feedscribe/internal/feeds"
	"github.com/feedscribe/feedscribe/internal/pipeline"
	"github.com/feedscribe/feedscribe/internal/scheduler"
	"github.com/feedscribe/feedscribe/internal/storage"
	"github.com/feedscribe/feedscribe/internal/webhook"
)

// Standing job ids. One-shot jobs use process_feed_<id> / retry_feed_<id>.
const (
	jobProcessFeeds    = "process_feeds"
	jobDailyDigest     = "send_daily_digest"
	jobWeeklyDigest    = "send_weekly_digest"
	jobCleanupAccounts = "cleanup_expired_accounts"
)

// Engine wires the storage, scheduler, pipeline, webhook, and digest layers
// together. It is the only type entry points talk to.
type Engine struct {
	cfg       *config.Config
	store     *storage.Store
	sched     *scheduler.Scheduler
	processor *pipeline.Processor
	registrar *webhook.Registrar // nil when no service configured
	notifier  *digest.Notifier   // nil when no SMTP configured
}

// New builds an engine from the configuration. The Ollama and webhook
// services are only contacted once processing starts.
func New(cfg *config.Config) (*Engine, error) {
	store, err := storage.NewStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	summarizer, err := ai.NewSummarizer(cfg.Ollama.BaseURL, cfg.Ollama.Model)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create summarizer: %w", err)
	}

	var registrar *webhook.Registrar
	callbackURL := ""
	if cfg.Webhook.ServiceURL != "" {
		if cfg.Webhook.AppBaseURL == "" {
			store.Close()
			return nil, fmt.Errorf("webhook service configured without app_base_url")
		}
		callbackURL, err = webhook.CallbackURL(cfg.Webhook.AppBaseURL)
		if err != nil {
			store.Close()
			return nil, err
		}
		registrar = webhook.NewRegistrar(cfg.Webhook.ServiceURL, cfg.Webhook.Secret)
	}

	sched := scheduler.New(cfg.Scheduler.Workers)
	processor := pipeline.New(store, feeds.NewFetcher(), summarizer, registrar, sched,
		pipeline.Config{CallbackURL: callbackURL})

	var notifier *digest.Notifier
	if cfg.SMTP.Host != "" {
		notifier = digest.NewNotifier(store, &digest.SMTPMailer{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	}

	return &Engine{
		cfg:       cfg,
		store:     store,
		sched:     sched,
		processor: processor,
		registrar: registrar,
		notifier:  notifier,
	}, nil
}

// Start registers the standing jobs and launches the scheduler.
func (e *Engine) Start() error {
	e.sched.AddOrReplace(jobProcessFeeds, scheduler.Every(e.cfg.ProcessInterval()),
		e.processor.ProcessAll, scheduler.DefaultOptions())

	if e.notifier != nil {
		daily, err := scheduler.Cron("CRON_TZ=UTC 0 0 * * *")
		if err != nil {
			return fmt.Errorf("daily digest trigger: %w", err)
		}
		weekly, err := scheduler.Cron("CRON_TZ=UTC 0 0 * * 0")
		if err != nil {
			return fmt.Errorf("weekly digest trigger: %w", err)
		}
		e.sched.AddOrReplace(jobDailyDigest, daily, e.notifier.SendDaily, scheduler.DefaultOptions())
		e.sched.AddOrReplace(jobWeeklyDigest, weekly, e.notifier.SendWeekly, scheduler.DefaultOptions())
	} else {
		log.Warn().Msg("no SMTP host configured, digest jobs disabled")
	}

	e.sched.AddOrReplace(jobCleanupAccounts, scheduler.Every(24*time.Hour),
		e.cleanupExpiredAccounts, scheduler.DefaultOptions())

	e.sched.Start()
	log.Info().Int("jobs", len(e.sched.List())).Msg("engine started")
	return nil
}

// Shutdown stops the scheduler and closes the database. Graceful waits for
// in-flight jobs.
func (e *Engine) Shutdown(graceful bool) error {
	e.sched.Shutdown(graceful)
	return e.store.Close()
}

func (e *Engine) cleanupExpiredAccounts(ctx context.Context) error {
	deleted, err := e.store.DeleteExpiredUnverifiedUsers(time.Now().UTC())
	if err != nil {
		return err
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("expired unverified accounts removed")
	}
	return nil
}

// AddFeed registers a feed for a user and schedules its first processing
// cycle immediately.
func (e *Engine) AddFeed(userID int64, url string) (int64, error) {
	feedID, err := e.store.AddFeed(userID, url)
	if err != nil {
		return 0, err
	}
	e.sched.ScheduleOnce(fmt.Sprintf("process_feed_%d", feedID), time.Now(),
		func(ctx context.Context) error {
			return e.processor.ProcessFeed(ctx, feedID)
		})
	return feedID, nil
}

// RemoveFeed unschedules and deletes a feed. Its webhook subscription is
// released only when no other feed row shares it; unregistration is
// best-effort.
func (e *Engine) RemoveFeed(ctx context.Context, feedID int64) error {
	feed, err := e.store.GetFeed(feedID)
	if err != nil {
		return err
	}

	e.sched.Remove(fmt.Sprintf("process_feed_%d", feedID))
	e.sched.Remove(fmt.Sprintf("retry_feed_%d", feedID))

	if feed.WebhookID != nil && e.registrar != nil {
		inUse, err := e.store.WebhookIDInUse(*feed.WebhookID, feedID)
		if err != nil {
			log.Warn().Err(err).Int64("feed_id", feedID).Msg("webhook share check failed")
		} else if !inUse {
			if _, err := e.registrar.Unregister(ctx, *feed.WebhookID); err != nil {
				log.Warn().Err(err).Str("webhook_id", *feed.WebhookID).
					Msg("webhook unregister failed")
			}
		}
	}

	return e.store.DeleteFeed(feedID)
}

// ProcessFeedNow runs one processing cycle for a feed synchronously.
func (e *Engine) ProcessFeedNow(ctx context.Context, feedID int64) error {
	return e.processor.ProcessFeed(ctx, feedID)
}

// ReprocessFeed zeroes a sticky-error feed's attempt budget and schedules an
// immediate cycle.
func (e *Engine) ReprocessFeed(feedID int64) error {
	if err := e.store.ResetAttempts(feedID); err != nil {
		return err
	}
	e.sched.ScheduleOnce(fmt.Sprintf("process_feed_%d", feedID), time.Now(),
		func(ctx context.Context) error {
			return e.processor.ProcessFeed(ctx, feedID)
		})
	return nil
}

// RunCycle processes every eligible feed once. The hourly job runs this;
// the CLI process command calls it directly.
func (e *Engine) RunCycle(ctx context.Context) error {
	return e.processor.ProcessAll(ctx)
}

// SendDigest assembles and sends digests for the given frequency ("daily"
// or "weekly").
func (e *Engine) SendDigest(ctx context.Context, frequency string) error {
	if e.notifier == nil {
		return fmt.Errorf("no SMTP host configured")
	}
	switch frequency {
	case storage.FrequencyDaily:
		return e.notifier.SendDaily(ctx)
	case storage.FrequencyWeekly:
		return e.notifier.SendWeekly(ctx)
	default:
		return fmt.Errorf("unknown digest frequency %q", frequency)
	}
}

// CallbackHandler returns the HTTP handler for inbound webhook pings, for
// the daemon to mount at /api/webhook.
func (e *Engine) CallbackHandler() http.Handler {
	return webhook.NewCallbackHandler(func(feedURL string) {
		e.processor.ProcessFeedsByURL(context.Background(), feedURL)
	})
}

// Jobs returns a snapshot of the scheduled jobs.
func (e *Engine) Jobs() []Job {
	infos := e.sched.List()
	jobs := make([]Job, len(infos))
	for i, info := range infos {
		jobs[i] = Job{
			ID:      info.ID,
			Trigger: info.Description,
			NextRun: info.NextRun,
			Running: info.Running,
		}
	}
	return jobs
}

// GetFeed returns one feed with its health metrics.
func (e *Engine) GetFeed(feedID int64) (*Feed, error) {
	f, err := e.store.GetFeed(feedID)
	if err != nil {
		return nil, err
	}
	public := feedFromInternal(f)
	return &public, nil
}

// UserFeeds returns all feeds belonging to a user.
func (e *Engine) UserFeeds(userID int64) ([]Feed, error) {
	internal, err := e.store.FeedsForUser(userID)
	if err != nil {
		return nil, err
	}
	out := make([]Feed, len(internal))
	for i := range internal {
		out[i] = feedFromInternal(&internal[i])
	}
	return out, nil
}

// FeedArticles returns the stored articles of a feed, newest first.
func (e *Engine) FeedArticles(feedID int64) ([]Article, error) {
	internal, err := e.store.FeedArticles(feedID)
	if err != nil {
		return nil, err
	}
	out := make([]Article, len(internal))
	for i, a := range internal {
		out[i] = Article{
			ID:            a.ID,
			FeedID:        a.FeedID,
			Title:         a.Title,
			URL:           a.URL,
			Summary:       strValue(a.Summary),
			Critique:      strValue(a.Critique),
			Processed:     a.Processed,
			PublishedDate: a.PublishedDate,
			CreatedAt:     a.CreatedAt,
		}
	}
	return out, nil
}

func feedFromInternal(f *storage.Feed) Feed {
	return Feed{
		ID:                     f.ID,
		UserID:                 f.UserID,
		URL:                    f.URL,
		Title:                  strValue(f.Title),
		Status:                 f.Status,
		ErrorMessage:           strValue(f.ErrorMessage),
		LastChecked:            f.LastChecked,
		ProcessingAttempts:     f.ProcessingAttempts,
		SuccessCount:           f.SuccessCount,
		FailureCount:           f.FailureCount,
		LastSuccessfulProcess:  f.LastSuccessfulProcess,
		LastFailedProcess:      f.LastFailedProcess,
		TotalArticlesProcessed: f.TotalArticlesProcessed,
		AverageProcessingTime:  f.AverageProcessingTime,
		LastProcessingDuration: f.LastProcessingDuration,
		HealthScore:            f.HealthScore,
		HasWebhook:             f.WebhookID != nil,
	}
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
