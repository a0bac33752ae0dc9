package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"

	"github.com/feedscribe/feedscribe/internal/ai"
	"github.com/feedscribe/feedscribe/internal/feeds"
	"github.com/feedscribe/feedscribe/internal/scheduler"
	"github.com/feedscribe/feedscribe/internal/storage"
)

// Fetcher downloads and parses one feed.
type Fetcher interface {
	Fetch(ctx context.Context, url, etag, lastModified string) (*feeds.Result, error)
}

// Summarizer enriches one article.
type Summarizer interface {
	Summarize(ctx context.Context, title, content string, prefs ai.Preferences) (*ai.Result, error)
}

// Registrar subscribes feed URLs with the push service.
type Registrar interface {
	Register(ctx context.Context, feedURL, callbackURL string) (string, error)
}

// RetryScheduler schedules the one-shot retry jobs.
type RetryScheduler interface {
	ScheduleOnce(id string, at time.Time, fn scheduler.JobFunc)
}

// Config tunes the processing pipeline. Zero values take the defaults.
type Config struct {
	Cooldown       time.Duration // minimum gap between cycles of one feed (default 1h)
	MaxRetries     int           // attempts before a feed goes sticky-error (default 3)
	MaxEntries     int           // entries considered per fetch (default 10)
	BaseRetryDelay time.Duration // first backoff step (default 5m)
	MaxRetryDelay  time.Duration // backoff cap (default 1h)
	FetchTimeout   time.Duration // per-feed fetch budget (default 30s)
	CallbackURL    string        // public webhook callback; empty disables registration
}

func (c Config) withDefaults() Config {
	if c.Cooldown == 0 {
		c.Cooldown = time.Hour
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = 10
	}
	if c.BaseRetryDelay == 0 {
		c.BaseRetryDelay = 5 * time.Minute
	}
	if c.MaxRetryDelay == 0 {
		c.MaxRetryDelay = time.Hour
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = 30 * time.Second
	}
	return c
}

const maxTitleLen = 200

// Processor runs the fetch, dedupe, enrich, persist cycle for feeds.
type Processor struct {
	store      *storage.Store
	fetcher    Fetcher
	summarizer Summarizer
	registrar  Registrar      // nil disables webhook registration
	retries    RetryScheduler // nil disables automatic retries
	cfg        Config

	mu   sync.Mutex
	busy map[int64]struct{}
}

// New creates a processor. registrar and retries may be nil.
func New(store *storage.Store, fetcher Fetcher, summarizer Summarizer,
	registrar Registrar, retries RetryScheduler, cfg Config) *Processor {
	return &Processor{
		store:      store,
		fetcher:    fetcher,
		summarizer: summarizer,
		registrar:  registrar,
		retries:    retries,
		cfg:        cfg.withDefaults(),
		busy:       make(map[int64]struct{}),
	}
}

// Cooldown exposes the configured cool-down window.
func (p *Processor) Cooldown() time.Duration { return p.cfg.Cooldown }

func (p *Processor) tryLock(feedID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, taken := p.busy[feedID]; taken {
		return false
	}
	p.busy[feedID] = struct{}{}
	return true
}

func (p *Processor) unlock(feedID int64) {
	p.mu.Lock()
	delete(p.busy, feedID)
	p.mu.Unlock()
}

// ProcessAll runs one cycle over every eligible feed, sequentially. Per-feed
// failures are recorded and never abort the cycle.
func (p *Processor) ProcessAll(ctx context.Context) error {
	eligible, err := p.store.EligibleFeeds(time.Now().UTC(), p.cfg.Cooldown, p.cfg.MaxRetries)
	if err != nil {
		return fmt.Errorf("select eligible feeds: %w", err)
	}

	processed, failed := 0, 0
	for i := range eligible {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.ProcessFeed(ctx, eligible[i].ID); err != nil {
			failed++
			continue
		}
		processed++
	}
	log.Info().Int("eligible", len(eligible)).Int("processed", processed).
		Int("failed", failed).Msg("processing cycle finished")
	return nil
}

// ProcessFeedsByURL processes every feed row subscribed to the given URL.
// Used by the webhook callback path; the cool-down does not apply.
func (p *Processor) ProcessFeedsByURL(ctx context.Context, feedURL string) {
	matches, err := p.store.FeedsByURL(feedURL)
	if err != nil {
		log.Error().Err(err).Str("feed_url", feedURL).Msg("webhook feed lookup failed")
		return
	}
	if len(matches) == 0 {
		log.Warn().Str("feed_url", feedURL).Msg("webhook ping for unknown feed url")
		return
	}
	for i := range matches {
		if err := p.ProcessFeed(ctx, matches[i].ID); err != nil {
			log.Error().Err(err).Int64("feed_id", matches[i].ID).Msg("webhook-triggered processing failed")
		}
	}
}

// ProcessFeed runs one full cycle for a single feed. A feed already being
// processed is skipped. Fetch failures are recorded on the feed and handed
// to the retry controller; the error is also returned for the caller's log.
func (p *Processor) ProcessFeed(ctx context.Context, feedID int64) error {
	if !p.tryLock(feedID) {
		log.Debug().Int64("feed_id", feedID).Msg("feed already being processed, skipping")
		return nil
	}
	defer p.unlock(feedID)

	feed, err := p.store.GetFeed(feedID)
	if err != nil {
		if err == storage.ErrNotFound {
			log.Warn().Int64("feed_id", feedID).Msg("feed vanished before processing")
			return nil
		}
		return fmt.Errorf("load feed %d: %w", feedID, err)
	}

	attempts, err := p.store.BeginAttempt(feedID)
	if err != nil {
		return fmt.Errorf("begin attempt for feed %d: %w", feedID, err)
	}
	start := time.Now()

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	result, err := p.fetcher.Fetch(fetchCtx, feed.URL, deref(feed.ETag), deref(feed.LastModified))
	cancel()
	if err != nil {
		p.recordFailure(feed, attempts, err)
		return err
	}

	now := time.Now().UTC()
	newArticles := 0

	if result.NotModified {
		// Nothing new upstream. Still a healthy cycle.
		if err := p.store.MarkFetched(feedID, deref(feed.Title), now, deref(feed.ETag), deref(feed.LastModified)); err != nil {
			return fmt.Errorf("mark feed %d fetched: %w", feedID, err)
		}
	} else {
		title := strings.TrimSpace(result.Feed.Title)
		if title == "" {
			title = hostOf(feed.URL)
		}
		title = truncateTitle(title)
		if err := p.store.MarkFetched(feedID, title, now, result.ETag, result.LastModified); err != nil {
			return fmt.Errorf("mark feed %d fetched: %w", feedID, err)
		}

		owner, err := p.store.GetUser(feed.UserID)
		if err != nil {
			if err == storage.ErrNotFound {
				log.Warn().Int64("feed_id", feedID).Int64("user_id", feed.UserID).
					Msg("feed owner vanished, skipping enrichment")
				return nil
			}
			return fmt.Errorf("load owner of feed %d: %w", feedID, err)
		}

		p.ensureWebhook(ctx, feed)
		newArticles = p.storeEntries(ctx, feed, owner, result.Feed.Items)
	}

	duration := time.Since(start).Seconds()
	if err := p.store.RecordSuccess(feedID, now, newArticles, duration); err != nil {
		return fmt.Errorf("record success for feed %d: %w", feedID, err)
	}
	log.Info().Int64("feed_id", feedID).Int("new_articles", newArticles).
		Float64("duration_s", duration).Bool("not_modified", result.NotModified).
		Msg("feed processed")
	return nil
}

// recordFailure persists the failed cycle and schedules the backoff retry
// while the attempt budget lasts. Past the budget the feed stays in error
// until a manual reprocess.
func (p *Processor) recordFailure(feed *storage.Feed, attempts int, cause error) {
	now := time.Now().UTC()
	if err := p.store.RecordFailure(feed.ID, cause.Error(), now); err != nil {
		log.Error().Err(err).Int64("feed_id", feed.ID).Msg("recording feed failure failed")
	}

	if attempts >= p.cfg.MaxRetries {
		log.Warn().Int64("feed_id", feed.ID).Int("attempts", attempts).
			Msg("retry budget exhausted, feed needs manual reprocess")
		return
	}
	if p.retries == nil {
		return
	}

	delay := p.RetryDelay(attempts)
	feedID := feed.ID
	p.retries.ScheduleOnce(fmt.Sprintf("retry_feed_%d", feedID), time.Now().Add(delay),
		func(ctx context.Context) error {
			return p.ProcessFeed(ctx, feedID)
		})
	log.Info().Int64("feed_id", feedID).Int("attempts", attempts).
		Dur("delay", delay).Msg("retry scheduled")
}

// RetryDelay computes the exponential backoff after the given number of
// attempts: base * 2^(attempts-1), capped.
func (p *Processor) RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := p.cfg.BaseRetryDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.cfg.MaxRetryDelay {
			return p.cfg.MaxRetryDelay
		}
	}
	if delay > p.cfg.MaxRetryDelay {
		return p.cfg.MaxRetryDelay
	}
	return delay
}

// ensureWebhook makes sure the feed has a push subscription: reuse one held
// by another row with the same URL, otherwise register a new one.
// Best-effort; failures are logged and never abort the cycle.
func (p *Processor) ensureWebhook(ctx context.Context, feed *storage.Feed) {
	if p.registrar == nil || p.cfg.CallbackURL == "" || feed.WebhookID != nil {
		return
	}

	if existing, err := p.store.WebhookIDForURL(feed.URL, feed.ID); err != nil {
		log.Warn().Err(err).Int64("feed_id", feed.ID).Msg("webhook reuse lookup failed")
	} else if existing != nil {
		if err := p.store.SetWebhookID(feed.ID, *existing); err != nil {
			log.Warn().Err(err).Int64("feed_id", feed.ID).Msg("storing reused webhook id failed")
		}
		return
	}

	id, err := p.registrar.Register(ctx, feed.URL, p.cfg.CallbackURL)
	if err != nil {
		log.Warn().Err(err).Int64("feed_id", feed.ID).Msg("webhook registration failed")
		return
	}
	if err := p.store.SetWebhookID(feed.ID, id); err != nil {
		log.Warn().Err(err).Int64("feed_id", feed.ID).Msg("storing webhook id failed")
	}
}

// storeEntries deduplicates, enriches, and persists up to MaxEntries items.
// Each entry commits on its own; a failure in one never loses the others.
// Returns the number of newly created articles.
func (p *Processor) storeEntries(ctx context.Context, feed *storage.Feed,
	owner *storage.User, items []*gofeed.Item) int {
	if len(items) > p.cfg.MaxEntries {
		items = items[:p.cfg.MaxEntries]
	}

	prefs := ai.Preferences{
		SummaryLength:   owner.SummaryLength,
		IncludeCritique: owner.IncludeCritique,
		FocusAreas:      owner.FocusAreas,
	}

	created := 0
	for _, item := range items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}

		exists, err := p.store.ArticleExists(feed.ID, link)
		if err != nil {
			log.Error().Err(err).Int64("feed_id", feed.ID).Str("url", link).
				Msg("dedupe check failed, skipping entry")
			continue
		}
		if exists {
			continue
		}

		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = link
		}

		article := &storage.Article{
			FeedID:  feed.ID,
			Title:   truncateTitle(title),
			URL:     link,
			Content: item.Description,
		}
		if item.PublishedParsed != nil {
			article.PublishedDate = item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			article.PublishedDate = item.UpdatedParsed
		}

		content := item.Content
		if content == "" {
			content = item.Description
		}

		var enrichment *ai.Result
		if p.summarizer != nil {
			enrichment, err = p.summarizer.Summarize(ctx, article.Title, content, prefs)
			if err != nil {
				// Keep the raw article; it is never retried individually.
				log.Warn().Err(err).Int64("feed_id", feed.ID).Str("url", link).
					Msg("enrichment failed, storing raw article")
				enrichment = nil
			}
		}
		if enrichment != nil {
			article.Summary = &enrichment.Summary
			if enrichment.Critique != "" {
				article.Critique = &enrichment.Critique
			}
			article.Processed = true
		}

		articleID, inserted, err := p.store.InsertArticle(article)
		if err != nil {
			log.Error().Err(err).Int64("feed_id", feed.ID).Str("url", link).
				Msg("persisting article failed")
			continue
		}
		if !inserted {
			continue
		}
		created++

		if enrichment != nil {
			p.labelArticle(articleID, enrichment)
		}
	}
	return created
}

func (p *Processor) labelArticle(articleID int64, enrichment *ai.Result) {
	for _, name := range enrichment.Tags {
		tag, err := p.store.GetOrCreateTag(name)
		if err != nil {
			log.Warn().Err(err).Str("tag", name).Msg("tag lookup failed")
			continue
		}
		if err := p.store.TagArticle(articleID, tag.ID); err != nil {
			log.Warn().Err(err).Str("tag", name).Msg("tagging article failed")
		}
	}
	for _, name := range enrichment.Categories {
		category, err := p.store.GetOrCreateCategory(name)
		if err != nil {
			log.Warn().Err(err).Str("category", name).Msg("category lookup failed")
			continue
		}
		if err := p.store.CategorizeArticle(articleID, category.ID); err != nil {
			log.Warn().Err(err).Str("category", name).Msg("categorizing article failed")
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func hostOf(feedURL string) string {
	if u, err := url.Parse(feedURL); err == nil && u.Host != "" {
		return u.Host
	}
	return feedURL
}

func truncateTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= maxTitleLen {
		return title
	}
	return string(runes[:maxTitleLen])
}
