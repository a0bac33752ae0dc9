package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/feedscribe/feedscribe"
)

type Format string

const (
	FormatJSON  Format = "json"
	FormatText  Format = "text"
	FormatHuman Format = "human"
)

// Formatter renders CLI output in the selected format. JSON and text are
// machine-friendly; human is for terminals.
type Formatter struct {
	format Format
	out    io.Writer
	err    io.Writer
}

// NewFormatter creates a formatter writing to stdout/stderr.
func NewFormatter(format Format) *Formatter {
	return &Formatter{
		format: format,
		out:    os.Stdout,
		err:    os.Stderr,
	}
}

// NewFormatterWithWriters creates a formatter with custom writers for
// testability.
func NewFormatterWithWriters(format Format, out, errW io.Writer) *Formatter {
	return &Formatter{
		format: format,
		out:    out,
		err:    errW,
	}
}

// OutputFeeds renders a user's feeds with their health metrics.
func (f *Formatter) OutputFeeds(feeds []feedscribe.Feed) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(feeds)
	case FormatText:
		for _, fd := range feeds {
			fmt.Fprintf(f.out, "id=%d\tstatus=%s\thealth=%.1f\tok=%d\tfail=%d\tattempts=%d\turl=%s\n",
				fd.ID, fd.Status, fd.HealthScore, fd.SuccessCount, fd.FailureCount,
				fd.ProcessingAttempts, fd.URL)
		}
		return nil
	case FormatHuman:
		if len(feeds) == 0 {
			fmt.Fprintln(f.out, "No feeds")
			return nil
		}
		for _, fd := range feeds {
			title := fd.Title
			if title == "" {
				title = fd.URL
			}
			fmt.Fprintf(f.out, "%4d  %-8s  health %5.1f  ok %d / fail %d  %s\n",
				fd.ID, fd.Status, fd.HealthScore, fd.SuccessCount, fd.FailureCount, title)
			if fd.ErrorMessage != "" {
				fmt.Fprintf(f.out, "      error: %s\n", fd.ErrorMessage)
			}
			if fd.LastChecked != nil {
				fmt.Fprintf(f.out, "      last checked: %s\n", fd.LastChecked.Format("2006-01-02 15:04"))
			}
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputArticles renders a feed's stored articles.
func (f *Formatter) OutputArticles(articles []feedscribe.Article) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(articles)
	case FormatText:
		for _, a := range articles {
			fmt.Fprintf(f.out, "id=%d\tprocessed=%t\ttitle=%s\turl=%s\tpublished=%s\n",
				a.ID, a.Processed, a.Title, a.URL, formatTime(a.PublishedDate))
		}
		return nil
	case FormatHuman:
		if len(articles) == 0 {
			fmt.Fprintln(f.out, "No articles")
			return nil
		}
		for _, a := range articles {
			marker := " "
			if a.Processed {
				marker = "*"
			}
			fmt.Fprintf(f.out, "%s %s\n  %s\n", marker, a.Title, a.URL)
			if a.Summary != "" {
				fmt.Fprintf(f.out, "  %s\n", truncate(a.Summary, 300))
			}
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// Error writes an error message to stderr.
func (f *Formatter) Error(format string, args ...interface{}) {
	fmt.Fprintf(f.err, format+"\n", args...)
}

// Warning writes a warning message to stderr.
func (f *Formatter) Warning(format string, args ...interface{}) {
	fmt.Fprintf(f.err, "Warning: "+format+"\n", args...)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
