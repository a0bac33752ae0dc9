package webhook

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

type pingPayload struct {
	FeedURL string `json:"feed_url"`
}

// NewCallbackHandler returns the handler for inbound webhook pings. The feed
// URL comes from a JSON body or a feed_url query parameter; processing is
// handed to process and the ping is acknowledged immediately with 202.
func NewCallbackHandler(process func(feedURL string)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		feedURL := r.URL.Query().Get("feed_url")
		if feedURL == "" {
			var payload pingPayload
			if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
				feedURL = payload.FeedURL
			}
		}
		if feedURL == "" {
			http.Error(w, "missing feed_url", http.StatusBadRequest)
			return
		}

		log.Info().Str("feed_url", feedURL).Msg("webhook ping received")
		go process(feedURL)
		w.WriteHeader(http.StatusAccepted)
	})
}
