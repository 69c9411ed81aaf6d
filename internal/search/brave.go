package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/farrosalferro/fashion-recommender/internal/httpkit"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave implements the Provider interface for the Brave Search API.
type Brave struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewBrave creates a Brave Search provider.
func NewBrave(apiKey string) *Brave {
	return &Brave{
		apiKey:   apiKey,
		endpoint: braveEndpoint,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

func (b *Brave) Name() string { return "brave" }

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (b *Brave) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	params := url.Values{
		"q":     {query},
		"count": {strconv.Itoa(opts.count())},
	}
	if opts.Language != "" {
		params.Set("search_lang", opts.Language)
	}

	var br braveResponse
	headers := map[string]string{"X-Subscription-Token": b.apiKey}
	if err := httpkit.DoJSON(ctx, b.httpClient, http.MethodGet, b.endpoint+"?"+params.Encode(), headers, nil, &br); err != nil {
		return nil, fmt.Errorf("brave: %w", err)
	}

	results := make([]Result, 0, len(br.Web.Results))
	for _, r := range br.Web.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return results, nil
}
