package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/farrosalferro/fashion-recommender/internal/httpkit"
)

const duckDuckGoEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGo scrapes the DuckDuckGo HTML endpoint. It needs no API key,
// which makes it the default provider.
type DuckDuckGo struct {
	endpoint   string
	httpClient *http.Client
}

// NewDuckDuckGo creates a DuckDuckGo provider. An empty endpoint uses
// the public HTML frontend.
func NewDuckDuckGo(endpoint string) *DuckDuckGo {
	if endpoint == "" {
		endpoint = duckDuckGoEndpoint
	}
	return &DuckDuckGo{
		endpoint: endpoint,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	form := url.Values{"q": {query}}
	if opts.Language != "" {
		form.Set("kl", opts.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo: %w", &httpkit.StatusError{
			StatusCode: resp.StatusCode,
			Body:       httpkit.ReadErrorBody(resp.Body, httpkit.MaxErrorBody),
		})
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: parse: %w", err)
	}
	return parseDuckDuckGo(doc, opts.count()), nil
}

// parseDuckDuckGo walks the result page collecting div.result blocks.
// Ads are marked with the result--ad class and skipped.
func parseDuckDuckGo(doc *html.Node, limit int) []Result {
	var results []Result
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if len(results) >= limit {
			return
		}
		if n.Type == html.ElementNode && hasClass(n, "result") && !hasClass(n, "result--ad") {
			if r, ok := parseResult(n); ok {
				results = append(results, r)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results
}

func parseResult(n *html.Node) (Result, bool) {
	var r Result
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, "result__a") && r.URL == "":
				r.Title = textContent(n)
				r.URL = resolveRedirect(attr(n, "href"))
				return
			case hasClass(n, "result__snippet") && r.Snippet == "":
				r.Snippet = textContent(n)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return r, r.URL != ""
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= click-tracking links.
func resolveRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, f := range strings.Fields(attr(n, "class")) {
		if f == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
