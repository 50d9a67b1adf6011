// Package skills queries an external skills catalog for reference
// material matching a project. Best-effort by contract: every failure
// path returns an empty list, never an error that could fail a phase.
package skills

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/samber/lo"
	"golang.org/x/net/html"
)

// Skill is one catalog entry.
type Skill struct {
	Title   string `json:"title"`
	Href    string `json:"href"`
	Content string `json:"content,omitempty"`
}

// Client searches the catalog. A zero-URL client returns empty results.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	logger       *slog.Logger
	fetchContent bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithContent enables fetching readable content for each result.
func WithContent(enabled bool) Option {
	return func(c *Client) { c.fetchContent = enabled }
}

// NewClient creates a skills adapter against the catalog base URL.
func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FindForContext searches the catalog for the given keywords and returns
// up to limit entries. Failures are logged and yield an empty list.
func (c *Client) FindForContext(ctx context.Context, keywords []string, limit int) []Skill {
	if c.baseURL == "" || len(keywords) == 0 {
		return nil
	}

	query := strings.Join(lo.Uniq(keywords), " ")
	searchURL := fmt.Sprintf("%s/search?q=%s", c.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Skills search failed", "query", query, "error", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Skills search failed", "query", query, "status", resp.StatusCode)
		return nil
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		c.logger.Warn("Skills page parse failed", "query", query, "error", err)
		return nil
	}

	results := extractLinks(doc, c.baseURL)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	if c.fetchContent {
		for i := range results {
			results[i].Content = c.readableContent(ctx, results[i].Href)
		}
	}
	return results
}

// extractLinks walks the parsed page and collects anchors as skills,
// resolving relative hrefs against the catalog base and deduplicating
// by href.
func extractLinks(doc *html.Node, base string) []Skill {
	var out []Skill
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			var href string
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					href = attr.Val
					break
				}
			}
			title := strings.TrimSpace(nodeText(n))
			if href != "" && title != "" && !strings.HasPrefix(href, "#") {
				if strings.HasPrefix(href, "/") {
					href = base + href
				}
				out = append(out, Skill{Title: title, Href: href})
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return lo.UniqBy(out, func(s Skill) string { return s.Href })
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		b.WriteString(nodeText(child))
	}
	return b.String()
}

// readableContent fetches a skill page and extracts its readable text,
// capped to keep prompts small. Empty on any failure.
func (c *Client) readableContent(ctx context.Context, href string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return ""
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(article.TextContent)
	if len(text) > 2000 {
		text = text[:2000]
	}
	return text
}

// Keywords derives up to max search keywords from stack values, top
// features, and the raw description.
func Keywords(stackValues, features []string, description string, max int) []string {
	var out []string
	for _, v := range stackValues {
		if v = strings.TrimSpace(strings.ToLower(v)); v != "" {
			out = append(out, v)
		}
	}
	for _, f := range features {
		if len(out) >= max {
			break
		}
		if words := strings.Fields(strings.ToLower(f)); len(words) > 0 {
			out = append(out, words[0])
		}
	}
	if len(out) < max {
		for _, w := range strings.Fields(strings.ToLower(description)) {
			if len(w) >= 5 {
				out = append(out, w)
			}
			if len(out) >= max {
				break
			}
		}
	}
	out = lo.Uniq(out)
	if len(out) > max {
		out = out[:max]
	}
	return out
}
