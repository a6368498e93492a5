// internal/router/router.go

// Package router decides, per URL, between a lightweight HTTP fetch and a
// full browser render. Browser rendering is 10-100x more expensive than a
// static fetch, so escalation happens only when the cheap fetch is both
// flagged as needing a browser and insufficient, and every decision carries
// a loggable reason.
package router

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
)

// Strategy is the chosen acquisition method for a URL.
type Strategy string

const (
	StrategyURLFetch      Strategy = "url_fetch"
	StrategyBrowserScrape Strategy = "browser_scrape"
)

// Decision is a routing choice plus the reason it was made. Callers log it
// as a routing_decision step before any fetch occurs.
type Decision struct {
	Strategy Strategy `json:"strategy"`
	Reason   string   `json:"reason"`
}

// MinContentLength is the minimum extracted text length for a fetch to be
// considered sufficient. Shorter results from pages flagged as needing a
// browser indicate a JavaScript-rendered shell.
const MinContentLength = 500

const maxFetchChars = 50000

// browserDomains are hosts that never serve useful content to a plain HTTP
// client; they are routed straight to the browser.
var browserDomains = []string{
	"linkedin.com",
	"twitter.com",
	"x.com",
	"instagram.com",
	"facebook.com",
	"tiktok.com",
}

// jsAppMarkers in raw HTML hint that content is rendered client-side.
var jsAppMarkers = []string{
	"window.__INITIAL_STATE__",
	"window.__PRELOADED_STATE__",
	`id="__next"`,
	`id="root"></div>`,
	"enable JavaScript",
	"requires JavaScript",
}

// insufficiencyKeywords in extracted text mean the fetch got a wall, not
// the page.
var insufficiencyKeywords = []string{
	"enable javascript",
	"captcha",
	"access denied",
	"log in to continue",
	"sign in to view",
}

// Route makes the fast, deterministic initial decision for a URL.
func Route(rawURL string) Decision {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Decision{Strategy: StrategyURLFetch, Reason: "unparseable URL, defaulting to fetch"}
	}

	host := strings.ToLower(strings.TrimPrefix(u.Host, "www."))
	for _, domain := range browserDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return Decision{
				Strategy: StrategyBrowserScrape,
				Reason:   fmt.Sprintf("domain %s requires browser rendering", domain),
			}
		}
	}
	return Decision{Strategy: StrategyURLFetch, Reason: "static fetch sufficient for domain"}
}

// FetchResult is the outcome of a lightweight fetch.
type FetchResult struct {
	URL           string `json:"url"`
	Text          string `json:"text"`
	ContentLength int    `json:"content_length"`
	NeedsBrowser  bool   `json:"needs_browser"`
	StatusCode    int    `json:"status_code"`
}

// Fetcher performs lightweight HTTP fetches with text extraction.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// NewFetcher creates a Fetcher with a bounded request timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: "Mozilla/5.0 (compatible; Magpie/1.0)",
	}
}

// Fetch retrieves the URL, extracts readable text, and flags whether the
// page looks like it needs browser rendering.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	html := string(body)
	text := ExtractText(html)
	if len(text) > maxFetchChars {
		text = text[:maxFetchChars] + "\n\n[Content truncated]"
	}

	result := &FetchResult{
		URL:           rawURL,
		Text:          text,
		ContentLength: len(text),
		StatusCode:    resp.StatusCode,
	}
	result.NeedsBrowser = needsBrowser(html, resp.StatusCode)
	return result, nil
}

// ExtractText converts HTML to markdown-ish readable text, falling back to
// a goquery text dump when conversion fails.
func ExtractText(html string) string {
	md, err := htmltomarkdown.ConvertString(html)
	if err == nil && strings.TrimSpace(md) != "" {
		return strings.TrimSpace(md)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript").Remove()
	return strings.TrimSpace(doc.Text())
}

// needsBrowser inspects the raw HTML and status for client-side-render hints.
func needsBrowser(html string, statusCode int) bool {
	if statusCode == http.StatusForbidden || statusCode == http.StatusTooManyRequests {
		return true
	}
	for _, marker := range jsAppMarkers {
		if strings.Contains(html, marker) {
			return true
		}
	}
	return false
}

// ShouldEscalate applies the escalation policy: escalate only when the
// fetch was flagged as needing a browser AND its content fails the
// minimum-sufficiency check. Returns the reason when escalation is due.
func ShouldEscalate(result *FetchResult) (bool, string) {
	if result == nil {
		return false, ""
	}
	if !result.NeedsBrowser {
		return false, ""
	}

	trimmed := strings.TrimSpace(result.Text)
	if len(trimmed) < MinContentLength {
		return true, fmt.Sprintf("content length %d below minimum %d and page flagged as browser-rendered", len(trimmed), MinContentLength)
	}

	lower := strings.ToLower(trimmed)
	for _, kw := range insufficiencyKeywords {
		if strings.Contains(lower, kw) {
			return true, fmt.Sprintf("content contains blocker keyword %q", kw)
		}
	}
	return false, ""
}
