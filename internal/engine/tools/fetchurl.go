package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/user/magpie/internal/browser"
	"github.com/user/magpie/internal/engine"
	"github.com/user/magpie/internal/router"
	"github.com/user/magpie/internal/types"
)

// Scraper renders pages through an authenticated browser session.
// *browser.Manager satisfies it.
type Scraper interface {
	Scrape(ctx context.Context, platform, url string) (*browser.ScrapeResult, error)
}

// FetchURL acquires page content, routing between plain HTTP fetch and an
// authenticated browser render. Every routing decision, initial and
// escalation, is recorded on the run's ledger with its reason.
type FetchURL struct {
	fetcher  *router.Fetcher
	browsers Scraper
}

// NewFetchURL creates the fetch_url tool. browsers may be nil when no
// browser sessions are configured; escalation then degrades to returning
// whatever the plain fetch produced.
func NewFetchURL(fetcher *router.Fetcher, browsers Scraper) *FetchURL {
	return &FetchURL{fetcher: fetcher, browsers: browsers}
}

func (f *FetchURL) Name() string { return "fetch_url" }
func (f *FetchURL) Description() string {
	return "Fetch a web page and return its text content. Automatically uses a logged-in browser for pages that need it."
}
func (f *FetchURL) StepType() types.StepType { return types.StepToolCall }

func (f *FetchURL) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The URL to fetch"}
		},
		"required": ["url"]
	}`)
}

func (f *FetchURL) Execute(ctx context.Context, call *engine.ToolCall) (string, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := call.Bind(&params); err != nil {
		return "", err
	}

	decision := router.Route(params.URL)
	call.Recorder.RecordRouting(ctx, params.URL, string(decision.Strategy), decision.Reason, false)

	if decision.Strategy == router.StrategyBrowserScrape {
		return f.scrape(ctx, params.URL)
	}

	result, err := f.fetcher.Fetch(ctx, params.URL)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", params.URL, err)
	}

	escalate, reason := router.ShouldEscalate(result)
	if !escalate {
		return result.Text, nil
	}

	call.Recorder.RecordRouting(ctx, params.URL, string(router.StrategyBrowserScrape), reason, true)
	text, err := f.scrape(ctx, params.URL)
	if err != nil {
		return escalationResult(result.Text, err)
	}
	return text, nil
}

// escalationResult decides what a failed escalation returns. A challenge
// always propagates, regardless of how much the plain fetch produced: the
// session is invalid and the batch must abort, not keep running on thin
// fetch text. Other scrape failures degrade to the fetched text when there
// is any.
func escalationResult(fetched string, scrapeErr error) (string, error) {
	var challenge *browser.ChallengeError
	if errors.As(scrapeErr, &challenge) {
		return "", scrapeErr
	}
	if fetched != "" {
		return fetched + "\n\n[browser escalation failed: " + scrapeErr.Error() + "]", nil
	}
	return "", scrapeErr
}

func (f *FetchURL) scrape(ctx context.Context, url string) (string, error) {
	if f.browsers == nil {
		return "", fmt.Errorf("no browser sessions configured")
	}
	platform, ok := browser.PlatformForURL(url)
	if !ok {
		return "", fmt.Errorf("no authenticated session covers %s", url)
	}
	result, err := f.browsers.Scrape(ctx, platform, url)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}
