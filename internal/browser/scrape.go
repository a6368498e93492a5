// internal/browser/scrape.go
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/user/magpie/internal/router"
)

const navigationTimeout = 45 * time.Second

// ScrapeResult is the outcome of a full browser render.
type ScrapeResult struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// Scrape renders the URL inside the platform's authenticated context and
// returns extracted text. A challenge page (CAPTCHA, checkpoint, login
// redirect) returns a *ChallengeError; the caller must abort its batch.
func (m *Manager) Scrape(ctx context.Context, platformName, url string) (*ScrapeResult, error) {
	browserCtx, cancel, err := m.NewContext(ctx, platformName)
	if err != nil {
		return nil, err
	}
	defer cancel()

	return scrapeInContext(browserCtx, platformName, url)
}

// ScrapeAll renders several URLs through one shared context, serializing
// same-platform navigation as the session manager requires. It stops at
// the first challenge.
func (m *Manager) ScrapeAll(ctx context.Context, platformName string, urls []string) ([]*ScrapeResult, error) {
	browserCtx, cancel, err := m.NewContext(ctx, platformName)
	if err != nil {
		return nil, err
	}
	defer cancel()

	results := make([]*ScrapeResult, 0, len(urls))
	for _, url := range urls {
		result, err := scrapeInContext(browserCtx, platformName, url)
		if err != nil {
			// A challenge invalidates the whole batch, not just this URL.
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func scrapeInContext(browserCtx context.Context, platformName, url string) (*ScrapeResult, error) {
	navCtx, cancelNav := context.WithTimeout(browserCtx, navigationTimeout)
	defer cancelNav()

	var html, currentURL string
	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(2*time.Second),
		chromedp.Location(&currentURL),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return nil, fmt.Errorf("browser navigation for %s: %w", url, err)
	}

	text := router.ExtractText(html)
	if indicator, challenged := DetectChallenge(currentURL, text); challenged {
		return nil, &ChallengeError{Platform: platformName, URL: currentURL, Indicator: indicator}
	}

	return &ScrapeResult{URL: url, Text: text}, nil
}
