package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/magpie/internal/browser"
	"github.com/user/magpie/internal/engine"
	"github.com/user/magpie/internal/types"
)

// ScrapePage renders a page in an authenticated browser session and
// returns its text. A platform challenge aborts the whole run.
type ScrapePage struct {
	browsers Scraper
}

// NewScrapePage creates the scrape_page tool.
func NewScrapePage(browsers Scraper) *ScrapePage {
	return &ScrapePage{browsers: browsers}
}

func (s *ScrapePage) Name() string { return "scrape_page" }
func (s *ScrapePage) Description() string {
	return fmt.Sprintf("Render a page in a logged-in browser session and return its text. Supported platforms: %s.",
		strings.Join(browser.PlatformNames(), ", "))
}
func (s *ScrapePage) StepType() types.StepType { return types.StepToolCall }

func (s *ScrapePage) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The URL to render"}
		},
		"required": ["url"]
	}`)
}

func (s *ScrapePage) Execute(ctx context.Context, call *engine.ToolCall) (string, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := call.Bind(&params); err != nil {
		return "", err
	}

	platform, ok := browser.PlatformForURL(params.URL)
	if !ok {
		return "", fmt.Errorf("no authenticated session covers %s", params.URL)
	}
	result, err := s.browsers.Scrape(ctx, platform, params.URL)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}
