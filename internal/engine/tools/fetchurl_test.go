package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/user/magpie/internal/browser"
	"github.com/user/magpie/internal/engine"
	"github.com/user/magpie/internal/router"
	"github.com/user/magpie/internal/state"
	"github.com/user/magpie/internal/types"
)

func fetchEnv(t *testing.T) (*FetchURL, *state.StepStore, *engine.ToolCall) {
	t.Helper()
	steps := state.NewStepStore(t.TempDir())
	runID := types.NewRunID()
	call := &engine.ToolCall{
		RunID:    runID,
		Recorder: engine.NewRecorder(steps, runID),
	}
	return NewFetchURL(router.NewFetcher(), nil), steps, call
}

func routingSteps(t *testing.T, steps *state.StepStore, runID types.RunID) []*types.WorkflowStep {
	t.Helper()
	all, err := steps.ListByRun(context.Background(), runID)
	if err != nil {
		t.Fatal(err)
	}
	var routing []*types.WorkflowStep
	for _, s := range all {
		if s.Type == types.StepRoutingDecision {
			routing = append(routing, s)
		}
	}
	return routing
}

func TestFetchURLSufficientContent(t *testing.T) {
	page := "<html><body><article>" + strings.Repeat("Plenty of real article text here. ", 40) + "</article></body></html>"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer server.Close()

	tool, steps, call := fetchEnv(t)
	call.Args, _ = json.Marshal(map[string]string{"url": server.URL})

	result, err := tool.Execute(context.Background(), call)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result, "Plenty of real article text") {
		t.Errorf("result = %q", result)
	}

	routing := routingSteps(t, steps, call.RunID)
	if len(routing) != 1 {
		t.Fatalf("routing steps = %d, want 1 (initial decision only)", len(routing))
	}
	var decision struct {
		Strategy   string `json:"strategy"`
		Escalation bool   `json:"escalation"`
	}
	if err := json.Unmarshal(routing[0].Output, &decision); err != nil {
		t.Fatal(err)
	}
	if decision.Strategy != string(router.StrategyURLFetch) || decision.Escalation {
		t.Errorf("decision = %+v", decision)
	}
}

func TestFetchURLEscalationRecorded(t *testing.T) {
	// A JS shell: flagged as needing a browser, with too little text.
	shell := `<html><body><div id="root"></div><script src="/app.js"></script><noscript>You need to enable JavaScript to run this app.</noscript></body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(shell))
	}))
	defer server.Close()

	tool, steps, call := fetchEnv(t)
	call.Args, _ = json.Marshal(map[string]string{"url": server.URL})

	// No browser manager configured: the escalation is recorded, then
	// degrades to the fetched text.
	result, err := tool.Execute(context.Background(), call)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result, "browser escalation failed") {
		t.Errorf("result should note the failed escalation, got %q", result)
	}

	routing := routingSteps(t, steps, call.RunID)
	if len(routing) != 2 {
		t.Fatalf("routing steps = %d, want 2 (initial + escalation)", len(routing))
	}
	var escalation struct {
		Strategy   string `json:"strategy"`
		Reason     string `json:"reason"`
		Escalation bool   `json:"escalation"`
	}
	if err := json.Unmarshal(routing[1].Output, &escalation); err != nil {
		t.Fatal(err)
	}
	if escalation.Strategy != string(router.StrategyBrowserScrape) || !escalation.Escalation {
		t.Errorf("escalation step = %+v", escalation)
	}
	if escalation.Reason == "" {
		t.Error("escalation must carry a reason")
	}
}

func TestFetchURLBrowserDomainRoutesDirectly(t *testing.T) {
	tool, steps, call := fetchEnv(t)
	call.Args, _ = json.Marshal(map[string]string{"url": "https://www.linkedin.com/in/somebody"})

	// Browser-first domain with no browser manager: the routing decision
	// is still recorded before the failure.
	if _, err := tool.Execute(context.Background(), call); err == nil {
		t.Fatal("expected error without browser sessions")
	}

	routing := routingSteps(t, steps, call.RunID)
	if len(routing) != 1 {
		t.Fatalf("routing steps = %d, want 1", len(routing))
	}
	var decision struct {
		Strategy string `json:"strategy"`
	}
	json.Unmarshal(routing[0].Output, &decision)
	if decision.Strategy != string(router.StrategyBrowserScrape) {
		t.Errorf("strategy = %s, want browser_scrape", decision.Strategy)
	}
}

// stubScraper stands in for the browser manager.
type stubScraper struct {
	text string
	err  error
}

func (s *stubScraper) Scrape(context.Context, string, string) (*browser.ScrapeResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &browser.ScrapeResult{Text: s.text}, nil
}

func TestEscalationChallengePropagates(t *testing.T) {
	challenge := &browser.ChallengeError{
		Platform:  "linkedin",
		URL:       "https://www.linkedin.com/checkpoint/1",
		Indicator: "captcha",
	}

	// Even when the plain fetch produced text, a challenge must not
	// degrade to it: the session is invalid and the batch has to abort.
	_, err := escalationResult("thin JS shell text", challenge)
	if err == nil {
		t.Fatal("challenge swallowed by the degrade branch")
	}
	var ce *browser.ChallengeError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *browser.ChallengeError", err)
	}
}

func TestEscalationNonChallengeDegrades(t *testing.T) {
	text, err := escalationResult("fetched text", errors.New("browser crashed"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "fetched text") || !strings.Contains(text, "browser escalation failed") {
		t.Errorf("degraded result = %q", text)
	}

	// Nothing to degrade to: the scrape error surfaces.
	if _, err := escalationResult("", errors.New("browser crashed")); err == nil {
		t.Error("expected error when the fetch produced no text either")
	}
}

func TestFetchURLDirectChallengePropagates(t *testing.T) {
	steps := state.NewStepStore(t.TempDir())
	runID := types.NewRunID()
	call := &engine.ToolCall{
		RunID:    runID,
		Recorder: engine.NewRecorder(steps, runID),
	}
	scraper := &stubScraper{err: &browser.ChallengeError{
		Platform:  "linkedin",
		URL:       "https://www.linkedin.com/checkpoint/1",
		Indicator: "checkpoint",
	}}
	tool := NewFetchURL(router.NewFetcher(), scraper)
	call.Args, _ = json.Marshal(map[string]string{"url": "https://www.linkedin.com/in/somebody"})

	_, err := tool.Execute(context.Background(), call)
	var ce *browser.ChallengeError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *browser.ChallengeError", err)
	}
}
