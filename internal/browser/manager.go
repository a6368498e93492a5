// internal/browser/manager.go

// Package browser manages persistent, authenticated browser identities per
// platform. A session is captured once through an interactive login, stored
// encrypted, and restored into fresh headless contexts for scraping.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"github.com/user/magpie/internal/types"
)

// ChallengeError reports that a page presented a CAPTCHA, checkpoint, or
// login redirect mid-use. The caller must abort its batch and have an
// operator re-authenticate; retrying makes the platform more suspicious.
type ChallengeError struct {
	Platform  string
	URL       string
	Indicator string
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("challenge detected on %s at %s (indicator %q): re-authenticate with `magpie browser setup %s`", e.Platform, e.URL, e.Indicator, e.Platform)
}

// SetupTimeout bounds the interactive login flow. Humans need minutes for
// 2FA, so this is deliberately long.
const SetupTimeout = 5 * time.Minute

const validateTimeout = 30 * time.Second

// Manager owns browser session lifecycle for all platforms.
type Manager struct {
	store types.SessionStore
}

// NewManager creates a Manager backed by the given session store.
func NewManager(store types.SessionStore) *Manager {
	return &Manager{store: store}
}

// realistic desktop viewport sizes; one is picked per session with jitter
// so no two sessions share exact dimensions.
var baseViewports = [][2]int64{
	{1920, 1080},
	{1680, 1050},
	{1536, 864},
	{1440, 900},
	{1366, 768},
}

func randomViewport() (int64, int64) {
	base := baseViewports[rand.Intn(len(baseViewports))]
	return base[0] - int64(rand.Intn(16)), base[1] - int64(rand.Intn(16))
}

// allocatorOptions returns the chromedp flags shared by all contexts.
// The AutomationControlled blink feature is what sets navigator.webdriver;
// disabling it is the first anti-detection layer.
func allocatorOptions(headless bool) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:0:0], chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	return opts
}

// hideWebdriver masks the automation flag inside the page itself, for
// scripts that read it before our flag takes effect.
func hideWebdriver() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		script := `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
		return err
	})
}

// Setup runs the interactive login flow: it opens a visible browser at the
// platform's login page, waits for the human to finish login/2FA, and
// captures cookies, user agent, and viewport into the encrypted store.
func (m *Manager) Setup(ctx context.Context, platformName string) (*types.BrowserSession, error) {
	platform, err := LookupPlatform(platformName)
	if err != nil {
		return nil, err
	}

	width, height := randomViewport()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocatorOptions(false)...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, SetupTimeout)
	defer cancelTimeout()

	if err := chromedp.Run(browserCtx,
		hideWebdriver(),
		chromedp.EmulateViewport(width, height),
		chromedp.Navigate(platform.LoginURL),
	); err != nil {
		return nil, fmt.Errorf("open login page: %w", err)
	}

	slog.Info("waiting for interactive login", "platform", platform.Name, "timeout", SetupTimeout)
	if err := m.waitForLogin(browserCtx, platform); err != nil {
		return nil, err
	}

	var userAgent string
	var cookies []*network.Cookie
	if err := chromedp.Run(browserCtx,
		chromedp.Evaluate("navigator.userAgent", &userAgent),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = storage.GetCookies().Do(ctx)
			return err
		}),
	); err != nil {
		return nil, fmt.Errorf("capture session: %w", err)
	}

	session := &types.BrowserSession{
		Platform:        platform.Name,
		Cookies:         fromCDPCookies(cookies),
		UserAgent:       userAgent,
		ViewportWidth:   width,
		ViewportHeight:  height,
		CreatedAt:       time.Now(),
		LastValidatedAt: time.Now(),
	}
	if err := m.store.Put(ctx, session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	slog.Info("browser session captured", "platform", platform.Name, "cookies", len(session.Cookies))
	return session, nil
}

// waitForLogin polls for either the logged-in DOM indicator or the
// URL-based signal until the context (setup timeout) expires.
func (m *Manager) waitForLogin(ctx context.Context, platform Platform) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("login not completed within %s for %s", SetupTimeout, platform.Name)
		case <-ticker.C:
			var loggedIn bool
			check := fmt.Sprintf(
				`document.querySelector(%q) !== null || location.href.startsWith(%q)`,
				platform.LoggedInSelector, platform.LoggedInURLPrefix,
			)
			if err := chromedp.Run(ctx, chromedp.Evaluate(check, &loggedIn)); err != nil {
				continue // navigation in flight; poll again
			}
			if loggedIn {
				return nil
			}
		}
	}
}

// Validate re-checks the stored session headlessly against the platform's
// logged-in indicator and bumps the last-validated timestamp on success.
func (m *Manager) Validate(ctx context.Context, platformName string) (bool, error) {
	platform, err := LookupPlatform(platformName)
	if err != nil {
		return false, err
	}
	session, err := m.store.Get(ctx, platform.Name)
	if err != nil {
		return false, err
	}

	browserCtx, cancel, err := m.newSessionContext(ctx, session)
	if err != nil {
		return false, err
	}
	defer cancel()

	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, validateTimeout)
	defer cancelTimeout()

	var loggedIn bool
	check := fmt.Sprintf(`document.querySelector(%q) !== null`, platform.LoggedInSelector)
	err = chromedp.Run(browserCtx,
		chromedp.Navigate(platform.HomeURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(2*time.Second),
		chromedp.Evaluate(check, &loggedIn),
	)
	if err != nil {
		return false, fmt.Errorf("validate navigation: %w", err)
	}
	if !loggedIn {
		return false, nil
	}

	session.LastValidatedAt = time.Now()
	if err := m.store.Put(ctx, session); err != nil {
		slog.Warn("failed to persist validation timestamp", "platform", platform.Name, "error", err)
	}
	return true, nil
}

// NewContext restores the platform's session into a fresh headless
// automation context. The returned cancel func must be called when done.
// Concurrent scrapes against one platform must serialize on the returned
// context; the manager does not multiplex.
func (m *Manager) NewContext(ctx context.Context, platformName string) (context.Context, context.CancelFunc, error) {
	platform, err := LookupPlatform(platformName)
	if err != nil {
		return nil, nil, err
	}
	session, err := m.store.Get(ctx, platform.Name)
	if err != nil {
		return nil, nil, err
	}
	return m.newSessionContext(ctx, session)
}

// newSessionContext builds a headless context seeded with the session's
// cookies, user agent, and viewport.
func (m *Manager) newSessionContext(ctx context.Context, session *types.BrowserSession) (context.Context, context.CancelFunc, error) {
	opts := allocatorOptions(true)
	if session.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(session.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	cancel := func() {
		cancelBrowser()
		cancelAlloc()
	}

	width, height := session.ViewportWidth, session.ViewportHeight
	if width == 0 || height == 0 {
		width, height = randomViewport()
	}

	if err := chromedp.Run(browserCtx,
		hideWebdriver(),
		chromedp.EmulateViewport(width, height),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return storage.SetCookies(toCDPCookies(session.Cookies)).Do(ctx)
		}),
	); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("restore session context: %w", err)
	}
	return browserCtx, cancel, nil
}

// Delete removes the platform's persisted session.
func (m *Manager) Delete(ctx context.Context, platformName string) error {
	return m.store.Delete(ctx, platformName)
}

func fromCDPCookies(cookies []*network.Cookie) []types.HTTPCookie {
	out := make([]types.HTTPCookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, types.HTTPCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out
}

func toCDPCookies(cookies []types.HTTPCookie) []*network.CookieParam {
	out := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != "" {
			param.SameSite = network.CookieSameSite(c.SameSite)
		}
		if c.Expires > 0 {
			expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			param.Expires = &expires
		}
		out = append(out, param)
	}
	return out
}
