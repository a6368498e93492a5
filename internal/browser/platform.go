// internal/browser/platform.go
package browser

import (
	"fmt"
	"net/url"
	"strings"
)

// Platform describes how to set up and validate a session for one site:
// where to send the human for login, and what signals a logged-in state.
type Platform struct {
	Name string
	// LoginURL is where Setup navigates for the interactive login.
	LoginURL string
	// HomeURL is used by Validate and as the post-login landing check.
	HomeURL string
	// LoggedInSelector is a DOM element that only exists when logged in.
	LoggedInSelector string
	// LoggedInURLPrefix is the URL-based logged-in signal; reaching a URL
	// with this prefix after login also counts as success.
	LoggedInURLPrefix string
}

var platforms = map[string]Platform{
	"linkedin": {
		Name:              "linkedin",
		LoginURL:          "https://www.linkedin.com/login",
		HomeURL:           "https://www.linkedin.com/feed/",
		LoggedInSelector:  `.global-nav__me`,
		LoggedInURLPrefix: "https://www.linkedin.com/feed",
	},
	"x": {
		Name:              "x",
		LoginURL:          "https://x.com/i/flow/login",
		HomeURL:           "https://x.com/home",
		LoggedInSelector:  `[data-testid="SideNav_AccountSwitcher_Button"]`,
		LoggedInURLPrefix: "https://x.com/home",
	},
	"instagram": {
		Name:              "instagram",
		LoginURL:          "https://www.instagram.com/accounts/login/",
		HomeURL:           "https://www.instagram.com/",
		LoggedInSelector:  `svg[aria-label="Home"]`,
		LoggedInURLPrefix: "https://www.instagram.com/",
	},
}

// LookupPlatform returns the platform definition for a name.
func LookupPlatform(name string) (Platform, error) {
	p, ok := platforms[strings.ToLower(name)]
	if !ok {
		return Platform{}, fmt.Errorf("unknown platform: %s", name)
	}
	return p, nil
}

// platformHosts maps registrable domains to platform names.
var platformHosts = map[string]string{
	"linkedin.com":  "linkedin",
	"x.com":         "x",
	"twitter.com":   "x",
	"instagram.com": "instagram",
}

// PlatformForURL maps a URL's host to a known platform name, so callers
// can pick the right authenticated session for it.
func PlatformForURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	for domain, name := range platformHosts {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return name, true
		}
	}
	return "", false
}

// PlatformNames returns the supported platform names.
func PlatformNames() []string {
	names := make([]string, 0, len(platforms))
	for name := range platforms {
		names = append(names, name)
	}
	return names
}

// challengeMarkers in a page URL or body mean the platform is challenging
// the session (CAPTCHA, checkpoint, forced re-login). Scrapes must abort,
// not retry.
var challengeMarkers = []string{
	"captcha",
	"checkpoint",
	"challenge",
	"verify your identity",
	"unusual activity",
	"/login",
	"/authwall",
}

// DetectChallenge scans a page URL and body text for challenge indicators
// and returns the matched marker, if any.
func DetectChallenge(pageURL, bodyText string) (string, bool) {
	lowerURL := strings.ToLower(pageURL)
	lowerBody := strings.ToLower(bodyText)
	for _, marker := range challengeMarkers {
		if strings.Contains(lowerURL, marker) {
			return marker, true
		}
	}
	for _, marker := range challengeMarkers {
		if strings.HasPrefix(marker, "/") {
			continue // URL-only markers
		}
		if strings.Contains(lowerBody, marker) {
			return marker, true
		}
	}
	return "", false
}
