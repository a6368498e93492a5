// internal/browser/platform_test.go
package browser

import (
	"errors"
	"testing"
)

func TestLookupPlatform(t *testing.T) {
	p, err := LookupPlatform("LinkedIn")
	if err != nil {
		t.Fatal(err)
	}
	if p.LoginURL == "" || p.LoggedInSelector == "" {
		t.Errorf("incomplete platform definition: %+v", p)
	}

	if _, err := LookupPlatform("myspace"); err == nil {
		t.Error("expected error for unknown platform")
	}
}

func TestDetectChallenge(t *testing.T) {
	tests := []struct {
		name string
		url  string
		body string
		want bool
	}{
		{"captcha in body", "https://x.com/home", "please solve this CAPTCHA to continue", true},
		{"checkpoint URL", "https://www.linkedin.com/checkpoint/challenge/abc", "some page", true},
		{"login redirect", "https://www.linkedin.com/login?session_redirect=x", "sign in", true},
		{"authwall", "https://www.linkedin.com/authwall?trk=x", "join now", true},
		{"clean page", "https://www.linkedin.com/in/somebody", "profile of somebody with experience and education", false},
	}
	for _, tt := range tests {
		indicator, got := DetectChallenge(tt.url, tt.body)
		if got != tt.want {
			t.Errorf("%s: DetectChallenge = %v, want %v", tt.name, got, tt.want)
		}
		if got && indicator == "" {
			t.Errorf("%s: expected a non-empty indicator", tt.name)
		}
	}
}

func TestChallengeErrorMessage(t *testing.T) {
	err := &ChallengeError{Platform: "linkedin", URL: "https://www.linkedin.com/checkpoint/1", Indicator: "checkpoint"}
	var challenge *ChallengeError
	if !errors.As(error(err), &challenge) {
		t.Fatal("errors.As should match *ChallengeError")
	}
	if challenge.Platform != "linkedin" {
		t.Errorf("unexpected platform %s", challenge.Platform)
	}
}

func TestRandomViewportIsRealistic(t *testing.T) {
	for i := 0; i < 20; i++ {
		w, h := randomViewport()
		if w < 1300 || w > 1920 || h < 700 || h > 1080 {
			t.Fatalf("viewport %dx%d outside realistic desktop range", w, h)
		}
	}
}
