package compliance

import "strings"

// blockMarkers are lowercase fragments that identify CAPTCHA interstitials,
// bot walls and paywalls.
var blockMarkers = []string{
	"captcha",
	"recaptcha",
	"hcaptcha",
	"cf-browser-verification",
	"checking your browser",
	"just a moment...",
	"attention required! | cloudflare",
	"please enable javascript and cookies",
	"access denied",
	"are you a robot",
	"unusual traffic from your computer",
	"subscribe to continue reading",
	"subscribers only",
	"this content is for subscribers",
	"paywall",
}

// blockScanLimit caps how much of the body is scanned.
const blockScanLimit = 64 << 10

// DetectBlock returns the first block marker found in body, or "".
func DetectBlock(body string) string {
	if len(body) > blockScanLimit {
		body = body[:blockScanLimit]
	}
	lower := strings.ToLower(body)
	for _, marker := range blockMarkers {
		if strings.Contains(lower, marker) {
			return marker
		}
	}
	return ""
}
