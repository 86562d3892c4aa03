// Package capabilities parses the W3C "New Session" capabilities object
// and matches its candidates against configured browsers, grounded on
// original_source/src/browser.rs's Capabilities/BrowserConfig types.
package capabilities

import (
	"encoding/json"
	"strings"

	"github.com/xenonhq/xenon/internal/config"
)

// Candidate is one {browserName, browserVersion?, platformName?} tuple
// produced by merging alwaysMatch with one firstMatch entry (or, if there
// is no firstMatch, alwaysMatch alone).
type Candidate struct {
	BrowserName    string
	BrowserVersion string
	PlatformName   string
}

type newSessionRequest struct {
	Capabilities struct {
		AlwaysMatch map[string]interface{}   `json:"alwaysMatch"`
		FirstMatch  []map[string]interface{} `json:"firstMatch"`
	} `json:"capabilities"`
	// DesiredCapabilities is the legacy (pre-W3C) shape, still sent by some
	// clients; honored as a single implicit alwaysMatch candidate if the
	// W3C "capabilities" object carries neither alwaysMatch nor firstMatch.
	DesiredCapabilities map[string]interface{} `json:"desiredCapabilities"`
}

// Parse extracts the ordered list of match candidates from a raw
// "New Session" request body.
func Parse(body []byte) ([]Candidate, error) {
	var req newSessionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	always := req.Capabilities.AlwaysMatch
	firstMatches := req.Capabilities.FirstMatch

	if always == nil && len(firstMatches) == 0 {
		if req.DesiredCapabilities != nil {
			return []Candidate{toCandidate(req.DesiredCapabilities)}, nil
		}
		return nil, nil
	}

	if len(firstMatches) == 0 {
		return []Candidate{toCandidate(always)}, nil
	}

	candidates := make([]Candidate, 0, len(firstMatches))
	for _, fm := range firstMatches {
		merged := make(map[string]interface{}, len(always)+len(fm))
		for k, v := range always {
			merged[k] = v
		}
		for k, v := range fm {
			merged[k] = v
		}
		candidates = append(candidates, toCandidate(merged))
	}
	return candidates, nil
}

func toCandidate(m map[string]interface{}) Candidate {
	var c Candidate
	if v, ok := m["browserName"].(string); ok {
		c.BrowserName = v
	}
	if v, ok := m["browserVersion"].(string); ok {
		c.BrowserVersion = v
	}
	if v, ok := m["platformName"].(string); ok {
		c.PlatformName = v
	}
	return c
}

// Matches reports whether a configured browser can serve a candidate's
// desired capabilities, following original_source/src/browser.rs's
// matches_capabilities rules:
//  1. Browser name must match (case-insensitively).
//  2. If a version/platform is requested, it only matches when the
//     configured browser specifies the identical value.
//  3. If the configured browser doesn't specify a version/platform, it
//     only matches when the candidate doesn't require one (platform
//     "any" is treated as unrequired).
func Matches(b config.BrowserConfig, c Candidate) bool {
	return matches(b.Name, b.Version, b.OS, c)
}

// MatchesSummary applies the same matching rules against a remote node's
// catalog entry (name/version/os as reported by GET /node/config), so a
// NodeRegistry can reuse the identical negotiation logic as the local
// fleet manager.
func MatchesSummary(name, version, os string, c Candidate) bool {
	return matches(name, version, os, c)
}

func matches(name, version, os string, c Candidate) bool {
	if !strings.EqualFold(name, c.BrowserName) {
		return false
	}

	if c.BrowserVersion != "" {
		if version == "" || version != c.BrowserVersion {
			return false
		}
	}

	if c.PlatformName != "" && !strings.EqualFold(c.PlatformName, "any") {
		if os == "" || !strings.EqualFold(os, c.PlatformName) {
			return false
		}
	}

	return true
}
