package capabilities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenonhq/xenon/internal/config"
)

func TestParseAlwaysMatchOnly(t *testing.T) {
	body := []byte(`{"capabilities":{"alwaysMatch":{"browserName":"chrome"}}}`)
	got, err := Parse(body)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "chrome", got[0].BrowserName)
}

func TestParseFirstMatchCombinations(t *testing.T) {
	body := []byte(`{
		"capabilities": {
			"alwaysMatch": {"platformName": "linux"},
			"firstMatch": [
				{"browserName": "firefox"},
				{"browserName": "chrome", "browserVersion": "120"}
			]
		}
	}`)
	got, err := Parse(body)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Candidate{BrowserName: "firefox", PlatformName: "linux"}, got[0])
	assert.Equal(t, Candidate{BrowserName: "chrome", BrowserVersion: "120", PlatformName: "linux"}, got[1])
}

func TestParseLegacyDesiredCapabilities(t *testing.T) {
	body := []byte(`{"desiredCapabilities":{"browserName":"chrome"}}`)
	got, err := Parse(body)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "chrome", got[0].BrowserName)
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestMatchesNameCaseInsensitive(t *testing.T) {
	b := config.BrowserConfig{Name: "Chrome"}
	assert.True(t, Matches(b, Candidate{BrowserName: "chrome"}))
}

func TestMatchesRejectsWrongName(t *testing.T) {
	b := config.BrowserConfig{Name: "chrome"}
	assert.False(t, Matches(b, Candidate{BrowserName: "firefox"}))
}

func TestMatchesVersionRules(t *testing.T) {
	b := config.BrowserConfig{Name: "chrome", Version: "120"}
	assert.True(t, Matches(b, Candidate{BrowserName: "chrome", BrowserVersion: "120"}))
	assert.False(t, Matches(b, Candidate{BrowserName: "chrome", BrowserVersion: "121"}))
	assert.True(t, Matches(b, Candidate{BrowserName: "chrome"}))

	unversioned := config.BrowserConfig{Name: "chrome"}
	assert.False(t, Matches(unversioned, Candidate{BrowserName: "chrome", BrowserVersion: "120"}))
}

func TestMatchesPlatformRules(t *testing.T) {
	b := config.BrowserConfig{Name: "chrome", OS: "linux"}
	assert.True(t, Matches(b, Candidate{BrowserName: "chrome", PlatformName: "linux"}))
	assert.False(t, Matches(b, Candidate{BrowserName: "chrome", PlatformName: "windows"}))
	assert.True(t, Matches(b, Candidate{BrowserName: "chrome", PlatformName: "any"}))

	unspecified := config.BrowserConfig{Name: "chrome"}
	assert.False(t, Matches(unspecified, Candidate{BrowserName: "chrome", PlatformName: "linux"}))
	assert.True(t, Matches(unspecified, Candidate{BrowserName: "chrome", PlatformName: "any"}))
}
