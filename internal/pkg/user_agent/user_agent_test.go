package user_agent_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/pkg/user_agent"
)

func TestParseUserAgent(t *testing.T) {
	testCases := []struct {
		name            string
		userAgent       string
		expectedDevice  string
		expectedBrowser string
	}{
		{
			name:            "Chrome on Windows",
			userAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
			expectedDevice:  "desktop",
			expectedBrowser: "chrome",
		},
		{
			name:            "Safari on iPhone",
			userAgent:       "Mozilla/5.0 (iPhone; CPU iPhone OS 14_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0 Mobile/15E148 Safari/604.1",
			expectedDevice:  "mobile",
			expectedBrowser: "safari",
		},
		{
			name:            "Chrome on Android",
			userAgent:       "Mozilla/5.0 (Linux; Android 11; SM-G998B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.120 Mobile Safari/537.36",
			expectedDevice:  "mobile",
			expectedBrowser: "chrome",
		},
		{
			name:            "Firefox on Android",
			userAgent:       "Mozilla/5.0 (Android 11; Mobile; rv:68.0) Gecko/68.0 Firefox/89.0",
			expectedDevice:  "mobile",
			expectedBrowser: "firefox",
		},
		{
			name:            "Firefox on macOS",
			userAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:89.0) Gecko/20100101 Firefox/89.0",
			expectedDevice:  "desktop",
			expectedBrowser: "firefox",
		},
		{
			name:            "Kindle Silk is a tablet",
			userAgent:       "Mozilla/5.0 (Linux; U; en-us; KFAPWI Build/JDQ39) AppleWebKit/535.19 (KHTML, like Gecko) Silk/3.13 Safari/535.19 Silk-Accelerated=true",
			expectedDevice:  "tablet",
			expectedBrowser: "safari",
		},
		{
			name:            "iPad advertising Mobile is classified mobile first",
			userAgent:       "Mozilla/5.0 (iPad; CPU OS 14_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.1 Mobile/15E148 Safari/604.1",
			expectedDevice:  "mobile",
			expectedBrowser: "safari",
		},
		{
			name:            "Chromium Edge matches Chrome first",
			userAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36 Edg/91.0.864.59",
			expectedDevice:  "desktop",
			expectedBrowser: "chrome",
		},
		{
			name:            "bare Edge token",
			userAgent:       "Mozilla/5.0 (Windows NT 10.0) Edge/18.19582",
			expectedDevice:  "desktop",
			expectedBrowser: "edge",
		},
		{
			name:            "command line client",
			userAgent:       "curl/8.4.0",
			expectedDevice:  "desktop",
			expectedBrowser: "other",
		},
		{
			name:            "empty",
			userAgent:       "",
			expectedDevice:  "desktop",
			expectedBrowser: "other",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ua := user_agent.ParseUserAgent(tc.userAgent)
			assert.Equal(t, tc.expectedDevice, ua.Device)
			assert.Equal(t, tc.expectedBrowser, ua.Browser)
			assert.Equal(t, tc.expectedDevice, user_agent.DeviceClass(tc.userAgent))
			assert.Equal(t, tc.expectedBrowser, user_agent.BrowserClass(tc.userAgent))
		})
	}
}

func TestClassifierOrderDecides(t *testing.T) {
	ua := "Mozilla/5.0 (iPad; Mobile)"

	tabletFirst, err := user_agent.NewClassifier([]user_agent.PatternEntry{
		{Class: "tablet", Regex: "iPad"},
		{Class: "mobile", Regex: "Mobile"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "tablet", tabletFirst.Device(ua))

	mobileFirst, err := user_agent.NewClassifier([]user_agent.PatternEntry{
		{Class: "mobile", Regex: "Mobile"},
		{Class: "tablet", Regex: "iPad"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "mobile", mobileFirst.Device(ua))
	assert.Equal(t, user_agent.BrowserOther, mobileFirst.Browser(ua))
}

func TestNewClassifierRejectsBadPattern(t *testing.T) {
	_, err := user_agent.NewClassifier([]user_agent.PatternEntry{{Class: "x", Regex: "("}}, nil)
	assert.Error(t, err)
}
