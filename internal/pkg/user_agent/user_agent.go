package user_agent

import (
	"embed"
	"fmt"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// Fallback classes when no pattern matches.
const (
	DeviceDesktop = "desktop"
	BrowserOther  = "other"
)

type UserAgent struct {
	UserAgent string
	Device    string
	Browser   string
}

//go:embed database/patterns.yml
var databaseFiles embed.FS

// PatternEntry maps a regex to the class it assigns.
type PatternEntry struct {
	Class string `yaml:"class"`
	Regex string `yaml:"regex"`
}

type patternFile struct {
	Devices  []PatternEntry `yaml:"devices"`
	Browsers []PatternEntry `yaml:"browsers"`
}

type compiledEntry struct {
	class string
	regex *pcre.Regexp
}

// Classifier walks ordered pattern lists; the first match wins.
type Classifier struct {
	devices  []compiledEntry
	browsers []compiledEntry
}

var (
	classifier *Classifier
	loadErr    error
	once       sync.Once
)

// NewClassifier compiles the given ordered lists.
func NewClassifier(devices, browsers []PatternEntry) (*Classifier, error) {
	c := &Classifier{}
	var err error
	if c.devices, err = compile(devices); err != nil {
		return nil, fmt.Errorf("device patterns: %w", err)
	}
	if c.browsers, err = compile(browsers); err != nil {
		return nil, fmt.Errorf("browser patterns: %w", err)
	}
	return c, nil
}

func compile(entries []PatternEntry) ([]compiledEntry, error) {
	out := make([]compiledEntry, 0, len(entries))
	for _, e := range entries {
		re, err := pcre.Compile("(?i)" + e.Regex)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", e.Regex, err)
		}
		out = append(out, compiledEntry{class: e.Class, regex: re})
	}
	return out, nil
}

func getClassifier() *Classifier {
	once.Do(func() {
		data, err := databaseFiles.ReadFile("database/patterns.yml")
		if err != nil {
			loadErr = err
			return
		}
		var pf patternFile
		if err := yaml.Unmarshal(data, &pf); err != nil {
			loadErr = fmt.Errorf("parse patterns.yml: %w", err)
			return
		}
		classifier, loadErr = NewClassifier(pf.Devices, pf.Browsers)
	})
	if loadErr != nil {
		panic(fmt.Sprintf("user_agent: embedded patterns unusable: %v", loadErr))
	}
	return classifier
}

func firstMatch(entries []compiledEntry, ua, fallback string) string {
	if ua == "" {
		return fallback
	}
	for _, e := range entries {
		if e.regex.MatchString(ua) {
			return e.class
		}
	}
	return fallback
}

// Device returns mobile, tablet or desktop.
func (c *Classifier) Device(ua string) string {
	return firstMatch(c.devices, ua, DeviceDesktop)
}

// Browser returns chrome, firefox, safari, edge or other.
func (c *Classifier) Browser(ua string) string {
	return firstMatch(c.browsers, ua, BrowserOther)
}

// DeviceClass classifies ua with the embedded priority list.
func DeviceClass(ua string) string {
	return getClassifier().Device(ua)
}

// BrowserClass classifies ua with the embedded priority list.
func BrowserClass(ua string) string {
	return getClassifier().Browser(ua)
}

// ParseUserAgent returns both classes for ua.
func ParseUserAgent(ua string) UserAgent {
	c := getClassifier()
	return UserAgent{
		UserAgent: ua,
		Device:    c.Device(ua),
		Browser:   c.Browser(ua),
	}
}
