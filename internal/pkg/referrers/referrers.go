package referrers

import (
	"net/url"
	"strings"
)

// Direct is the label for visits without a referrer.
const Direct = "Direct"

// Referrer hostnames mapped to display names, weighted towards the places
// couples and planners find venues.
var knownReferrers = map[string]string{
	// Search and maps
	"google.com":       "Google",
	"google.co.uk":     "Google",
	"google.ca":        "Google",
	"google.com.au":    "Google",
	"maps.google.com":  "Google Maps",
	"maps.app.goo.gl":  "Google Maps",
	"bing.com":         "Bing",
	"duckduckgo.com":   "DuckDuckGo",
	"yahoo.com":        "Yahoo",
	"ecosia.org":       "Ecosia",
	"search.brave.com": "Brave Search",

	// Wedding and event directories
	"theknot.com":           "The Knot",
	"weddingwire.com":       "WeddingWire",
	"zola.com":              "Zola",
	"herecomestheguide.com": "Here Comes The Guide",
	"weddingspot.com":       "Wedding Spot",
	"peerspace.com":         "Peerspace",
	"eventective.com":       "Eventective",
	"giggster.com":          "Giggster",
	"tagvenue.com":          "Tagvenue",
	"hitched.co.uk":         "Hitched",
	"junebugweddings.com":   "Junebug Weddings",
	"stylemepretty.com":     "Style Me Pretty",
	"brides.com":            "Brides",
	"marthastewart.com":     "Martha Stewart Weddings",

	// Reviews
	"yelp.com":        "Yelp",
	"tripadvisor.com": "Tripadvisor",

	// Social media
	"facebook.com":    "Facebook",
	"fb.com":          "Facebook",
	"l.facebook.com":  "Facebook",
	"lm.facebook.com": "Facebook",
	"instagram.com":   "Instagram",
	"l.instagram.com": "Instagram",
	"pinterest.com":   "Pinterest",
	"pin.it":          "Pinterest",
	"tiktok.com":      "TikTok",
	"youtube.com":     "YouTube",
	"youtu.be":        "YouTube",
	"x.com":           "X/Twitter",
	"twitter.com":     "X/Twitter",
	"t.co":            "X/Twitter",
	"linkedin.com":    "LinkedIn",
	"lnkd.in":         "LinkedIn",
	"reddit.com":      "Reddit",
	"nextdoor.com":    "Nextdoor",
	"threads.net":     "Threads",

	// Email (newsletter and vendor emails)
	"mail.google.com":    "Gmail",
	"outlook.live.com":   "Outlook",
	"outlook.office.com": "Outlook",
	"mail.yahoo.com":     "Yahoo Mail",

	// Link shorteners
	"bit.ly":      "Bitly",
	"tinyurl.com": "TinyURL",
	"linktr.ee":   "Linktree",
}

// FriendlyName returns a human-friendly name for a referrer hostname.
// The most specific known domain wins: "mail.google.com" is Gmail while
// "news.google.com" falls back to Google. Unknown hosts are returned with
// "www." removed and the first letter capitalized.
func FriendlyName(hostname string) string {
	hostname = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
	hostname = strings.TrimPrefix(hostname, "www.")
	if hostname == "" {
		return Direct
	}

	for candidate := hostname; candidate != ""; {
		if name, ok := knownReferrers[candidate]; ok {
			return name
		}
		dot := strings.IndexByte(candidate, '.')
		if dot < 0 {
			break
		}
		candidate = candidate[dot+1:]
	}

	return capitalizeFirst(hostname)
}

// Hostname extracts the host from a referrer URL. Bare hostnames are accepted.
func Hostname(referrer string) string {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" {
		return ""
	}
	if !strings.Contains(referrer, "://") {
		referrer = "https://" + referrer
	}
	u, err := url.Parse(referrer)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Source labels a referrer URL for reporting. Empty referrers are Direct;
// referrers from ownHost (internal navigation) return "".
func Source(referrer, ownHost string) string {
	host := Hostname(referrer)
	if host == "" {
		return Direct
	}
	own := strings.TrimPrefix(strings.ToLower(ownHost), "www.")
	if own != "" && strings.TrimPrefix(host, "www.") == own {
		return ""
	}
	return FriendlyName(host)
}

// capitalizeFirst capitalizes the first letter of a string
func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
