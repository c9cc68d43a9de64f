// Package classifier decides whether a fetched page needs headless rendering.
package classifier

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Decision is the outcome of classifying one document.
type Decision struct {
	NeedsRender bool
	Reason      string
}

// Config tunes the heuristics. Both knobs come from configuration, never
// hard-coded call sites.
type Config struct {
	// SmallPageThresholdBytes marks documents below this size as too thin to
	// be a finished page.
	SmallPageThresholdBytes int
	// RenderDomains lists registrable domains of JS-heavy publishing
	// platforms whose SSR shells are unreliable on first paint.
	RenderDomains []string
}

// Classifier inspects fetched HTML and decides whether the static markup is
// already render-complete. Classify is pure: identical inputs always produce
// the identical decision.
type Classifier struct {
	cfg   Config
	rules []rule
}

// signal holds the facts extracted once per document; rules only read it.
type signal struct {
	byteSize         int
	title            string
	ogTitle          string
	ogDescription    string
	ogImage          string
	twitterCard      string
	bodyTextLen      int
	hasEmptyMount    bool
	hasJSNotice      bool
	domainListed     bool
	metadataVerified bool
}

// rule is one ordered predicate/decision pair. The second return value
// reports whether the rule fired; the first match wins.
type rule struct {
	name  string
	apply func(sig signal) (Decision, bool)
}

// New builds a Classifier with the configured thresholds.
func New(cfg Config) *Classifier {
	if cfg.SmallPageThresholdBytes == 0 {
		cfg.SmallPageThresholdBytes = 51200
	}
	c := &Classifier{cfg: cfg}
	c.rules = []rule{
		{name: "render-domain", apply: func(sig signal) (Decision, bool) {
			// Checked before the metadata short-circuit: SSR shells on these
			// platforms emit tags that parse as complete but carry
			// placeholder content.
			if sig.domainListed {
				return Decision{NeedsRender: true, Reason: "domain requires rendering"}, true
			}
			return Decision{}, false
		}},
		{name: "metadata-complete", apply: func(sig signal) (Decision, bool) {
			if sig.metadataVerified || (sig.title != "" && sig.ogTitle != "" && sig.ogDescription != "") {
				return Decision{NeedsRender: false, Reason: "metadata complete"}, true
			}
			return Decision{}, false
		}},
		{name: "blank-document", apply: func(sig signal) (Decision, bool) {
			// Nothing in head or body; rendering cannot fix an empty page.
			if sig.title == "" && sig.ogTitle == "" && sig.bodyTextLen == 0 && !sig.hasEmptyMount {
				return Decision{NeedsRender: false, Reason: "blank document"}, true
			}
			return Decision{}, false
		}},
		{name: "thin-page", apply: func(sig signal) (Decision, bool) {
			if sig.byteSize < c.cfg.SmallPageThresholdBytes {
				return Decision{NeedsRender: true, Reason: "document below size threshold"}, true
			}
			return Decision{}, false
		}},
		{name: "framework-mount", apply: func(sig signal) (Decision, bool) {
			if sig.hasEmptyMount && sig.bodyTextLen < substantialBodyText {
				return Decision{NeedsRender: true, Reason: "empty framework mount point"}, true
			}
			return Decision{}, false
		}},
		{name: "js-notice", apply: func(sig signal) (Decision, bool) {
			if sig.hasJSNotice {
				return Decision{NeedsRender: true, Reason: "page asks for JavaScript"}, true
			}
			return Decision{}, false
		}},
	}
	return c
}

// substantialBodyText is the visible-text length above which a page with a
// mount marker is assumed to have server-rendered content anyway.
const substantialBodyText = 200

// Mount selectors for common client-side frameworks.
var mountSelectors = []string{
	"div#root",
	"div#app",
	"div#__next",
	"[data-reactroot]",
	"[ng-app]",
	"*[ng-version]",
}

var jsNoticeMarkers = [][]byte{
	[]byte("enable JavaScript"),
	[]byte("enable javascript"),
	[]byte("JavaScript is required"),
	[]byte("javascript is disabled"),
	[]byte("Please turn on JavaScript"),
}

// Classify inspects htmlBytes fetched from rawURL and reports whether a
// headless render is required to obtain complete content. When the caller has
// already verified metadata completeness, metadataCompleteAlreadyChecked
// short-circuits the metadata rule without reparsing; the domain override
// still wins.
func (c *Classifier) Classify(htmlBytes []byte, rawURL string, metadataCompleteAlreadyChecked bool) Decision {
	sig := c.extract(htmlBytes, rawURL)
	sig.metadataVerified = metadataCompleteAlreadyChecked

	for _, r := range c.rules {
		if d, ok := r.apply(sig); ok {
			return d
		}
	}
	return Decision{NeedsRender: false, Reason: "static markup complete"}
}

func (c *Classifier) extract(htmlBytes []byte, rawURL string) signal {
	sig := signal{
		byteSize:     len(htmlBytes),
		domainListed: c.domainListed(rawURL),
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBytes))
	if err != nil {
		// Unparseable markup carries no structural signal; the size and
		// domain rules still apply.
		return sig
	}

	sig.title = strings.TrimSpace(doc.Find("title").First().Text())
	sig.ogTitle = metaContent(doc, "meta[property='og:title']")
	sig.ogDescription = metaContent(doc, "meta[property='og:description']")
	sig.ogImage = metaContent(doc, "meta[property='og:image']")
	sig.twitterCard = metaContent(doc, "meta[name='twitter:card']")

	body := doc.Find("body")
	sig.bodyTextLen = len(strings.TrimSpace(body.Text()))

	for _, sel := range mountSelectors {
		found := false
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if strings.TrimSpace(s.Text()) == "" {
				found = true
				return false
			}
			return true
		})
		if found {
			sig.hasEmptyMount = true
			break
		}
	}

	for _, marker := range jsNoticeMarkers {
		if bytes.Contains(htmlBytes, marker) {
			sig.hasJSNotice = true
			break
		}
	}
	return sig
}

func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(v)
}

// domainListed reports whether rawURL's host falls under one of the
// configured render domains. foo.substack.com matches substack.com.
func (c *Classifier) domainListed(rawURL string) bool {
	if len(c.cfg.RenderDomains) == 0 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, d := range c.cfg.RenderDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
