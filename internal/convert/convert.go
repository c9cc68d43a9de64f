// Package convert turns fetched HTML into the requested output representation.
package convert

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// ToText extracts the visible text of an HTML document. Script and style
// bodies are discarded.
func ToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()
	return collapseWhitespace(doc.Find("body").Text()), nil
}

// ToMarkdown converts HTML to markdown. baseURL resolves relative links. When
// conversion fails or produces nothing, the tag-stripped text is returned
// instead so the caller still gets usable content.
func ToMarkdown(html, baseURL string) (string, error) {
	if html == "" {
		return "", nil
	}
	converter := md.NewConverter(baseURL, true, nil)
	converted, err := converter.ConvertString(html)
	if err != nil {
		return stripTags(html), nil
	}
	if strings.TrimSpace(converted) == "" {
		return stripTags(html), nil
	}
	return converted, nil
}

// Document is the structured representation produced for the json format.
type Document struct {
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Text        string            `json:"text"`
	Meta        map[string]string `json:"meta,omitempty"`
	Links       []string          `json:"links,omitempty"`
}

// ToDocument parses HTML into a Document for sourceURL.
func ToDocument(html, sourceURL string) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Document{}, fmt.Errorf("parse html: %w", err)
	}

	out := Document{
		URL:   sourceURL,
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Meta:  map[string]string{},
	}
	if out.Title == "" {
		if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok {
			out.Title = strings.TrimSpace(og)
		}
	}
	if desc, ok := doc.Find("meta[property='og:description']").Attr("content"); ok {
		out.Description = strings.TrimSpace(desc)
	}
	doc.Find("meta[property^='og:'], meta[name^='twitter:']").Each(func(_ int, s *goquery.Selection) {
		key, _ := s.Attr("property")
		if key == "" {
			key, _ = s.Attr("name")
		}
		if v, ok := s.Attr("content"); ok && key != "" {
			out.Meta[key] = strings.TrimSpace(v)
		}
	})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && strings.HasPrefix(href, "http") {
			out.Links = append(out.Links, href)
		}
	})

	doc.Find("script, style, noscript").Remove()
	out.Text = collapseWhitespace(doc.Find("body").Text())
	return out, nil
}

// ToJSON renders the Document for sourceURL as a JSON string.
func ToJSON(html, sourceURL string) (string, error) {
	d, err := ToDocument(html, sourceURL)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	return string(data), nil
}

var (
	tagRe   = regexp.MustCompile(`<[^>]*>`)
	spaceRe = regexp.MustCompile(`\s+`)
)

func stripTags(html string) string {
	stripped := tagRe.ReplaceAllString(html, "")
	return collapseWhitespace(stripped)
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
