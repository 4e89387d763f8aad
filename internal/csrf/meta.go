package csrf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"
)

// DefaultMetaName is the name of the meta tag holding the token.
const DefaultMetaName = "csrf-token"

// ErrNoMeta is returned when a page has no token meta tag.
var ErrNoMeta = errors.New("csrf meta tag not found")

// MetaFromHTML returns the content of <meta name="name"> in r.
func MetaFromHTML(r io.Reader, name string) (string, error) {
	if name == "" {
		name = DefaultMetaName
	}

	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}

	if v, ok := findMeta(doc, name); ok {
		return v, nil
	}

	return "", ErrNoMeta
}

func findMeta(n *html.Node, name string) (string, bool) {
	if n.Type == html.ElementNode && n.Data == "meta" {
		var (
			matched bool
			content string
		)

		for _, a := range n.Attr {
			switch strings.ToLower(a.Key) {
			case "name":
				matched = strings.EqualFold(a.Val, name)
			case "content":
				content = a.Val
			}
		}

		if matched && content != "" {
			return content, true
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if v, ok := findMeta(c, name); ok {
			return v, true
		}
	}

	return "", false
}

// Page fetches an HTML page and reads the token from its meta tag.
type Page struct {
	URL    string
	Name   string
	Client *http.Client
}

// CSRFToken implements MetaSource.
func (p Page) CSRFToken(ctx context.Context) (string, error) {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return "", err
	}

	req.Header.Set("Accept", "text/html")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", p.URL, resp.StatusCode)
	}

	return MetaFromHTML(io.LimitReader(resp.Body, 1<<20), p.Name)
}
