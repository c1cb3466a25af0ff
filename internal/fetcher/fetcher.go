// Package fetcher downloads RSS and Atom feeds and turns their items into
// saved links.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"holdmail/internal/model"
)

const maxDescription = 300

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// LinkSaver persists links, ignoring URLs the user already saved.
type LinkSaver interface {
	SaveLink(ctx context.Context, l *model.Link) (bool, error)
}

// Fetcher downloads and parses feeds.
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:  client,
		timeout: 30 * time.Second,
	}
}

// Fetch downloads and parses a feed from the given URL.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "HoldMyMail-LinkImport/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// ToLinks converts feed items to links owned by userID. Items without a link
// are skipped and repeated URLs are kept once, in feed order.
func ToLinks(feed *gofeed.Feed, userID int64) []model.Link {
	var favicon string
	if feed.Image != nil {
		favicon = feed.Image.URL
	}

	seen := make(map[string]bool)
	var links []model.Link
	for _, item := range feed.Items {
		url := strings.TrimSpace(item.Link)
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true

		var image string
		if item.Image != nil {
			image = item.Image.URL
		}
		links = append(links, model.Link{
			UserID:      userID,
			URL:         url,
			Title:       strings.TrimSpace(item.Title),
			Description: plainText(item.Description, maxDescription),
			OGImage:     image,
			OGSiteName:  feed.Title,
			Favicon:     favicon,
		})
	}
	return links
}

// Import fetches url and saves its items as links for userID. It returns the
// number of links that were new.
func (f *Fetcher) Import(ctx context.Context, saver LinkSaver, userID int64, url string) (int, error) {
	feed, err := f.Fetch(ctx, url)
	if err != nil {
		return 0, err
	}

	saved := 0
	for _, l := range ToLinks(feed, userID) {
		created, err := saver.SaveLink(ctx, &l)
		if err != nil {
			return saved, fmt.Errorf("save link %s: %w", l.URL, err)
		}
		if created {
			saved++
		}
	}
	return saved, nil
}

// plainText strips markup from s and clips it to n runes.
func plainText(s string, n int) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err == nil {
		s = doc.Text()
	}
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > n {
		s = string([]rune(s)[:n]) + "..."
	}
	return s
}
