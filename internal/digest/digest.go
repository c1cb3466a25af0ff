// Package digest renders held emails and saved links into a digest message.
package digest

import (
	"fmt"
	"html"
	"net/mail"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"holdmail/internal/model"
)

// Product name used in subjects and headings.
const productName = "Hold My Mail"

// OtherTag labels the trailing group of untagged emails.
const OtherTag = "Other"

const maxURLDisplay = 60

// Email is one held message as shown in a digest. Tags are ordered; the
// first one is the primary tag.
type Email struct {
	ID        int64
	Subject   string
	FromName  string
	FromEmail string
	Date      string
	Tags      []string
}

// Link is one saved link as shown in a digest.
type Link struct {
	ID         int64
	URL        string
	Title      string
	OGTitle    string
	OGSiteName string
	Favicon    string
	CreatedAt  time.Time
}

// Group is a run of emails sharing a primary tag. An empty Tag means the
// digest is flat and has no group headers.
type Group struct {
	Tag    string
	Emails []Email
}

// Options carries rendering context that is not part of the digest data.
type Options struct {
	// BaseURL is the web app origin used for deep links, without trailing slash.
	BaseURL string
	// Location is the reader's timezone. Nil means UTC.
	Location *time.Location
}

// Message is a rendered digest ready for delivery.
type Message struct {
	Subject string
	HTML    string
}

// FromEmails converts stored emails to digest rows, looking tags up by sender.
func FromEmails(emails []model.Email, senderTags map[int64][]string) []Email {
	out := make([]Email, 0, len(emails))
	for _, e := range emails {
		var tags []string
		if e.SenderID != nil {
			tags = senderTags[*e.SenderID]
		}
		out = append(out, Email{
			ID:        e.ID,
			Subject:   e.Subject,
			FromName:  e.FromName,
			FromEmail: e.FromEmail,
			Date:      e.Date,
			Tags:      tags,
		})
	}
	return out
}

// FromLinks converts stored links to digest rows.
func FromLinks(links []model.Link) []Link {
	out := make([]Link, 0, len(links))
	for _, l := range links {
		out = append(out, Link{
			ID:         l.ID,
			URL:        l.URL,
			Title:      l.Title,
			OGTitle:    l.OGTitle,
			OGSiteName: l.OGSiteName,
			Favicon:    l.Favicon,
			CreatedAt:  l.CreatedAt,
		})
	}
	return out
}

// GroupByPrimaryTag groups emails by their first tag, in order of first
// appearance, keeping the input order inside each group. Untagged emails go to
// a final "Other" group. When no email has a tag the result is a single group
// with an empty Tag holding every email in input order.
func GroupByPrimaryTag(emails []Email) []Group {
	var groups []Group
	index := make(map[string]int)
	var untagged []Email

	for _, e := range emails {
		if len(e.Tags) == 0 {
			untagged = append(untagged, e)
			continue
		}
		primary := e.Tags[0]
		i, ok := index[primary]
		if !ok {
			i = len(groups)
			index[primary] = i
			groups = append(groups, Group{Tag: primary})
		}
		groups[i].Emails = append(groups[i].Emails, e)
	}

	if len(groups) == 0 {
		if len(emails) == 0 {
			return nil
		}
		return []Group{{Emails: append([]Email(nil), emails...)}}
	}
	if len(untagged) > 0 {
		groups = append(groups, Group{Tag: OtherTag, Emails: untagged})
	}
	return groups
}

// Subject builds the digest subject line.
func Subject(count int, frequency model.Frequency) string {
	return fmt.Sprintf("Your %s%s Digest – %s waiting", frequencyPrefix(frequency), productName, plural(count, "email"))
}

// Compose renders a digest. It never fails: malformed dates degrade to the
// raw value or an empty label.
func Compose(emails []Email, asOf time.Time, frequency model.Frequency, links []Link, opts Options) Message {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	base := strings.TrimRight(opts.BaseURL, "/")

	p := page{
		Heading:    fmt.Sprintf("Your %s%s Digest", frequencyPrefix(frequency), productName),
		Date:       asOf.In(loc).Format("Monday, January 2, 2006"),
		EmailCount: len(emails),
		LinkCount:  len(links),
		BaseURL:    base,
	}

	for _, g := range GroupByPrimaryTag(emails) {
		gv := groupView{Tag: g.Tag}
		for _, e := range g.Emails {
			sender := e.FromName
			if sender == "" {
				sender = e.FromEmail
			}
			gv.Rows = append(gv.Rows, emailRow{
				Sender:  sender,
				Subject: e.Subject,
				URL:     base + "/inbox/" + strconv.FormatInt(e.ID, 10),
				Date:    formatEmailDate(e.Date, loc),
			})
		}
		p.Groups = append(p.Groups, gv)
	}

	for _, l := range links {
		p.Links = append(p.Links, linkRow{
			URL:     l.URL,
			Title:   linkTitle(l),
			Source:  l.OGSiteName,
			Display: truncate(l.URL, maxURLDisplay),
			Favicon: l.Favicon,
			Date:    formatTimestamp(l.CreatedAt, loc),
		})
	}

	subject := Subject(len(emails), frequency)

	var b strings.Builder
	if err := digestTemplate.Execute(&b, p); err != nil {
		return Message{Subject: subject, HTML: "<p>" + html.EscapeString(subject) + "</p>"}
	}
	return Message{Subject: subject, HTML: b.String()}
}

func frequencyPrefix(f model.Frequency) string {
	if label := f.Label(); label != "" {
		return label + " "
	}
	return ""
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func linkTitle(l Link) string {
	switch {
	case l.Title != "":
		return l.Title
	case l.OGTitle != "":
		return l.OGTitle
	default:
		return l.URL
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}

const displayLayout = "Jan 2, 2006, 3:04 PM"

var dateLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// formatEmailDate renders a raw message date in loc. Values that cannot be
// parsed are returned unchanged.
func formatEmailDate(raw string, loc *time.Location) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if t, err := mail.ParseDate(raw); err == nil {
		return t.In(loc).Format(displayLayout)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.In(loc).Format(displayLayout)
		}
	}
	return raw
}

func formatTimestamp(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(loc).Format(displayLayout)
}
