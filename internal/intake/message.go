package intake

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // Legacy charsets in older newsletters.
	"github.com/emersion/go-message/mail"

	"holdmail/internal/model"
)

const maxBody = 2 * 1024 * 1024

// ErrNoSender is returned for a message without a usable From address.
var ErrNoSender = errors.New("message has no sender")

// Parse reads an RFC 5322 message into an Email. The first inline text/plain
// and text/html parts become the bodies; attachments are skipped. Owner and
// schedule are left for Hold.
func Parse(r io.Reader) (*model.Email, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read message: %w", err)
	}

	h := mr.Header
	e := &model.Email{
		To:        h.Get("To"),
		Date:      h.Get("Date"),
		MessageID: h.Get("Message-Id"),
	}

	from, err := h.AddressList("From")
	if err != nil || len(from) == 0 || from[0].Address == "" {
		return nil, ErrNoSender
	}
	e.FromEmail = from[0].Address
	e.FromName = from[0].Name

	if e.Subject, err = h.Subject(); err != nil {
		return nil, fmt.Errorf("decode subject: %w", err)
	}

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && (p == nil || !message.IsUnknownCharset(err)) {
			return nil, fmt.Errorf("read part: %w", err)
		}
		if strings.HasPrefix(strings.ToLower(p.Header.Get("Content-Disposition")), "attachment") {
			continue
		}

		mediaType := "text/plain"
		if ct := p.Header.Get("Content-Type"); ct != "" {
			if mediaType, _, err = mime.ParseMediaType(ct); err != nil {
				continue
			}
		}
		if mediaType != "text/plain" && mediaType != "text/html" {
			continue
		}

		body, err := io.ReadAll(io.LimitReader(p.Body, maxBody))
		if err != nil {
			return nil, fmt.Errorf("read %s body: %w", mediaType, err)
		}
		switch {
		case mediaType == "text/plain" && e.TextBody == "":
			e.TextBody = string(body)
		case mediaType == "text/html" && e.HTMLBody == "":
			e.HTMLBody = string(body)
		}
	}
	return e, nil
}
