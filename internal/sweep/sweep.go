// Package sweep delivers held emails whose scheduled instant has passed,
// one digest per user.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"holdmail/internal/digest"
	"holdmail/internal/mailer"
	"holdmail/internal/model"
	"holdmail/internal/schedule"
	"holdmail/internal/storage"
)

// ErrSinkNotConfigured aborts a sweep before any user is processed.
var ErrSinkNotConfigured = errors.New("mail sink is not configured")

// DefaultWorkers is the number of users processed concurrently.
const DefaultWorkers = 4

// Sink sends one rendered digest and returns the provider message ID.
type Sink interface {
	Send(ctx context.Context, msg mailer.Message) (string, error)
}

// readiness is implemented by sinks that can report missing configuration
// up front.
type readiness interface {
	Ready() error
}

// Alerter reports failures to an operator.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Engine runs sweep cycles. It keeps no state between cycles.
type Engine struct {
	store   storage.Storage
	sink    Sink
	log     *slog.Logger
	alerter Alerter
	baseURL string
	workers int
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithAlerter reports per-user failures after each cycle.
func WithAlerter(a Alerter) Option {
	return func(e *Engine) { e.alerter = a }
}

// WithBaseURL sets the web app origin used for links in digests.
func WithBaseURL(url string) Option {
	return func(e *Engine) { e.baseURL = url }
}

// WithWorkers limits how many users are processed at once.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(store storage.Storage, sink Sink, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		sink:    sink,
		log:     log,
		workers: DefaultWorkers,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type userGroup struct {
	userID int64
	emails []model.Email
}

// partition groups due emails by owner, in order of first appearance.
func partition(emails []model.Email) []userGroup {
	var groups []userGroup
	index := make(map[int64]int)
	for _, e := range emails {
		i, ok := index[e.UserID]
		if !ok {
			i = len(groups)
			index[e.UserID] = i
			groups = append(groups, userGroup{userID: e.UserID})
		}
		groups[i].emails = append(groups[i].emails, e)
	}
	return groups
}

// Run executes one sweep cycle and returns the number of emails delivered.
// Only a failure to list due emails or a missing sink configuration is
// returned as an error; per-user failures are logged and the affected emails
// stay pending for the next cycle.
func (e *Engine) Run(ctx context.Context) (int, error) {
	now := e.now().UTC()
	log := e.log.With("sweep_id", uuid.NewString())

	due, err := e.store.ListDueEmails(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due emails: %w", err)
	}
	if len(due) == 0 {
		log.Debug("no emails due")
		return 0, nil
	}

	if r, ok := e.sink.(readiness); ok {
		if err := r.Ready(); err != nil {
			e.alert(ctx, log, fmt.Sprintf("Digest sweep aborted: %v", err))
			return 0, fmt.Errorf("%w: %w", ErrSinkNotConfigured, err)
		}
	}

	groups := partition(due)
	log.Info("sweep started", "due", len(due), "users", len(groups))

	var (
		delivered atomic.Int64
		mu        sync.Mutex
		failures  []string
	)

	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, group := range groups {
		g.Go(func() error {
			n, err := e.deliver(ctx, log, group, now)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					log.Warn("skip group", "user_id", group.userID, "emails", len(group.emails), "error", err)
				} else {
					log.Error("deliver digest", "user_id", group.userID, "emails", len(group.emails), "error", err)
				}
				mu.Lock()
				failures = append(failures, fmt.Sprintf("user %d (%d emails): %v", group.userID, len(group.emails), err))
				mu.Unlock()
				return nil
			}
			delivered.Add(int64(n))
			return nil
		})
	}
	_ = g.Wait()

	total := int(delivered.Load())
	log.Info("sweep finished", "delivered", total, "failed_users", len(failures))

	if len(failures) > 0 {
		e.alert(ctx, log, fmt.Sprintf("Digest sweep: %d of %d users failed\n%s",
			len(failures), len(groups), strings.Join(failures, "\n")))
	}
	return total, nil
}

// deliver runs the per-user steps in order. Nothing is written unless the
// digest was accepted by the sink.
func (e *Engine) deliver(ctx context.Context, log *slog.Logger, group userGroup, now time.Time) (int, error) {
	user, err := e.store.GetUser(ctx, group.userID)
	if err != nil {
		return 0, fmt.Errorf("get user: %w", err)
	}
	to := user.Recipient()
	if to == "" {
		return 0, fmt.Errorf("user %d has no delivery address", user.ID)
	}

	loc, err := schedule.LoadLocation(user.Preference.Timezone)
	if err != nil {
		log.Warn("render digest in UTC", "user_id", user.ID, "error", err)
		loc = time.UTC
	}

	tags, err := e.senderTags(ctx, group.emails)
	if err != nil {
		return 0, err
	}

	var since time.Time
	latest, err := e.store.LatestDigest(ctx, user.ID)
	switch {
	case err == nil:
		since = latest.SentAt
	case !errors.Is(err, storage.ErrNotFound):
		return 0, fmt.Errorf("latest digest: %w", err)
	}

	links, err := e.store.ListLinksSince(ctx, user.ID, since)
	if err != nil {
		return 0, fmt.Errorf("list links: %w", err)
	}

	msg := digest.Compose(
		digest.FromEmails(group.emails, tags),
		now,
		user.Preference.Frequency,
		digest.FromLinks(links),
		digest.Options{BaseURL: e.baseURL, Location: loc},
	)

	messageID, err := e.sink.Send(ctx, mailer.Message{To: to, Subject: msg.Subject, HTML: msg.HTML})
	if err != nil {
		return 0, fmt.Errorf("send digest: %w", err)
	}

	ids := make([]int64, 0, len(group.emails))
	for _, em := range group.emails {
		ids = append(ids, em.ID)
	}

	// SentAt is the cycle start so links saved while this cycle ran are
	// picked up by the next digest.
	record := model.Digest{
		UserID:     user.ID,
		EmailIDs:   ids,
		Subject:    msg.Subject,
		HTMLBody:   msg.HTML,
		EmailCount: len(ids),
		SentAt:     now,
	}
	if err := e.store.RecordDelivery(ctx, &record); err != nil {
		return 0, fmt.Errorf("record delivery: %w", err)
	}

	log.Info("digest sent",
		"user_id", user.ID,
		"digest_id", record.ID,
		"emails", len(ids),
		"links", len(links),
		"message_id", messageID,
	)
	return len(ids), nil
}

// senderTags builds the sender to tag-name lookup for one group. Each sender
// is queried once.
func (e *Engine) senderTags(ctx context.Context, emails []model.Email) (map[int64][]string, error) {
	tags := make(map[int64][]string)
	for _, em := range emails {
		if em.SenderID == nil {
			continue
		}
		id := *em.SenderID
		if _, seen := tags[id]; seen {
			continue
		}
		names, err := e.store.ListSenderTagNames(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("sender %d tags: %w", id, err)
		}
		tags[id] = names
	}
	return tags, nil
}

func (e *Engine) alert(ctx context.Context, log *slog.Logger, text string) {
	if e.alerter == nil {
		return
	}
	if err := e.alerter.Alert(ctx, text); err != nil {
		log.Warn("alert operator", "error", err)
	}
}
