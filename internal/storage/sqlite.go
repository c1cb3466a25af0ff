package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"holdmail/internal/model"
	"holdmail/migrations"
)

// Fixed-width UTC layout so that timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
	now func() time.Time
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: writes serialize anyway and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		_ = db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &SQLite{db: db, enc: enc, dec: dec, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	s.dec.Close()
	_ = s.enc.Close()
	return s.db.Close()
}

func (s *SQLite) stamp(t time.Time) time.Time {
	if t.IsZero() {
		t = s.now()
	}
	return t.UTC().Truncate(time.Millisecond)
}

// CreateUser inserts a new user and populates its ID and CreatedAt.
func (s *SQLite) CreateUser(ctx context.Context, u *model.User) error {
	created := s.stamp(u.CreatedAt)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, email, delivery_email, digest_frequency, digest_day, digest_time, timezone, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.DeliveryEmail,
		string(u.Preference.Frequency), u.Preference.DayOfWeek, u.Preference.TimeOfDay, u.Preference.Timezone,
		formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	u.ID = id
	u.CreatedAt = created
	return nil
}

// GetUser returns a single user by its ID.
func (s *SQLite) GetUser(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, delivery_email, digest_frequency, digest_day, digest_time, timezone, created_at
		 FROM users WHERE id = ?`, id,
	)
	var u model.User
	var freq, created string
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.DeliveryEmail,
		&freq, &u.Preference.DayOfWeek, &u.Preference.TimeOfDay, &u.Preference.Timezone, &created)
	if err != nil {
		return nil, notFound("scan user", err)
	}
	u.Preference.Frequency = model.Frequency(freq)
	u.CreatedAt = parseTime(created)
	return &u, nil
}

// UpdateUserPreference replaces the user's default delivery preference.
func (s *SQLite) UpdateUserPreference(ctx context.Context, id int64, p model.DeliveryPreference) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET digest_frequency = ?, digest_day = ?, digest_time = ?, timezone = ? WHERE id = ?`,
		string(p.Frequency), p.DayOfWeek, p.TimeOfDay, p.Timezone, id,
	)
	if err != nil {
		return fmt.Errorf("update user preference: %w", err)
	}
	return requireRow(res, "update user preference")
}

// CreateTag inserts a new tag and populates its ID and CreatedAt.
func (s *SQLite) CreateTag(ctx context.Context, tag *model.Tag) error {
	created := s.stamp(tag.CreatedAt)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (user_id, name, color, created_at) VALUES (?, ?, ?, ?)`,
		tag.UserID, tag.Name, tag.Color, formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("insert tag: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	tag.ID = id
	tag.CreatedAt = created
	return nil
}

// CreateSender inserts a new sender with its ordered tags and populates its
// ID and CreatedAt.
func (s *SQLite) CreateSender(ctx context.Context, sender *model.Sender) error {
	created := s.stamp(sender.CreatedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO senders (user_id, email, name, digest_frequency, digest_day, digest_time, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sender.UserID, sender.Email, sender.Name,
		string(sender.Preference.Frequency), sender.Preference.DayOfWeek, sender.Preference.TimeOfDay,
		formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("insert sender: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	if err := insertSenderTags(ctx, tx, id, sender.TagIDs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sender: %w", err)
	}

	sender.ID = id
	sender.CreatedAt = created
	return nil
}

// GetSender returns a single sender, including its tag IDs in order.
func (s *SQLite) GetSender(ctx context.Context, id int64) (*model.Sender, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, email, name, digest_frequency, digest_day, digest_time, created_at
		 FROM senders WHERE id = ?`, id,
	)
	var sender model.Sender
	var freq, created string
	err := row.Scan(&sender.ID, &sender.UserID, &sender.Email, &sender.Name,
		&freq, &sender.Preference.DayOfWeek, &sender.Preference.TimeOfDay, &created)
	if err != nil {
		return nil, notFound("scan sender", err)
	}
	sender.Preference.Frequency = model.Frequency(freq)
	sender.CreatedAt = parseTime(created)

	tagIDs, err := s.queryInt64s(ctx,
		`SELECT tag_id FROM sender_tags WHERE sender_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("query sender tags: %w", err)
	}
	sender.TagIDs = tagIDs
	return &sender, nil
}

// SetSenderTags replaces the ordered tag list of a sender.
func (s *SQLite) SetSenderTags(ctx context.Context, senderID int64, tagIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sender_tags WHERE sender_id = ?`, senderID); err != nil {
		return fmt.Errorf("delete sender tags: %w", err)
	}
	if err := insertSenderTags(ctx, tx, senderID, tagIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func insertSenderTags(ctx context.Context, tx *sql.Tx, senderID int64, tagIDs []int64) error {
	for i, tagID := range tagIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO sender_tags (sender_id, tag_id, position) VALUES (?, ?, ?)`,
			senderID, tagID, i,
		); err != nil {
			return fmt.Errorf("insert sender tag: %w", err)
		}
	}
	return nil
}

// ListSenderTagNames returns the names of a sender's tags in position order.
// Tags that no longer exist are skipped.
func (s *SQLite) ListSenderTagNames(ctx context.Context, senderID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.name FROM sender_tags st
		 JOIN tags t ON t.id = st.tag_id
		 WHERE st.sender_id = ?
		 ORDER BY st.position`, senderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query sender tag names: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan tag name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

const emailColumns = `id, user_id, sender_id, from_email, from_name, to_addr, subject, text_body, html_body,
	date, message_id, is_read, scheduled_for, delivered, created_at`

// CreateEmail inserts a received email. Delivered is always stored as false.
func (s *SQLite) CreateEmail(ctx context.Context, e *model.Email) error {
	created := s.stamp(e.CreatedAt)
	var scheduled *string
	if e.ScheduledFor != nil {
		v := formatTime(*e.ScheduledFor)
		scheduled = &v
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO emails (user_id, sender_id, from_email, from_name, to_addr, subject, text_body, html_body,
		                     date, message_id, is_read, scheduled_for, delivered, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		e.UserID, e.SenderID, e.FromEmail, e.FromName, e.To, e.Subject, e.TextBody, e.HTMLBody,
		e.Date, e.MessageID, boolToInt(e.Read), scheduled, formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("insert email: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id
	e.Delivered = false
	e.CreatedAt = created
	return nil
}

// GetEmail returns a single email by its ID.
func (s *SQLite) GetEmail(ctx context.Context, id int64) (*model.Email, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+emailColumns+` FROM emails WHERE id = ?`, id)
	e, err := scanEmail(row)
	if err != nil {
		return nil, notFound("get email", err)
	}
	return &e, nil
}

// ListDueEmails returns undelivered emails scheduled at or before now, in
// arrival order.
func (s *SQLite) ListDueEmails(ctx context.Context, now time.Time) ([]model.Email, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+emailColumns+` FROM emails
		 WHERE delivered = 0
		   AND scheduled_for IS NOT NULL
		   AND scheduled_for <= ?
		 ORDER BY id`,
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("query due emails: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var emails []model.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

// CreateDigest stores a digest with its email IDs and populates its ID and
// SentAt. The HTML body is stored zstd-compressed. The emails are left as
// they are; use RecordDelivery after a send.
func (s *SQLite) CreateDigest(ctx context.Context, d *model.Digest) error {
	return s.saveDigest(ctx, d, false)
}

// RecordDelivery stores the digest like CreateDigest and flags every email in
// d.EmailIDs as delivered, all in one transaction.
func (s *SQLite) RecordDelivery(ctx context.Context, d *model.Digest) error {
	return s.saveDigest(ctx, d, true)
}

func (s *SQLite) saveDigest(ctx context.Context, d *model.Digest, markDelivered bool) error {
	sent := s.stamp(d.SentAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO digests (user_id, subject, html_body, email_count, sent_at) VALUES (?, ?, ?, ?, ?)`,
		d.UserID, d.Subject, s.enc.EncodeAll([]byte(d.HTMLBody), nil), d.EmailCount, formatTime(sent),
	)
	if err != nil {
		return fmt.Errorf("insert digest: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	for i, emailID := range d.EmailIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO digest_emails (digest_id, email_id, position) VALUES (?, ?, ?)`,
			id, emailID, i,
		); err != nil {
			return fmt.Errorf("insert digest email: %w", err)
		}
		if !markDelivered {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE emails SET delivered = 1 WHERE id = ?`, emailID); err != nil {
			return fmt.Errorf("mark delivered %d: %w", emailID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit digest: %w", err)
	}

	d.ID = id
	d.SentAt = sent
	return nil
}

const digestColumns = `id, user_id, subject, html_body, email_count, sent_at`

// GetDigest returns a single digest by its ID.
func (s *SQLite) GetDigest(ctx context.Context, id int64) (*model.Digest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+digestColumns+` FROM digests WHERE id = ?`, id)
	return s.loadDigest(ctx, row)
}

// LatestDigest returns the most recently sent digest of a user, or
// ErrNotFound when none was sent yet.
func (s *SQLite) LatestDigest(ctx context.Context, userID int64) (*model.Digest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+digestColumns+` FROM digests WHERE user_id = ? ORDER BY sent_at DESC, id DESC LIMIT 1`, userID)
	return s.loadDigest(ctx, row)
}

// ListDigests returns all digests of a user, newest first.
func (s *SQLite) ListDigests(ctx context.Context, userID int64) ([]model.Digest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+digestColumns+` FROM digests WHERE user_id = ? ORDER BY sent_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query digests: %w", err)
	}

	var digests []model.Digest
	for rows.Next() {
		d, err := s.scanDigest(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		digests = append(digests, *d)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	// Rows must be closed before issuing more queries on the single connection.
	for i := range digests {
		if digests[i].EmailIDs, err = s.digestEmailIDs(ctx, digests[i].ID); err != nil {
			return nil, err
		}
	}
	return digests, nil
}

func (s *SQLite) loadDigest(ctx context.Context, row scannable) (*model.Digest, error) {
	d, err := s.scanDigest(row)
	if err != nil {
		return nil, err
	}
	if d.EmailIDs, err = s.digestEmailIDs(ctx, d.ID); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *SQLite) scanDigest(row scannable) (*model.Digest, error) {
	var d model.Digest
	var body []byte
	var sent string
	if err := row.Scan(&d.ID, &d.UserID, &d.Subject, &body, &d.EmailCount, &sent); err != nil {
		return nil, notFound("scan digest", err)
	}
	html, err := s.dec.DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress digest %d: %w", d.ID, err)
	}
	d.HTMLBody = string(html)
	d.SentAt = parseTime(sent)
	return &d, nil
}

func (s *SQLite) digestEmailIDs(ctx context.Context, digestID int64) ([]int64, error) {
	ids, err := s.queryInt64s(ctx,
		`SELECT email_id FROM digest_emails WHERE digest_id = ? ORDER BY position`, digestID)
	if err != nil {
		return nil, fmt.Errorf("query digest emails: %w", err)
	}
	return ids, nil
}

// SaveLink inserts a link unless the user already saved the same URL. It
// reports whether a row was created; only then are ID and CreatedAt set.
func (s *SQLite) SaveLink(ctx context.Context, l *model.Link) (bool, error) {
	created := s.stamp(l.CreatedAt)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO links (user_id, url, title, description, og_title, og_description, og_image,
		                              og_site_name, favicon, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.UserID, l.URL, l.Title, l.Description, l.OGTitle, l.OGDescription, l.OGImage,
		l.OGSiteName, l.Favicon, formatTime(created),
	)
	if err != nil {
		return false, fmt.Errorf("insert link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("last insert id: %w", err)
	}
	l.ID = id
	l.CreatedAt = created
	return true, nil
}

// ListLinksSince returns a user's links created strictly after since, oldest
// first. A zero since returns every link.
func (s *SQLite) ListLinksSince(ctx context.Context, userID int64, since time.Time) ([]model.Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, url, title, description, og_title, og_description, og_image, og_site_name, favicon, created_at
		 FROM links WHERE user_id = ? AND created_at > ?
		 ORDER BY created_at, id`,
		userID, formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var links []model.Link
	for rows.Next() {
		var l model.Link
		var created string
		if err := rows.Scan(&l.ID, &l.UserID, &l.URL, &l.Title, &l.Description, &l.OGTitle,
			&l.OGDescription, &l.OGImage, &l.OGSiteName, &l.Favicon, &created); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		l.CreatedAt = parseTime(created)
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *SQLite) queryInt64s(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func notFound(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEmail(row scannable) (model.Email, error) {
	var e model.Email
	var senderID sql.NullInt64
	var isRead, delivered int
	var scheduled sql.NullString
	var created string
	err := row.Scan(&e.ID, &e.UserID, &senderID, &e.FromEmail, &e.FromName, &e.To, &e.Subject,
		&e.TextBody, &e.HTMLBody, &e.Date, &e.MessageID, &isRead, &scheduled, &delivered, &created)
	if err != nil {
		return e, fmt.Errorf("scan email: %w", err)
	}
	if senderID.Valid {
		v := senderID.Int64
		e.SenderID = &v
	}
	if scheduled.Valid {
		t := parseTime(scheduled.String)
		e.ScheduledFor = &t
	}
	e.Read = isRead == 1
	e.Delivered = delivered == 1
	e.CreatedAt = parseTime(created)
	return e, nil
}
