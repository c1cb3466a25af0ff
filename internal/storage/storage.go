// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"holdmail/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	UpdateUserPreference(ctx context.Context, id int64, p model.DeliveryPreference) error

	CreateTag(ctx context.Context, tag *model.Tag) error

	CreateSender(ctx context.Context, s *model.Sender) error
	GetSender(ctx context.Context, id int64) (*model.Sender, error)
	SetSenderTags(ctx context.Context, senderID int64, tagIDs []int64) error
	ListSenderTagNames(ctx context.Context, senderID int64) ([]string, error)

	CreateEmail(ctx context.Context, e *model.Email) error
	GetEmail(ctx context.Context, id int64) (*model.Email, error)
	ListDueEmails(ctx context.Context, now time.Time) ([]model.Email, error)

	CreateDigest(ctx context.Context, d *model.Digest) error
	RecordDelivery(ctx context.Context, d *model.Digest) error
	GetDigest(ctx context.Context, id int64) (*model.Digest, error)
	LatestDigest(ctx context.Context, userID int64) (*model.Digest, error)
	ListDigests(ctx context.Context, userID int64) ([]model.Digest, error)

	SaveLink(ctx context.Context, l *model.Link) (bool, error)
	ListLinksSince(ctx context.Context, userID int64, since time.Time) ([]model.Link, error)

	Close() error
}
