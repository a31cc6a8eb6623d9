// Package event defines the typed domain events the automation engine consumes.
// Events are immutable facts: constructed once by request-handling code, never
// mutated after publish.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of domain event.
type Type string

const (
	TypeUserLogin        Type = "USER_LOGIN"
	TypeCheckin          Type = "CHECKIN"
	TypeDonation         Type = "DONATION"
	TypePostCreate       Type = "POST_CREATE"
	TypePostLikeGiven    Type = "POST_LIKE_GIVEN"
	TypePostLikeReceived Type = "POST_LIKE_RECEIVED"
)

// Types lists every event type the engine understands.
func Types() []Type {
	return []Type{
		TypeUserLogin,
		TypeCheckin,
		TypeDonation,
		TypePostCreate,
		TypePostLikeGiven,
		TypePostLikeReceived,
	}
}

// Valid reports whether t names a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypeUserLogin, TypeCheckin, TypeDonation,
		TypePostCreate, TypePostLikeGiven, TypePostLikeReceived:
		return true
	}
	return false
}

// Payload is the per-kind data carried by an Event. Each event kind has its
// own payload struct; Fields flattens it into the map the condition evaluator
// reads. Adding a kind means adding a struct here, so the compiler keeps the
// set of kinds and the set of payloads in sync.
type Payload interface {
	// Kind returns the event type this payload belongs to.
	Kind() Type

	// UserID returns the user the event is about (the subject of any
	// badge/credit/notification action).
	UserID() int64

	// Fields returns the flat evaluation view of the payload.
	Fields() map[string]any
}

// Event is an immutable fact describing something that happened.
type Event struct {
	ID         string
	Type       Type
	OccurredAt time.Time
	Payload    Payload
}

func newEvent(p Payload) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Type:       p.Kind(),
		OccurredAt: time.Now().UTC(),
		Payload:    p,
	}
}

// Donation is emitted when a user completes a donation.
type Donation struct {
	DonationID  int64
	DonorID     int64
	Amount      float64
	Currency    string
	Source      string
	IsAnonymous bool
}

func (p Donation) Kind() Type    { return TypeDonation }
func (p Donation) UserID() int64 { return p.DonorID }

func (p Donation) Fields() map[string]any {
	return map[string]any{
		"donationId":  p.DonationID,
		"userId":      p.DonorID,
		"amount":      p.Amount,
		"currency":    p.Currency,
		"source":      p.Source,
		"isAnonymous": p.IsAnonymous,
	}
}

// NewDonation builds a donation event.
func NewDonation(p Donation) *Event { return newEvent(p) }

// Checkin is emitted when a user completes a daily check-in.
type Checkin struct {
	CheckinID       int64
	MemberID        int64
	CheckinDate     time.Time
	ConsecutiveDays int64
	CreditsEarned   int64
}

func (p Checkin) Kind() Type    { return TypeCheckin }
func (p Checkin) UserID() int64 { return p.MemberID }

func (p Checkin) Fields() map[string]any {
	return map[string]any{
		"checkinId":       p.CheckinID,
		"userId":          p.MemberID,
		"checkinDate":     p.CheckinDate.Format("2006-01-02"),
		"consecutiveDays": p.ConsecutiveDays,
		"creditsEarned":   p.CreditsEarned,
	}
}

// NewCheckin builds a check-in event.
func NewCheckin(p Checkin) *Event { return newEvent(p) }

// PostCreate is emitted when a user publishes a post.
type PostCreate struct {
	PostID      int64
	TopicID     int64
	AuthorID    int64
	CategoryID  int64
	Content     string
	IsFirstPost bool
}

func (p PostCreate) Kind() Type    { return TypePostCreate }
func (p PostCreate) UserID() int64 { return p.AuthorID }

func (p PostCreate) Fields() map[string]any {
	return map[string]any{
		"postId":      p.PostID,
		"topicId":     p.TopicID,
		"userId":      p.AuthorID,
		"categoryId":  p.CategoryID,
		"content":     p.Content,
		"isFirstPost": p.IsFirstPost,
	}
}

// NewPostCreate builds a post-creation event.
func NewPostCreate(p PostCreate) *Event { return newEvent(p) }

// PostLikeGiven is emitted for the user who pressed like.
type PostLikeGiven struct {
	PostID          int64
	LikerID         int64
	TotalLikesGiven int64
}

func (p PostLikeGiven) Kind() Type    { return TypePostLikeGiven }
func (p PostLikeGiven) UserID() int64 { return p.LikerID }

func (p PostLikeGiven) Fields() map[string]any {
	return map[string]any{
		"postId":          p.PostID,
		"userId":          p.LikerID,
		"totalLikesGiven": p.TotalLikesGiven,
	}
}

// NewPostLikeGiven builds a like-given event.
func NewPostLikeGiven(p PostLikeGiven) *Event { return newEvent(p) }

// PostLikeReceived is emitted for the author of the liked post.
type PostLikeReceived struct {
	PostID             int64
	PostAuthorID       int64
	TotalLikesReceived int64
}

func (p PostLikeReceived) Kind() Type    { return TypePostLikeReceived }
func (p PostLikeReceived) UserID() int64 { return p.PostAuthorID }

func (p PostLikeReceived) Fields() map[string]any {
	return map[string]any{
		"postId":             p.PostID,
		"postAuthorId":       p.PostAuthorID,
		"userId":             p.PostAuthorID,
		"totalLikesReceived": p.TotalLikesReceived,
	}
}

// NewPostLikeReceived builds a like-received event.
func NewPostLikeReceived(p PostLikeReceived) *Event { return newEvent(p) }

// UserLogin is emitted on a successful login.
type UserLogin struct {
	AccountID       int64
	LoginTime       time.Time
	ConsecutiveDays int64
}

func (p UserLogin) Kind() Type    { return TypeUserLogin }
func (p UserLogin) UserID() int64 { return p.AccountID }

func (p UserLogin) Fields() map[string]any {
	return map[string]any{
		"userId":          p.AccountID,
		"loginTime":       p.LoginTime.UTC().Format(time.RFC3339),
		"consecutiveDays": p.ConsecutiveDays,
	}
}

// NewUserLogin builds a login event.
func NewUserLogin(p UserLogin) *Event { return newEvent(p) }
