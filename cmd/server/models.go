package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/forumkit/automation/event"
	"github.com/forumkit/automation/rules"
)

// triggerRequest is the illustrative inbound surface: request-handling code
// normally calls the typed constructors in the event package directly, but
// the endpoint lets operators and integration tests feed events in.
type triggerRequest struct {
	Type    event.Type      `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type donationPayload struct {
	DonationID  int64   `json:"donationId"`
	UserID      int64   `json:"userId"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Source      string  `json:"source"`
	IsAnonymous bool    `json:"isAnonymous"`
}

type checkinPayload struct {
	CheckinID       int64  `json:"checkinId"`
	UserID          int64  `json:"userId"`
	CheckinDate     string `json:"checkinDate"`
	ConsecutiveDays int64  `json:"consecutiveDays"`
	CreditsEarned   int64  `json:"creditsEarned"`
}

type postCreatePayload struct {
	PostID      int64  `json:"postId"`
	TopicID     int64  `json:"topicId"`
	UserID      int64  `json:"userId"`
	CategoryID  int64  `json:"categoryId"`
	Content     string `json:"content"`
	IsFirstPost bool   `json:"isFirstPost"`
}

type postLikeGivenPayload struct {
	PostID          int64 `json:"postId"`
	UserID          int64 `json:"userId"`
	TotalLikesGiven int64 `json:"totalLikesGiven"`
}

type postLikeReceivedPayload struct {
	PostID             int64 `json:"postId"`
	PostAuthorID       int64 `json:"postAuthorId"`
	TotalLikesReceived int64 `json:"totalLikesReceived"`
}

type userLoginPayload struct {
	UserID          int64  `json:"userId"`
	LoginTime       string `json:"loginTime"`
	ConsecutiveDays int64  `json:"consecutiveDays"`
}

// buildEvent maps a trigger request onto the typed event constructors.
func buildEvent(req triggerRequest) (*event.Event, error) {
	switch req.Type {
	case event.TypeDonation:
		var p donationPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		return event.NewDonation(event.Donation{
			DonationID:  p.DonationID,
			DonorID:     p.UserID,
			Amount:      p.Amount,
			Currency:    p.Currency,
			Source:      p.Source,
			IsAnonymous: p.IsAnonymous,
		}), nil

	case event.TypeCheckin:
		var p checkinPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		date, err := time.Parse("2006-01-02", p.CheckinDate)
		if err != nil {
			return nil, fmt.Errorf("invalid checkinDate: %w", err)
		}
		return event.NewCheckin(event.Checkin{
			CheckinID:       p.CheckinID,
			MemberID:        p.UserID,
			CheckinDate:     date,
			ConsecutiveDays: p.ConsecutiveDays,
			CreditsEarned:   p.CreditsEarned,
		}), nil

	case event.TypePostCreate:
		var p postCreatePayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		return event.NewPostCreate(event.PostCreate{
			PostID:      p.PostID,
			TopicID:     p.TopicID,
			AuthorID:    p.UserID,
			CategoryID:  p.CategoryID,
			Content:     p.Content,
			IsFirstPost: p.IsFirstPost,
		}), nil

	case event.TypePostLikeGiven:
		var p postLikeGivenPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		return event.NewPostLikeGiven(event.PostLikeGiven{
			PostID:          p.PostID,
			LikerID:         p.UserID,
			TotalLikesGiven: p.TotalLikesGiven,
		}), nil

	case event.TypePostLikeReceived:
		var p postLikeReceivedPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		return event.NewPostLikeReceived(event.PostLikeReceived{
			PostID:             p.PostID,
			PostAuthorID:       p.PostAuthorID,
			TotalLikesReceived: p.TotalLikesReceived,
		}), nil

	case event.TypeUserLogin:
		var p userLoginPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		loginTime := time.Now().UTC()
		if p.LoginTime != "" {
			parsed, err := time.Parse(time.RFC3339, p.LoginTime)
			if err != nil {
				return nil, fmt.Errorf("invalid loginTime: %w", err)
			}
			loginTime = parsed
		}
		return event.NewUserLogin(event.UserLogin{
			AccountID:       p.UserID,
			LoginTime:       loginTime,
			ConsecutiveDays: p.ConsecutiveDays,
		}), nil

	default:
		return nil, fmt.Errorf("unknown event type %q", req.Type)
	}
}

// ruleRequest is the create/update body for a rule.
type ruleRequest struct {
	Name      string           `json:"name"`
	EventType event.Type       `json:"eventType"`
	Enabled   bool             `json:"enabled"`
	Priority  int              `json:"priority"`
	Condition *rules.Condition `json:"condition"`
	Actions   []rules.Action   `json:"actions"`
}

func (r ruleRequest) toRule(id int64) *rules.Rule {
	return &rules.Rule{
		ID:        id,
		Name:      r.Name,
		EventType: r.EventType,
		Enabled:   r.Enabled,
		Priority:  r.Priority,
		Condition: r.Condition,
		Actions:   r.Actions,
	}
}

type reorderRequest struct {
	IDs []int64 `json:"ids"`
}
