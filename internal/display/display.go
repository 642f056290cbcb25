// Package display decides which queued campaign is shown next and drives it
// through permission checking, presentation and close.
package display

import (
	"context"
	"errors"
	"time"

	"inapp-messaging/internal/campaign"
	"inapp-messaging/internal/remote"
)

// State of a queued campaign.
type State int

const (
	StateUnknown State = iota
	StateQueued
	StatePermissionChecking
	StateApproved
	StateDisplaying
	StateClosed
	StateRejected
	StateDiscarded
)

var stateNames = [...]string{
	StateUnknown:            "unknown",
	StateQueued:             "queued",
	StatePermissionChecking: "permission_checking",
	StateApproved:           "approved",
	StateDisplaying:         "displaying",
	StateClosed:             "closed",
	StateRejected:           "rejected",
	StateDiscarded:          "discarded",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrNothingDisplayed is returned by Close when no campaign is on screen.
var ErrNothingDisplayed = errors.New("no campaign displayed")

// Message is what the surface renders.
type Message struct {
	Campaign   campaign.Campaign
	Image      *Image
	Extensions campaign.Extensions
}

// Surface is the host screen campaigns are rendered on. Show returns once the
// message is on screen; the host reports the close through Manager.Close.
type Surface interface {
	Show(ctx context.Context, msg Message) error
	Dismiss(campaignID string)
}

// Permission is the backend verdict for one campaign.
type Permission struct {
	Display     bool
	PerformPing bool
}

// PermissionChecker asks the backend whether a campaign may be shown now.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, c campaign.Campaign) (Permission, error)
}

// ContextVerifier lets the host veto a campaign by its title contexts.
type ContextVerifier func(contexts []string, title string) bool

// ImpressionReporter receives the interactions of a closed campaign.
type ImpressionReporter interface {
	Report(ctx context.Context, c campaign.Campaign, types []remote.ImpressionType) error
}

// Eligible reports whether c may be shown at now while current is on screen.
func Eligible(c campaign.Campaign, now time.Time, current string) bool {
	return c.HasImpressionsLeft() &&
		!c.IsOptedOut &&
		!c.Expired(now) &&
		c.ID != current
}

// Interaction describes how a displayed campaign was closed.
type Interaction struct {
	Impressions []remote.ImpressionType
	OptOut      bool
	// FollowUp is the trigger embedded in the clicked button or content.
	FollowUp *campaign.Trigger
}

// ButtonClicked is the interaction for the button at index (0 or 1).
func ButtonClicked(c campaign.Campaign, index int, optOut bool) Interaction {
	in := Interaction{OptOut: optOut}
	switch index {
	case 0:
		in.Impressions = []remote.ImpressionType{remote.ImpressionActionOne}
	case 1:
		in.Impressions = []remote.ImpressionType{remote.ImpressionActionTwo}
	}
	buttons := c.Payload.Settings.Control.Buttons
	if index >= 0 && index < len(buttons) {
		in.FollowUp = buttons[index].Trigger
	}
	return in
}

// ContentClicked is the interaction for a click on the message body.
func ContentClicked(c campaign.Campaign, optOut bool) Interaction {
	in := Interaction{Impressions: []remote.ImpressionType{remote.ImpressionClickContent}, OptOut: optOut}
	if content := c.Payload.Settings.Control.Content; content != nil {
		in.FollowUp = content.Trigger
	}
	return in
}

// Dismissed is the interaction for the close button or back navigation.
func Dismissed(optOut bool) Interaction {
	return Interaction{Impressions: []remote.ImpressionType{remote.ImpressionExit}, OptOut: optOut}
}

// impressionTypes is the ordered list reported for a close.
func (in Interaction) impressionTypes() []remote.ImpressionType {
	out := []remote.ImpressionType{remote.ImpressionShown}
	out = append(out, in.Impressions...)
	if in.OptOut {
		out = append(out, remote.ImpressionOptOut)
	}
	return out
}
