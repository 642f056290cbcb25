package sdk

import (
	"inapp-messaging/internal/display"
	"inapp-messaging/internal/event"
	"inapp-messaging/internal/repository"
)

// Types the host app works with.
type (
	Event            = event.Event
	HostInfo         = repository.HostInfo
	UserInfoProvider = repository.UserInfoProvider
	Surface          = display.Surface
	Message          = display.Message
	Interaction      = display.Interaction
	ContextVerifier  = display.ContextVerifier
)

// Event validation errors.
var (
	ErrEmptyName   = event.ErrEmptyName
	ErrNameTooLong = event.ErrNameTooLong
)

// AppStartEvent is logged once per launch; it stays available for matching.
func AppStartEvent() *Event { return event.NewAppStart() }

func LoginSuccessfulEvent() *Event { return event.NewLoginSuccessful() }

// PurchaseSuccessfulEvent describes a completed purchase. The amount is in micros.
func PurchaseSuccessfulEvent(amountMicros int64, numberOfItems int, currencyCode string, itemIDs []string) *Event {
	return event.NewPurchaseSuccessful(amountMicros, numberOfItems, currencyCode, itemIDs)
}

// CustomEvent fails on an empty or over-long name.
func CustomEvent(name string) (*Event, error) { return event.NewCustom(name) }

var (
	ButtonClicked  = display.ButtonClicked
	ContentClicked = display.ContentClicked
	Dismissed      = display.Dismissed
)
