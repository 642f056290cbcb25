package campaign

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"inapp-messaging/internal/event"
)

// Operator compares an event attribute against a trigger attribute value.
type Operator int

const (
	OpInvalid Operator = iota
	OpEquals
	OpDoesNotEqual
	OpGreaterThan
	OpLessThan
	OpIsBlank
	OpIsNotBlank
	OpMatchesRegex
	OpDoesNotMatchRegex
)

var operatorNames = [...]string{
	OpInvalid:           "INVALID",
	OpEquals:            "EQUALS",
	OpDoesNotEqual:      "DOES_NOT_EQUAL",
	OpGreaterThan:       "GREATER_THAN",
	OpLessThan:          "LESS_THAN",
	OpIsBlank:           "IS_BLANK",
	OpIsNotBlank:        "IS_NOT_BLANK",
	OpMatchesRegex:      "MATCHES_REGEX",
	OpDoesNotMatchRegex: "DOES_NOT_MATCH_REGEX",
}

// OperatorByID returns OpInvalid for unknown ids.
func OperatorByID(id int) Operator {
	if id <= 0 || id >= len(operatorNames) {
		return OpInvalid
	}
	return Operator(id)
}

func (o Operator) String() string {
	if o < 0 || int(o) >= len(operatorNames) {
		return operatorNames[OpInvalid]
	}
	return operatorNames[o]
}

// TriggerType is the trigger kind; only event triggers exist today.
type TriggerType int

const (
	TriggerInvalid TriggerType = iota
	TriggerEvent
)

// TriggerAttribute is a single predicate on an event attribute.
type TriggerAttribute struct {
	Name      string          `json:"name"`
	Value     string          `json:"value"`
	ValueType event.ValueType `json:"type"`
	Operator  Operator        `json:"operator"`
}

// Trigger matches an event when type and name match and every attribute predicate holds.
type Trigger struct {
	Type       TriggerType        `json:"type"`
	EventType  event.Type         `json:"eventType"`
	EventName  string             `json:"eventName"`
	Attributes []TriggerAttribute `json:"attributes,omitempty"`
}

// UnmarshalJSON maps unknown enum ids to their Invalid variants instead of failing.
// A trigger with a malformed field decodes as a TriggerInvalid that never matches.
func (t *Trigger) UnmarshalJSON(b []byte) error {
	type rawAttr struct {
		Name      string `json:"name"`
		Value     string `json:"value"`
		ValueType int    `json:"type"`
		Operator  int    `json:"operator"`
	}
	var raw struct {
		Type       int               `json:"type"`
		EventType  int               `json:"eventType"`
		EventName  string            `json:"eventName"`
		Attributes []json.RawMessage `json:"attributes"`
	}
	*t = Trigger{}
	if err := json.Unmarshal(b, &raw); err != nil {
		log.Warn().Err(err).Msg("malformed trigger; it will never match")
		return nil
	}
	attrs := make([]TriggerAttribute, 0, len(raw.Attributes))
	for _, ab := range raw.Attributes {
		var a rawAttr
		if err := json.Unmarshal(ab, &a); err != nil {
			log.Warn().Err(err).Str("event_name", raw.EventName).Msg("malformed trigger attribute; trigger will never match")
			return nil
		}
		attrs = append(attrs, TriggerAttribute{
			Name:      a.Name,
			Value:     a.Value,
			ValueType: event.ValueTypeByID(a.ValueType),
			Operator:  OperatorByID(a.Operator),
		})
	}
	if raw.Type == int(TriggerEvent) {
		t.Type = TriggerEvent
	}
	t.EventType = event.TypeByID(raw.EventType)
	t.EventName = raw.EventName
	if len(attrs) > 0 {
		t.Attributes = attrs
	}
	return nil
}

// FollowUpEvent converts an embedded button/content trigger into the custom event it
// should log when clicked. Non-custom or unnamed triggers yield nil.
func (t *Trigger) FollowUpEvent() *event.Event {
	if t == nil || t.EventType != event.TypeCustom {
		return nil
	}
	e, err := event.NewCustom(t.EventName)
	if err != nil {
		return nil
	}
	for _, a := range t.Attributes {
		if n, err := event.NormalizeName(a.Name); err == nil {
			vt := a.ValueType
			if vt == event.ValueInvalid {
				vt = event.ValueString
			}
			e.Attributes[n] = event.Attribute{Name: n, Value: a.Value, ValueType: vt}
		}
	}
	return e
}
