package engine

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"inapp-messaging/internal/campaign"
	"inapp-messaging/internal/event"
)

const floatTolerance = 1e-9

// Matcher evaluates triggers against events. It is safe for concurrent use;
// compiled regular expressions are cached by pattern.
type Matcher struct {
	patterns sync.Map // string -> *regexp.Regexp (nil when the pattern does not compile)
}

func NewMatcher() *Matcher { return &Matcher{} }

// TriggerMatches reports whether e satisfies t: same event type (and name for custom
// events) and every attribute predicate holds.
func (m *Matcher) TriggerMatches(t campaign.Trigger, e *event.Event) bool {
	if t.Type != campaign.TriggerEvent || t.EventType == event.TypeInvalid || t.EventType != e.Type {
		return false
	}
	if t.EventType == event.TypeCustom {
		name, err := event.NormalizeName(t.EventName)
		if err != nil || name != e.Name {
			return false
		}
	}
	for _, pred := range t.Attributes {
		attr, ok := e.Attribute(pred.Name)
		if !ok || !m.evaluate(pred, attr.Value) {
			return false
		}
	}
	return true
}

// CampaignMatches returns the first event in events that satisfies any trigger of c.
func (m *Matcher) CampaignMatches(c campaign.Campaign, events []*event.Event, skip func(*event.Event) bool) (*event.Event, bool) {
	for _, t := range c.Triggers {
		for _, e := range events {
			if skip != nil && skip(e) {
				continue
			}
			if m.TriggerMatches(t, e) {
				return e, true
			}
		}
	}
	return nil, false
}

func (m *Matcher) evaluate(pred campaign.TriggerAttribute, actual string) bool {
	switch pred.Operator {
	case campaign.OpIsBlank:
		return strings.TrimSpace(actual) == ""
	case campaign.OpIsNotBlank:
		return strings.TrimSpace(actual) != ""
	case campaign.OpMatchesRegex:
		re := m.compile(pred.Value)
		return re != nil && re.MatchString(actual)
	case campaign.OpDoesNotMatchRegex:
		re := m.compile(pred.Value)
		return re != nil && !re.MatchString(actual)
	}

	switch pred.ValueType {
	case event.ValueString:
		return compareStrings(pred.Operator, actual, pred.Value)
	case event.ValueInteger, event.ValueTimeInMillis:
		a, errA := parseInt(actual)
		b, errB := parseInt(pred.Value)
		if errA != nil || errB != nil {
			return false
		}
		return compareOrdered(pred.Operator, a, b)
	case event.ValueDouble:
		a, errA := strconv.ParseFloat(strings.TrimSpace(actual), 64)
		b, errB := strconv.ParseFloat(strings.TrimSpace(pred.Value), 64)
		if errA != nil || errB != nil {
			return false
		}
		return compareFloats(pred.Operator, a, b)
	case event.ValueBoolean:
		a, errA := strconv.ParseBool(strings.TrimSpace(actual))
		b, errB := strconv.ParseBool(strings.TrimSpace(pred.Value))
		if errA != nil || errB != nil {
			return false
		}
		switch pred.Operator {
		case campaign.OpEquals:
			return a == b
		case campaign.OpDoesNotEqual:
			return a != b
		}
	}
	return false
}

func (m *Matcher) compile(pattern string) *regexp.Regexp {
	if v, ok := m.patterns.Load(pattern); ok {
		return v.(*regexp.Regexp)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		re = nil
	}
	m.patterns.Store(pattern, re)
	return re
}

// parseInt accepts integral floats ("3.0") as well.
func parseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, strconv.ErrSyntax
	}
	return int64(f), nil
}

func compareStrings(op campaign.Operator, a, b string) bool {
	switch op {
	case campaign.OpEquals:
		return a == b
	case campaign.OpDoesNotEqual:
		return a != b
	}
	return false
}

func compareOrdered(op campaign.Operator, a, b int64) bool {
	switch op {
	case campaign.OpEquals:
		return a == b
	case campaign.OpDoesNotEqual:
		return a != b
	case campaign.OpGreaterThan:
		return a > b
	case campaign.OpLessThan:
		return a < b
	}
	return false
}

func compareFloats(op campaign.Operator, a, b float64) bool {
	eq := math.Abs(a-b) < floatTolerance
	switch op {
	case campaign.OpEquals:
		return eq
	case campaign.OpDoesNotEqual:
		return !eq
	case campaign.OpGreaterThan:
		return a > b && !eq
	case campaign.OpLessThan:
		return a < b && !eq
	}
	return false
}
