package event

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxNameLength bounds event and attribute names.
const MaxNameLength = 255

var (
	ErrEmptyName   = errors.New("event: name must not be empty")
	ErrNameTooLong = fmt.Errorf("event: name exceeds %d characters", MaxNameLength)
)

// Type identifies the kind of a logged event. Ids match the backend trigger ids.
type Type int

const (
	TypeInvalid Type = iota
	TypeAppStart
	TypeLoginSuccessful
	TypePurchaseSuccessful
	TypeCustom
)

var typeNames = [...]string{
	TypeInvalid:            "invalid",
	TypeAppStart:           "app_start",
	TypeLoginSuccessful:    "login_successful",
	TypePurchaseSuccessful: "purchase_successful",
	TypeCustom:             "custom",
}

// TypeByID returns TypeInvalid for unknown ids.
func TypeByID(id int) Type {
	if id <= 0 || id >= len(typeNames) {
		return TypeInvalid
	}
	return Type(id)
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return typeNames[TypeInvalid]
	}
	return typeNames[t]
}

// ValueType describes how an attribute value is interpreted.
type ValueType int

const (
	ValueInvalid ValueType = iota
	ValueString
	ValueInteger
	ValueDouble
	ValueBoolean
	ValueTimeInMillis
)

// ValueTypeByID returns ValueInvalid for unknown ids.
func ValueTypeByID(id int) ValueType {
	if id <= int(ValueInvalid) || id > int(ValueTimeInMillis) {
		return ValueInvalid
	}
	return ValueType(id)
}

// Attribute is a single typed event attribute. Values are kept in their string form.
type Attribute struct {
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	ValueType ValueType `json:"type"`
}

// Event is a locally logged application event.
type Event struct {
	Type         Type
	Name         string
	Timestamp    time.Time
	IsPersistent bool
	Attributes   map[string]Attribute
}

// NormalizeName lowercases and trims name, validating its length in characters.
func NormalizeName(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return "", ErrEmptyName
	}
	if utf8.RuneCountInString(n) > MaxNameLength {
		return "", ErrNameTooLong
	}
	return n, nil
}

func newEvent(t Type, name string, persistent bool) *Event {
	return &Event{
		Type:         t,
		Name:         name,
		Timestamp:    time.Now(),
		IsPersistent: persistent,
		Attributes:   map[string]Attribute{},
	}
}

// NewAppStart returns the persistent app launch event.
func NewAppStart() *Event {
	return newEvent(TypeAppStart, TypeAppStart.String(), true)
}

func NewLoginSuccessful() *Event {
	return newEvent(TypeLoginSuccessful, TypeLoginSuccessful.String(), false)
}

// Purchase attribute names.
const (
	AttrPurchaseAmount = "purchaseamountmicros"
	AttrNumberOfItems  = "numberofitems"
	AttrCurrencyCode   = "currencycode"
	AttrItemIDList     = "itemidlist"
)

// NewPurchaseSuccessful builds a purchase event. Item ids are joined with '|'.
func NewPurchaseSuccessful(amountMicros int64, numberOfItems int, currencyCode string, itemIDs []string) *Event {
	e := newEvent(TypePurchaseSuccessful, TypePurchaseSuccessful.String(), false)
	e.set(AttrPurchaseAmount, strconv.FormatInt(amountMicros, 10), ValueInteger)
	e.set(AttrNumberOfItems, strconv.Itoa(numberOfItems), ValueInteger)
	e.set(AttrCurrencyCode, currencyCode, ValueString)
	e.set(AttrItemIDList, strings.Join(itemIDs, "|"), ValueString)
	return e
}

// NewCustom builds a custom event. Invalid names fail immediately.
func NewCustom(name string) (*Event, error) {
	n, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	return newEvent(TypeCustom, n, false), nil
}

func (e *Event) set(name, value string, vt ValueType) {
	e.Attributes[name] = Attribute{Name: name, Value: value, ValueType: vt}
}

func (e *Event) add(name, value string, vt ValueType) error {
	n, err := NormalizeName(name)
	if err != nil {
		return fmt.Errorf("attribute %q: %w", name, err)
	}
	e.set(n, value, vt)
	return nil
}

func (e *Event) AddString(name, value string) error { return e.add(name, value, ValueString) }

func (e *Event) AddInt(name string, value int64) error {
	return e.add(name, strconv.FormatInt(value, 10), ValueInteger)
}

func (e *Event) AddDouble(name string, value float64) error {
	return e.add(name, strconv.FormatFloat(value, 'f', -1, 64), ValueDouble)
}

func (e *Event) AddBool(name string, value bool) error {
	return e.add(name, strconv.FormatBool(value), ValueBoolean)
}

// AddTime stores t as epoch milliseconds.
func (e *Event) AddTime(name string, t time.Time) error {
	return e.add(name, strconv.FormatInt(t.UnixMilli(), 10), ValueTimeInMillis)
}

// Attribute looks up an attribute by (case-insensitive) name.
func (e *Event) Attribute(name string) (Attribute, bool) {
	a, ok := e.Attributes[strings.ToLower(name)]
	return a, ok
}

// Key identifies the event for trigger lookup.
func (e *Event) Key() string { return e.Type.String() + ":" + e.Name }
