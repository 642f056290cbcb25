package campaign

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// Type is the presentation style of a campaign.
type Type int

const (
	TypeInvalid Type = iota
	TypeModal
	TypeFull
	TypeSlide
	TypeHTML
	TypeTooltip
)

// TypeByID returns TypeInvalid for unknown ids.
func TypeByID(id int) Type {
	if id <= 0 || id > int(TypeTooltip) {
		return TypeInvalid
	}
	return Type(id)
}

func (t *Type) UnmarshalJSON(b []byte) error {
	var id int
	if err := json.Unmarshal(b, &id); err != nil {
		*t = TypeInvalid
		return nil
	}
	*t = TypeByID(id)
	return nil
}

// ButtonAction is what a button or content click does.
type ButtonAction int

const (
	ActionInvalid ButtonAction = iota
	ActionRedirect
	ActionDeeplink
	ActionClose
	ActionPushPrimer
)

func (a *ButtonAction) UnmarshalJSON(b []byte) error {
	var id int
	if err := json.Unmarshal(b, &id); err != nil || id <= 0 || id > int(ActionPushPrimer) {
		*a = ActionInvalid
		return nil
	}
	*a = ButtonAction(id)
	return nil
}

type OnClickBehavior struct {
	Action ButtonAction `json:"action"`
	URI    string       `json:"uri,omitempty"`
}

type Button struct {
	Text            string          `json:"buttonText"`
	TextColor       string          `json:"buttonTextColor,omitempty"`
	BackgroundColor string          `json:"buttonBackgroundColor,omitempty"`
	Behavior        OnClickBehavior `json:"buttonBehavior"`
	Trigger         *Trigger        `json:"campaignTrigger,omitempty"`
}

type Content struct {
	OnClick OnClickBehavior `json:"onClickBehavior"`
	Trigger *Trigger        `json:"campaignTrigger,omitempty"`
}

type DisplaySettings struct {
	Orientation   int   `json:"orientation,omitempty"`
	Slide         int   `json:"slideFrom,omitempty"`
	EndTimeMillis int64 `json:"endTimeMillis"`
	TextAlign     int   `json:"textAlign,omitempty"`
	OptOut        bool  `json:"optOut"`
	HTML          bool  `json:"html,omitempty"`
	DelayMillis   int   `json:"delay,omitempty"`
}

type ControlSettings struct {
	Buttons []Button `json:"buttons,omitempty"`
	Content *Content `json:"content,omitempty"`
}

type MessageSettings struct {
	Display DisplaySettings `json:"displaySettings"`
	Control ControlSettings `json:"controlSettings"`
}

type Resource struct {
	ImageURL string `json:"imageUrl,omitempty"`
	CropType int    `json:"cropType,omitempty"`
}

// Payload is the UI-agnostic display data of a campaign.
type Payload struct {
	Title            string          `json:"title"`
	Header           string          `json:"header,omitempty"`
	HeaderColor      string          `json:"headerColor,omitempty"`
	MessageBody      string          `json:"messageBody,omitempty"`
	MessageBodyColor string          `json:"messageBodyColor,omitempty"`
	TitleColor       string          `json:"titleColor,omitempty"`
	BackgroundColor  string          `json:"backgroundColor,omitempty"`
	FrameColor       string          `json:"frameColor,omitempty"`
	Resource         Resource        `json:"resource"`
	Settings         MessageSettings `json:"messageSettings"`
}

// Data is a campaign as delivered by the ping endpoint.
type Data struct {
	ID                  string          `json:"campaignId"`
	Type                Type            `json:"type"`
	MaxImpressions      int             `json:"maxImpressions"`
	IsTest              bool            `json:"isTest"`
	InfiniteImpressions bool            `json:"infiniteImpressions"`
	HasNoEndDate        bool            `json:"hasNoEndDate"`
	IsDismissable       bool            `json:"isCampaignDismissable"`
	Triggers            []Trigger       `json:"triggers"`
	Payload             Payload         `json:"messagePayload"`
	CustomJSON          json.RawMessage `json:"customJson,omitempty"`
}

// Campaign is a read snapshot of a synced campaign together with its local state.
// Mutations go through repository.CampaignRepository.
type Campaign struct {
	Data
	ImpressionsLeft int
	IsOptedOut      bool
	TimesClosed     int
}

// New returns a campaign with fresh local state.
func New(d Data) Campaign {
	return Campaign{Data: d, ImpressionsLeft: d.MaxImpressions}
}

// EndTime is the display deadline; zero when the campaign has no end date.
func (c Campaign) EndTime() time.Time {
	if c.HasNoEndDate || c.Payload.Settings.Display.EndTimeMillis == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.Payload.Settings.Display.EndTimeMillis)
}

// Expired reports whether the end time has passed at now.
func (c Campaign) Expired(now time.Time) bool {
	if c.HasNoEndDate {
		return false
	}
	end := c.EndTime()
	return !end.IsZero() && !now.Before(end)
}

// HasImpressionsLeft accounts for infinite campaigns.
func (c Campaign) HasImpressionsLeft() bool {
	return c.InfiniteImpressions || c.ImpressionsLeft > 0
}

var contextTag = regexp.MustCompile(`\[([^\[\]]*)\]`)

// Contexts returns the bracket tags of the title, e.g. "[ctx] Title" yields ["ctx"].
func (c Campaign) Contexts() []string {
	return ParseContexts(c.Payload.Title)
}

func ParseContexts(title string) []string {
	var out []string
	for _, m := range contextTag.FindAllStringSubmatch(title, -1) {
		if s := strings.TrimSpace(m[1]); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Extensions decodes the custom JSON block; malformed fields are dropped.
func (c Campaign) Extensions() Extensions {
	return ParseExtensions(c.CustomJSON)
}
