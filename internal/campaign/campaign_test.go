package campaign

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inapp-messaging/internal/event"
)

const sampleJSON = `{
  "campaignId": "c-1",
  "type": 1,
  "maxImpressions": 3,
  "isTest": false,
  "hasNoEndDate": false,
  "isCampaignDismissable": true,
  "triggers": [
    {"type": 1, "eventType": 4, "eventName": "checkout",
     "attributes": [{"name": "total", "value": "100", "type": 2, "operator": 3}]}
  ],
  "messagePayload": {
    "title": "[home][promo] Big sale",
    "messageBody": "Everything 50% off",
    "resource": {"imageUrl": "https://img.example.com/a.png"},
    "messageSettings": {
      "displaySettings": {"endTimeMillis": 1893456000000, "optOut": true},
      "controlSettings": {
        "buttons": [{"buttonText": "Go", "buttonBehavior": {"action": 1, "uri": "https://example.com"},
                     "campaignTrigger": {"type": 1, "eventType": 4, "eventName": "clicked_go"}}]
      }
    }
  },
  "customJson": {"clickableImage": {"url": "https://example.com/x"}, "background": {"opacity": 7}}
}`

func TestData_RoundTrip(t *testing.T) {
	var d Data
	require.NoError(t, json.Unmarshal([]byte(sampleJSON), &d))

	b, err := json.Marshal(d)
	require.NoError(t, err)
	var again Data
	require.NoError(t, json.Unmarshal(b, &again))

	assert.Equal(t, d.ID, again.ID)
	assert.Equal(t, d.MaxImpressions, again.MaxImpressions)
	assert.Equal(t, d.Triggers, again.Triggers)
	assert.Equal(t, d.Payload, again.Payload)

	require.Len(t, d.Triggers, 1)
	assert.Equal(t, event.TypeCustom, d.Triggers[0].EventType)
	assert.Equal(t, OpGreaterThan, d.Triggers[0].Attributes[0].Operator)
	assert.Equal(t, event.ValueInteger, d.Triggers[0].Attributes[0].ValueType)
}

func TestTrigger_UnknownIDs(t *testing.T) {
	var tr Trigger
	require.NoError(t, json.Unmarshal([]byte(`{"type":9,"eventType":77,"eventName":"x",
		"attributes":[{"name":"a","value":"b","type":42,"operator":99}]}`), &tr))
	assert.Equal(t, TriggerInvalid, tr.Type)
	assert.Equal(t, event.TypeInvalid, tr.EventType)
	assert.Equal(t, OpInvalid, tr.Attributes[0].Operator)
	assert.Equal(t, event.ValueInvalid, tr.Attributes[0].ValueType)
}

func TestTrigger_MalformedNeverMatches(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"attribute value is a number", `{"type":1,"eventType":4,"eventName":"level","attributes":[{"name":"level","value":5,"type":2,"operator":1}]}`},
		{"event type is a string", `{"type":1,"eventType":"x","eventName":"level"}`},
		{"not an object", `"app_start"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tr Trigger
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &tr))
			assert.Equal(t, TriggerInvalid, tr.Type)
			assert.Equal(t, event.TypeInvalid, tr.EventType)
			assert.Empty(t, tr.Attributes)
		})
	}

	var d Data
	require.NoError(t, json.Unmarshal([]byte(`{"campaignId":"c","triggers":[
		{"type":1,"eventType":1,"eventName":"app_start"},
		{"type":1,"eventType":"x"}]}`), &d))
	require.Len(t, d.Triggers, 2)
	assert.Equal(t, TriggerEvent, d.Triggers[0].Type)
	assert.Equal(t, TriggerInvalid, d.Triggers[1].Type)
}

func TestCampaign_State(t *testing.T) {
	var d Data
	require.NoError(t, json.Unmarshal([]byte(sampleJSON), &d))
	c := New(d)

	assert.Equal(t, 3, c.ImpressionsLeft)
	assert.True(t, c.HasImpressionsLeft())
	assert.Equal(t, []string{"home", "promo"}, c.Contexts())
	assert.False(t, c.Expired(time.UnixMilli(1893455999999)))
	assert.True(t, c.Expired(time.UnixMilli(1893456000000)))

	c.HasNoEndDate = true
	assert.False(t, c.Expired(time.UnixMilli(1993456000000)))

	c.ImpressionsLeft = 0
	assert.False(t, c.HasImpressionsLeft())
	c.InfiniteImpressions = true
	assert.True(t, c.HasImpressionsLeft())
}

func TestExtensions_DegradePerBlock(t *testing.T) {
	var d Data
	require.NoError(t, json.Unmarshal([]byte(sampleJSON), &d))
	ext := New(d).Extensions()

	require.NotNil(t, ext.ClickableImage)
	assert.Equal(t, "https://example.com/x", ext.ClickableImage.URL)
	assert.Nil(t, ext.Background, "out of range opacity is dropped")
	assert.Nil(t, ext.PushPrimer)

	tests := []struct {
		name string
		raw  string
		want Extensions
	}{
		{"empty", ``, Extensions{Version: 1}},
		{"not an object", `[1,2]`, Extensions{Version: 1}},
		{"future version", `{"version": 2, "pushPrimer": {"button": 1}}`, Extensions{Version: 1}},
		{"bad push primer type", `{"pushPrimer": {"button": "one"}, "background": {"opacity": 0.4}}`,
			Extensions{Version: 1, Background: &Background{Opacity: 0.4}}},
		{"relative url", `{"clickableImage": {"url": "/x"}}`, Extensions{Version: 1}},
		{"push primer", `{"pushPrimer": {"button": 2}}`, Extensions{Version: 1, PushPrimer: &PushPrimer{Button: 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseExtensions(json.RawMessage(tt.raw)))
		})
	}
}

func TestTrigger_FollowUpEvent(t *testing.T) {
	tr := &Trigger{Type: TriggerEvent, EventType: event.TypeCustom, EventName: "Clicked_Go",
		Attributes: []TriggerAttribute{{Name: "Src", Value: "banner"}}}
	e := tr.FollowUpEvent()
	require.NotNil(t, e)
	assert.Equal(t, "clicked_go", e.Name)
	a, ok := e.Attribute("src")
	require.True(t, ok)
	assert.Equal(t, event.ValueString, a.ValueType)

	assert.Nil(t, (&Trigger{EventType: event.TypeLoginSuccessful}).FollowUpEvent())
	var none *Trigger
	assert.Nil(t, none.FollowUpEvent())
}
