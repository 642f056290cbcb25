package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inapp-messaging/internal/campaign"
	"inapp-messaging/internal/event"
	"inapp-messaging/internal/repository"
)

func trigger(t event.Type, name string, attrs ...campaign.TriggerAttribute) campaign.Trigger {
	return campaign.Trigger{Type: campaign.TriggerEvent, EventType: t, EventName: name, Attributes: attrs}
}

func camp(id string, triggers ...campaign.Trigger) campaign.Data {
	return campaign.Data{ID: id, MaxImpressions: 1, HasNoEndDate: true, Triggers: triggers}
}

type fixture struct {
	events    *repository.EventRepository
	campaigns *repository.CampaignRepository
	queue     *repository.ReadyQueue
	engine    *Engine
}

func newFixture(t *testing.T, data ...campaign.Data) *fixture {
	t.Helper()
	f := &fixture{
		events:    repository.NewEventRepository(0),
		campaigns: repository.NewCampaignRepository(nil),
		queue:     repository.NewReadyQueue(),
	}
	f.campaigns.Sync(data, time.Now())
	f.engine = New(f.events, f.campaigns, f.queue)
	return f
}

func TestMatcher_Operators(t *testing.T) {
	m := NewMatcher()
	ev, err := event.NewCustom("checkout")
	require.NoError(t, err)
	require.NoError(t, ev.AddString("tier", "Gold"))
	require.NoError(t, ev.AddInt("total", 120))
	require.NoError(t, ev.AddDouble("ratio", 0.25))
	require.NoError(t, ev.AddBool("member", true))
	require.NoError(t, ev.AddString("note", "  "))
	require.NoError(t, ev.AddString("sku", "ABC-123"))

	attr := func(name, value string, vt event.ValueType, op campaign.Operator) campaign.TriggerAttribute {
		return campaign.TriggerAttribute{Name: name, Value: value, ValueType: vt, Operator: op}
	}
	tests := []struct {
		name string
		attr campaign.TriggerAttribute
		want bool
	}{
		{"string equals", attr("tier", "Gold", event.ValueString, campaign.OpEquals), true},
		{"string equals is case sensitive", attr("tier", "gold", event.ValueString, campaign.OpEquals), false},
		{"string not equals", attr("tier", "Silver", event.ValueString, campaign.OpDoesNotEqual), true},
		{"string greater unsupported", attr("tier", "A", event.ValueString, campaign.OpGreaterThan), false},
		{"int greater", attr("total", "100", event.ValueInteger, campaign.OpGreaterThan), true},
		{"int less", attr("total", "100", event.ValueInteger, campaign.OpLessThan), false},
		{"int equals float form", attr("total", "120.0", event.ValueInteger, campaign.OpEquals), true},
		{"int coercion failure", attr("tier", "1", event.ValueInteger, campaign.OpGreaterThan), false},
		{"double equals", attr("ratio", "0.25", event.ValueDouble, campaign.OpEquals), true},
		{"double less", attr("ratio", "0.5", event.ValueDouble, campaign.OpLessThan), true},
		{"bool equals", attr("member", "true", event.ValueBoolean, campaign.OpEquals), true},
		{"bool greater unsupported", attr("member", "false", event.ValueBoolean, campaign.OpGreaterThan), false},
		{"blank", attr("note", "", event.ValueString, campaign.OpIsBlank), true},
		{"not blank", attr("tier", "", event.ValueString, campaign.OpIsNotBlank), true},
		{"regex", attr("sku", `^[A-Z]+-\d+$`, event.ValueString, campaign.OpMatchesRegex), true},
		{"regex no match", attr("sku", `^\d+$`, event.ValueString, campaign.OpDoesNotMatchRegex), true},
		{"invalid regex", attr("sku", `([`, event.ValueString, campaign.OpMatchesRegex), false},
		{"invalid regex negated", attr("sku", `([`, event.ValueString, campaign.OpDoesNotMatchRegex), false},
		{"unknown operator", attr("tier", "Gold", event.ValueString, campaign.OpInvalid), false},
		{"unknown value type", attr("tier", "Gold", event.ValueInvalid, campaign.OpEquals), false},
		{"missing attribute", attr("absent", "x", event.ValueString, campaign.OpEquals), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := trigger(event.TypeCustom, "Checkout", tt.attr)
			assert.Equal(t, tt.want, m.TriggerMatches(tr, ev))
		})
	}
}

func TestMatcher_TypeAndName(t *testing.T) {
	m := NewMatcher()
	login := event.NewLoginSuccessful()
	custom, _ := event.NewCustom("promo")

	assert.True(t, m.TriggerMatches(trigger(event.TypeLoginSuccessful, ""), login))
	assert.False(t, m.TriggerMatches(trigger(event.TypePurchaseSuccessful, ""), login))
	assert.True(t, m.TriggerMatches(trigger(event.TypeCustom, "PROMO"), custom))
	assert.False(t, m.TriggerMatches(trigger(event.TypeCustom, "other"), custom))

	invalid := trigger(event.TypeLoginSuccessful, "")
	invalid.Type = campaign.TriggerInvalid
	assert.False(t, m.TriggerMatches(invalid, login), "malformed trigger never matches")
}

func TestEngine_AllOfPerTriggerAnyTriggerPerCampaign(t *testing.T) {
	big := campaign.TriggerAttribute{Name: "total", Value: "100", ValueType: event.ValueInteger, Operator: campaign.OpGreaterThan}
	gold := campaign.TriggerAttribute{Name: "tier", Value: "gold", ValueType: event.ValueString, Operator: campaign.OpEquals}
	f := newFixture(t,
		camp("both", trigger(event.TypeCustom, "checkout", big, gold)),
		camp("either", trigger(event.TypeLoginSuccessful, ""), trigger(event.TypeCustom, "checkout", big)),
	)

	ev, _ := event.NewCustom("checkout")
	_ = ev.AddInt("total", 150)
	_ = ev.AddString("tier", "silver")

	queued := f.engine.LogEvent(ev)
	assert.Equal(t, []string{"either"}, queued)
	assert.Zero(t, f.events.Len(), "matched event consumed")
}

func TestEngine_ConsumesNonPersistentKeepsPersistent(t *testing.T) {
	f := newFixture(t,
		camp("login", trigger(event.TypeLoginSuccessful, "")),
		camp("start", trigger(event.TypeAppStart, "")),
	)

	login := event.NewLoginSuccessful()
	start := event.NewAppStart()
	f.events.Add(login)
	f.events.Add(start)

	queued := f.engine.Reconcile()
	assert.ElementsMatch(t, []string{"login", "start"}, queued)
	assert.Equal(t, []*event.Event{start}, f.events.Snapshot())

	// a campaign synced later can still use the persistent event
	f.campaigns.Sync([]campaign.Data{
		camp("login", trigger(event.TypeLoginSuccessful, "")),
		camp("start", trigger(event.TypeAppStart, "")),
		camp("late", trigger(event.TypeAppStart, "")),
	}, time.Now())
	assert.Equal(t, []string{"late"}, f.engine.Reconcile())
}

func TestEngine_Idempotent(t *testing.T) {
	f := newFixture(t, camp("start", trigger(event.TypeAppStart, "")))
	f.engine.LogEvent(event.NewAppStart())
	before := f.queue.Snapshot()
	require.Equal(t, []string{"start"}, before)

	assert.Empty(t, f.engine.Reconcile())
	assert.Empty(t, f.engine.Reconcile())
	assert.Equal(t, before, f.queue.Snapshot())

	// persistent events do not re-queue after the campaign left the queue
	f.queue.Remove("start")
	assert.Empty(t, f.engine.Reconcile())
	assert.Empty(t, f.queue.Snapshot())
}

func TestEngine_SameEventQueuesMultipleCampaigns(t *testing.T) {
	f := newFixture(t,
		camp("a", trigger(event.TypeLoginSuccessful, "")),
		camp("b", trigger(event.TypeLoginSuccessful, "")),
	)
	var hooked []string
	f.engine.SetQueuedHook(func(ids []string) { hooked = ids })

	f.engine.LogEvent(event.NewLoginSuccessful())
	assert.Equal(t, []string{"a", "b"}, f.queue.Snapshot())
	assert.Equal(t, []string{"a", "b"}, hooked)
	assert.Zero(t, f.events.Len())
}

func TestEngine_SkipsIneligibleCampaigns(t *testing.T) {
	expired := camp("expired", trigger(event.TypeLoginSuccessful, ""))
	expired.HasNoEndDate = false
	expired.Payload.Settings.Display.EndTimeMillis = time.Now().Add(-time.Hour).UnixMilli()
	exhausted := camp("exhausted", trigger(event.TypeLoginSuccessful, ""))
	exhausted.MaxImpressions = 0

	f := newFixture(t, expired, exhausted, camp("optout", trigger(event.TypeLoginSuccessful, "")))
	f.campaigns.OptOut("optout")

	assert.Empty(t, f.engine.LogEvent(event.NewLoginSuccessful()))
	assert.Equal(t, 1, f.events.Len(), "unmatched event stays pending")
}

func TestEngine_Match_Pure(t *testing.T) {
	e := New(repository.NewEventRepository(0), repository.NewCampaignRepository(nil), repository.NewReadyQueue())
	start := event.NewAppStart()
	login := event.NewLoginSuccessful()
	cands := []campaign.Campaign{
		campaign.New(camp("s", trigger(event.TypeAppStart, ""))),
		campaign.New(camp("l", trigger(event.TypeLoginSuccessful, ""))),
	}

	res := e.Match([]*event.Event{start, login}, cands, nil)
	assert.Equal(t, []string{"s", "l"}, res.Matched)
	assert.Equal(t, []*event.Event{login}, res.Consumed)

	res = e.Match([]*event.Event{start}, cands, func(string, *event.Event) bool { return true })
	assert.Empty(t, res.Matched)
}
