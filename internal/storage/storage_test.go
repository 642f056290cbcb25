package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inapp-messaging/internal/campaign"
	"inapp-messaging/internal/event"
	"inapp-messaging/internal/remote"
)

const fixtureYAML = `
campaigns:
  - campaignId: c1
    type: 1
    maxImpressions: 2
    hasNoEndDate: true
    triggers:
      - type: 1
        eventType: 4
        eventName: level_up
        attributes:
          - name: level
            value: "5"
            type: 2
            operator: 1
    messagePayload:
      title: "[home] Hi"
    customJson:
      clickableImage:
        url: app://x
  - campaignId: c2
    type: 99
    triggers:
      - type: 1
        eventType: 1
`

func TestParseFixture(t *testing.T) {
	got, err := ParseFixture([]byte(fixtureYAML))
	require.NoError(t, err)
	require.Len(t, got, 2)

	c1 := got[0]
	assert.Equal(t, "c1", c1.ID)
	assert.Equal(t, campaign.TypeModal, c1.Type)
	assert.Equal(t, 2, c1.MaxImpressions)
	require.Len(t, c1.Triggers, 1)
	assert.Equal(t, event.TypeCustom, c1.Triggers[0].EventType)
	assert.Equal(t, campaign.OpEquals, c1.Triggers[0].Attributes[0].Operator)
	assert.Equal(t, event.ValueInteger, c1.Triggers[0].Attributes[0].ValueType)
	assert.Equal(t, []string{"home"}, campaign.New(c1).Contexts())
	assert.Equal(t, "app://x", campaign.New(c1).Extensions().ClickableImage.URL)

	assert.Equal(t, campaign.TypeInvalid, got[1].Type, "unknown type id")
}

func TestParseFixture_Invalid(t *testing.T) {
	_, err := ParseFixture([]byte("campaigns: [\n"))
	assert.Error(t, err)
}

func TestFixtureStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaigns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixtureYAML), 0o600))

	got, err := FixtureStore{Path: path}.LoadActiveCampaigns(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = FixtureStore{Path: filepath.Join(t.TempDir(), "missing.yaml")}.LoadActiveCampaigns(context.Background())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = FixtureStore{Path: path}.LoadActiveCampaigns(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShippedFixture(t *testing.T) {
	got, err := LoadFixture(filepath.Join("..", "..", "configs", "campaigns.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, got)
	for _, d := range got {
		assert.NotEmpty(t, d.ID)
		assert.NotEmpty(t, d.Triggers, d.ID)
	}
}

func TestCache(t *testing.T) {
	c := NewCache()
	c.UpdateCampaigns([]campaign.Data{{ID: "a"}, {ID: "b"}})

	d, ok := c.Find("b")
	require.True(t, ok)
	assert.Equal(t, "b", d.ID)
	_, ok = c.Find("z")
	assert.False(t, ok)

	got := c.GetCampaigns()
	got[0].ID = "mutated"
	assert.Equal(t, "a", c.GetCampaigns()[0].ID, "callers get a copy")

	require.NoError(t, c.RecordImpressions(context.Background(), remote.ImpressionRequest{
		CampaignID:  "a",
		Impressions: []remote.Impression{{Type: remote.ImpressionShown}, {Type: remote.ImpressionShown}},
	}))
	assert.Equal(t, 2, c.Tally("a", remote.ImpressionShown))
	assert.Equal(t, 0, c.Tally("b", remote.ImpressionShown))
}
