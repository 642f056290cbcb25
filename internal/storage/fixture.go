package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"inapp-messaging/internal/campaign"
)

// FixtureStore serves a campaign catalog from a YAML file, for local runs
// without Postgres. The file is re-read on every load.
type FixtureStore struct {
	Path string
}

func (f FixtureStore) LoadActiveCampaigns(ctx context.Context) ([]campaign.Data, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadFixture(f.Path)
}

// LoadFixture reads a YAML document with a top-level campaigns list. Campaign
// fields use the same names as the ping payload.
func LoadFixture(path string) ([]campaign.Data, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(b)
}

func ParseFixture(b []byte) ([]campaign.Data, error) {
	var doc struct {
		Campaigns []map[string]any `yaml:"campaigns"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	// yaml.v3 decodes nested mappings as map[string]any, which encoding/json
	// accepts, so the catalog goes through the same decoder as a ping response.
	raw, err := json.Marshal(doc.Campaigns)
	if err != nil {
		return nil, fmt.Errorf("convert fixture: %w", err)
	}
	var out []campaign.Data
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return out, nil
}
