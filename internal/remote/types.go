package remote

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"inapp-messaging/internal/campaign"
)

// PlatformAndroid is the platform id reported to the backend.
const PlatformAndroid = 1

// IDType tags a user identifier.
type IDType int

const (
	IDTypeInvalid       IDType = 0
	IDTypeIDTracking    IDType = 2
	IDTypeUserID        IDType = 3
	IDTypeAdvertisingID IDType = 4
)

type UserIdentifier struct {
	ID   string `json:"id"`
	Type IDType `json:"type"`
}

// ConfigRequest is sent as query parameters to the config endpoint.
type ConfigRequest struct {
	Platform   int
	AppID      string
	SDKVersion string
	AppVersion string
	Locale     string
}

type Endpoints struct {
	Ping              string `json:"ping"`
	Impression        string `json:"impression"`
	DisplayPermission string `json:"displayPermission"`
}

type ConfigData struct {
	Endpoints         Endpoints `json:"endpoints"`
	RolloutPercentage int       `json:"rolloutPercentage"`
}

type ConfigResponse struct {
	Data ConfigData `json:"data"`
}

type PingRequest struct {
	AppVersion      string           `json:"appVersion"`
	UserIdentifiers []UserIdentifier `json:"userIdentifiers"`
}

type PingCampaign struct {
	CampaignData campaign.Data `json:"campaignData"`
}

type PingResponse struct {
	Data              []PingCampaign `json:"data"`
	NextPingMillis    int64          `json:"nextPingMillis"`
	CurrentPingMillis int64          `json:"currentPingMillis"`
}

// UnmarshalJSON decodes each campaign on its own so a malformed entry is
// dropped and logged without losing the rest of the sync.
func (r *PingResponse) UnmarshalJSON(b []byte) error {
	var raw struct {
		Data              []json.RawMessage `json:"data"`
		NextPingMillis    int64             `json:"nextPingMillis"`
		CurrentPingMillis int64             `json:"currentPingMillis"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.NextPingMillis = raw.NextPingMillis
	r.CurrentPingMillis = raw.CurrentPingMillis
	r.Data = make([]PingCampaign, 0, len(raw.Data))
	for i, d := range raw.Data {
		var pc PingCampaign
		if err := json.Unmarshal(d, &pc); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("dropping malformed campaign from ping response")
			continue
		}
		r.Data = append(r.Data, pc)
	}
	return nil
}

// Campaigns flattens the response payload.
func (r PingResponse) Campaigns() []campaign.Data {
	out := make([]campaign.Data, 0, len(r.Data))
	for _, d := range r.Data {
		out = append(out, d.CampaignData)
	}
	return out
}

type DisplayPermissionRequest struct {
	CampaignID       string           `json:"campaignId"`
	AppVersion       string           `json:"appVersion"`
	SDKVersion       string           `json:"sdkVersion"`
	Locale           string           `json:"locale"`
	LastPingInMillis int64            `json:"lastPingInMillis"`
	UserIdentifiers  []UserIdentifier `json:"userIdentifier"`
	Platform         int              `json:"platform"`
}

type DisplayPermissionResponse struct {
	Display     bool `json:"display"`
	PerformPing bool `json:"performPing"`
}

// ImpressionType identifies a recorded interaction.
type ImpressionType int

const (
	ImpressionInvalid ImpressionType = iota
	ImpressionShown
	ImpressionActionOne
	ImpressionActionTwo
	ImpressionExit
	ImpressionClickContent
	ImpressionOptOut
)

type Impression struct {
	Type      ImpressionType `json:"type"`
	Timestamp int64          `json:"timestamp"`
}

type ImpressionRequest struct {
	CampaignID      string           `json:"campaignId"`
	IsTest          bool             `json:"isTest"`
	AppVersion      string           `json:"appVersion"`
	SDKVersion      string           `json:"sdkVersion"`
	UserIdentifiers []UserIdentifier `json:"userIdentifiers"`
	Impressions     []Impression     `json:"impressions"`
}

// Credentials are sent as headers on every backend call.
type Credentials struct {
	SubscriptionKey string
	DeviceID        string
	AccessToken     string
}

const (
	HeaderSubscriptionID = "Subscription-Id"
	HeaderDeviceID       = "Device-Id"
	HeaderAuthorization  = "Authorization"
)

func (c Credentials) headers() map[string]string {
	h := map[string]string{}
	if c.SubscriptionKey != "" {
		h[HeaderSubscriptionID] = c.SubscriptionKey
	}
	if c.DeviceID != "" {
		h[HeaderDeviceID] = c.DeviceID
	}
	if c.AccessToken != "" {
		h[HeaderAuthorization] = "Bearer " + c.AccessToken
	}
	return h
}
