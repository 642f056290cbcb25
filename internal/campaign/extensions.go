package campaign

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/rs/zerolog/log"
)

// ExtensionSchemaVersion is the custom JSON layout this package understands.
const ExtensionSchemaVersion = 1

// PushPrimer marks which button acts as a push-permission primer.
type PushPrimer struct {
	Button int `json:"button"`
}

// ClickableImage makes the campaign image open URL on click.
type ClickableImage struct {
	URL string `json:"url"`
}

// Background overrides the backdrop opacity (0..1).
type Background struct {
	Opacity float64 `json:"opacity"`
}

// Extensions holds the optional custom JSON blocks. A nil field means absent.
type Extensions struct {
	Version        int
	PushPrimer     *PushPrimer
	ClickableImage *ClickableImage
	Background     *Background
}

// ParseExtensions decodes each block independently so a single malformed block only
// drops that block.
func ParseExtensions(raw json.RawMessage) Extensions {
	ext := Extensions{Version: ExtensionSchemaVersion}
	if len(raw) == 0 {
		return ext
	}
	var blocks map[string]json.RawMessage
	if err := json.Unmarshal(raw, &blocks); err != nil {
		log.Warn().Err(err).Msg("custom json is not an object; ignoring extensions")
		return ext
	}
	if v, ok := blocks["version"]; ok {
		var version int
		if err := json.Unmarshal(v, &version); err != nil || version > ExtensionSchemaVersion {
			log.Warn().RawJSON("version", v).Msg("unsupported custom json version; ignoring extensions")
			return ext
		}
		if version > 0 {
			ext.Version = version
		}
	}

	if b, ok := blocks["pushPrimer"]; ok {
		var p PushPrimer
		if err := decodeBlock(b, &p); err == nil && p.Button > 0 {
			ext.PushPrimer = &p
		} else {
			logDropped("pushPrimer", err)
		}
	}
	if b, ok := blocks["clickableImage"]; ok {
		var c ClickableImage
		err := decodeBlock(b, &c)
		if err == nil {
			err = validURL(c.URL)
		}
		if err == nil {
			ext.ClickableImage = &c
		} else {
			logDropped("clickableImage", err)
		}
	}
	if b, ok := blocks["background"]; ok {
		var bg Background
		if err := decodeBlock(b, &bg); err == nil && bg.Opacity >= 0 && bg.Opacity <= 1 {
			ext.Background = &bg
		} else {
			logDropped("background", err)
		}
	}
	return ext
}

func decodeBlock(b json.RawMessage, v any) error {
	return json.Unmarshal(b, v)
}

func validURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url %q is not absolute", s)
	}
	return nil
}

func logDropped(block string, err error) {
	ev := log.Warn().Str("block", block)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("malformed custom json block dropped")
}
