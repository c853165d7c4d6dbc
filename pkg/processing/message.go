package processing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NavigationMessage is the payload published by the browser side for every
// committed navigation.
type NavigationMessage struct {
	URL     string `json:"url"`
	Surface string `json:"surface"`
	// FrameID is 0 for the top-level frame. Sub-frame navigations are not
	// scanned.
	FrameID   int64 `json:"frame_id"`
	Timestamp int64 `json:"timestamp"`
}

// ParseNavigationMessage unmarshals the JSON payload into a NavigationMessage.
func ParseNavigationMessage(raw []byte) (NavigationMessage, error) {
	var msg NavigationMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return NavigationMessage{}, fmt.Errorf("unmarshal navigation: %w", err)
	}
	msg.URL = strings.TrimSpace(msg.URL)
	if msg.URL == "" {
		return NavigationMessage{}, errors.New("missing url field")
	}
	if msg.FrameID < 0 {
		return NavigationMessage{}, fmt.Errorf("invalid frame_id %d", msg.FrameID)
	}
	return msg, nil
}

// TopLevel reports whether the navigation happened in the top-level frame.
func (m NavigationMessage) TopLevel() bool {
	return m.FrameID == 0
}

// Time returns the navigation time, or the zero time when none was sent.
func (m NavigationMessage) Time() time.Time {
	if m.Timestamp <= 0 {
		return time.Time{}
	}
	return time.Unix(m.Timestamp, 0).UTC()
}
