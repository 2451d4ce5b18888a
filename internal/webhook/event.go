package webhook

import (
	"encoding/json"
	"fmt"
)

// Type discriminates the provider's terminal job outcomes.
type Type string

const (
	TypeSuccess Type = "avatar_video.success"
	TypeFail    Type = "avatar_video.fail"
)

// Event is one parsed provider callback. Immutable once parsed.
// CallbackID correlates the event back to the originating render job;
// delivery is at-least-once, so the same event may arrive repeatedly.
type Event struct {
	Type         Type   `json:"type"`
	VideoID      string `json:"video_id"`
	CallbackID   string `json:"callback_id"`
	ResultURL    string `json:"result_url,omitempty"`
	GifURL       string `json:"gif_url,omitempty"`
	SharePageURL string `json:"share_page_url,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type envelope struct {
	EventType Type      `json:"event_type"`
	EventData eventData `json:"event_data"`
}

type eventData struct {
	VideoID      string `json:"video_id"`
	CallbackID   string `json:"callback_id"`
	ResultURL    string `json:"result_url"`
	GifURL       string `json:"gif_url"`
	SharePageURL string `json:"share_page_url"`
	ErrorMessage string `json:"error_message"`
}

// Parse decodes and structurally validates a raw webhook body.
// Required fields depend on the event type: success events must carry
// video_id and result_url, failure events video_id and error_message.
func Parse(body []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("invalid request body")
	}

	switch env.EventType {
	case TypeSuccess, TypeFail:
	case "":
		return nil, fmt.Errorf("missing field: event_type")
	default:
		return nil, fmt.Errorf("unknown event_type: %s", env.EventType)
	}

	d := env.EventData
	if d.VideoID == "" {
		return nil, fmt.Errorf("missing field: video_id")
	}
	if env.EventType == TypeSuccess && d.ResultURL == "" {
		return nil, fmt.Errorf("missing field: result_url")
	}
	if env.EventType == TypeFail && d.ErrorMessage == "" {
		return nil, fmt.Errorf("missing field: error_message")
	}

	return &Event{
		Type:         env.EventType,
		VideoID:      d.VideoID,
		CallbackID:   d.CallbackID,
		ResultURL:    d.ResultURL,
		GifURL:       d.GifURL,
		SharePageURL: d.SharePageURL,
		ErrorMessage: d.ErrorMessage,
	}, nil
}
