// Package relay implements a websocket fan-out hub for benchmark traffic and
// the client used to talk to it.
//
// Endpoints connect to /topics/{topic}?role=publisher|subscriber&id=...
// Binary frames sent by publishers are forwarded to every subscriber of the
// topic. Text frames carry JSON control messages:
//
//	hub -> endpoint   {"op":"match","count":n}     peers of the opposite role
//	pub -> hub        {"op":"flush","token":t}     acknowledgment request
//	hub -> pub        {"op":"flushed","token":t}   prior frames written out
package relay

import (
	"encoding/json"
	"net/url"
	"strings"
)

// DefaultMaxFrameSize bounds a single relayed frame.
const DefaultMaxFrameSize = 64 << 20

// Control operations.
const (
	OpMatch   = "match"
	OpFlush   = "flush"
	OpFlushed = "flushed"
)

// Control is a JSON control frame.
type Control struct {
	Op    string `json:"op"`
	Count int    `json:"count,omitempty"`
	Token uint64 `json:"token,omitempty"`
}

// EncodeControl marshals c.
func EncodeControl(c Control) []byte {
	data, _ := json.Marshal(c)
	return data
}

// DecodeControl parses a control frame.
func DecodeControl(data []byte) (Control, error) {
	var c Control
	err := json.Unmarshal(data, &c)
	return c, err
}

// TopicURL returns the endpoint URL for topic on the relay at base.
func TopicURL(base, topic, role, id string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u = u.JoinPath("topics", topic)
	q := url.Values{}
	q.Set("role", role)
	q.Set("id", id)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
