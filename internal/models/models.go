// Package models provides the wire and domain types of the result hub.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Broadcast channel
// =============================================================================

// ErrDecode is returned when a broadcast payload is not a JSON object.
var ErrDecode = errors.New("decode event")

// CommandEcho marks a heartbeat payload.
const CommandEcho = "ECHO"

// Event is a decoded broadcast payload. Raw keeps the full original object so
// detail envelopes can forward fields the hub does not model.
type Event struct {
	ID      string  `json:"_id"`
	Command string  `json:"command,omitempty"`
	Process Process `json:"process"`
	Plugin  Plugin  `json:"plugin"`

	Raw Record `json:"-"`
}

// Process carries the routing and status fields of an event.
type Process struct {
	SessionID string          `json:"session_id"`
	ResultID  string          `json:"result_id,omitempty"`
	ParentID  string          `json:"parent_id,omitempty"`
	Image1ID  string          `json:"image1_id,omitempty"`
	Image2ID  string          `json:"image2_id,omitempty"`
	Status    json.RawMessage `json:"status,omitempty"`
	Repr      string          `json:"repr,omitempty"`
}

// Plugin identifies the pipeline stage that produced an event.
type Plugin struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Version  string `json:"version"`
	DataType string `json:"data_type"`
}

// DecodeEvent parses a broadcast payload. Only a JSON object is required:
// fields of an unexpected type read as empty, so an ill-typed optional field
// never costs the event, and an unusable session_id surfaces as a missing
// routing key.
func DecodeEvent(data []byte) (*Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw Record
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: payload is null", ErrDecode)
	}

	ev := &Event{Raw: raw, Command: textField(raw["command"])}
	if ev.IsHeartbeat() {
		return ev, nil
	}
	ev.ID = textField(raw["_id"])

	process := objectField(raw["process"])
	if session, ok := process["session_id"].(string); ok {
		ev.Process.SessionID = session
	}
	ev.Process.ResultID = textField(process["result_id"])
	ev.Process.ParentID = textField(process["parent_id"])
	ev.Process.Image1ID = textField(process["image1_id"])
	ev.Process.Image2ID = textField(process["image2_id"])
	ev.Process.Repr = textField(process["repr"])
	if status, ok := process["status"]; ok && status != nil {
		if b, err := json.Marshal(status); err == nil {
			ev.Process.Status = b
		}
	}

	plugin := objectField(raw["plugin"])
	ev.Plugin.ID = textField(plugin["id"])
	ev.Plugin.Type = textField(plugin["type"])
	ev.Plugin.Version = textField(plugin["version"])
	ev.Plugin.DataType = textField(plugin["data_type"])

	return ev, nil
}

// textField reads a scalar as text. Strings and numbers are kept; booleans,
// null, objects and arrays read as empty.
func textField(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func objectField(v interface{}) map[string]interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return t
	case Record:
		return t
	default:
		return nil
	}
}

// IsHeartbeat reports whether the event is an ECHO control signal.
func (e *Event) IsHeartbeat() bool {
	return e.Command == CommandEcho
}

// SessionID returns the routing key, empty when upstream omitted it.
func (e *Event) SessionID() string {
	return e.Process.SessionID
}

// Refs returns the related image references of the event.
func (e *Event) Refs() Refs {
	return Refs{Image1ID: e.Process.Image1ID, Image2ID: e.Process.Image2ID}
}

// Refs are foreign ids into the image collection.
type Refs struct {
	Image1ID string
	Image2ID string
}

// Empty reports whether no reference is set.
func (r Refs) Empty() bool {
	return r.Image1ID == "" && r.Image2ID == ""
}

// RefsFromRecord extracts process.image1_id / process.image2_id from a stored
// detail document.
func RefsFromRecord(rec Record) Refs {
	process := objectField(rec["process"])
	return Refs{
		Image1ID: textField(process["image1_id"]),
		Image2ID: textField(process["image2_id"]),
	}
}

// Record is a schema-less document from the document store.
type Record map[string]interface{}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r)+2)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// =============================================================================
// Outbound envelopes
// =============================================================================

// Envelope message types.
const (
	MsgTypeResults       = "results"
	MsgTypeResultDetails = "result_details"
)

// AuthFailureMessage is sent when initialize fails.
const AuthFailureMessage = "Failed to authenticate token."

// Envelope is the outbound unit sent to a client.
type Envelope struct {
	MsgType string      `json:"msg_type,omitempty"`
	Success *bool       `json:"success,omitempty"`
	Message string      `json:"message,omitempty"`
	Results interface{} `json:"results,omitempty"`
}

// Summary is the lightweight per-event record sent in results envelopes.
type Summary struct {
	ID            string          `json:"_id,omitempty"`
	DataType      string          `json:"data_type"`
	ParentID      string          `json:"parent_id,omitempty"`
	PluginID      string          `json:"plugin_id"`
	PluginType    string          `json:"plugin_type"`
	PluginVersion string          `json:"plugin_version"`
	Projects      []string        `json:"projects"`
	Repr          string          `json:"repr,omitempty"`
	ResultID      string          `json:"result_id"`
	SessionID     string          `json:"session_id"`
	Status        json.RawMessage `json:"status,omitempty"`
	Timestamp     string          `json:"timestamp"`
}

// NewSummary builds the summary of ev stamped with now.
func NewSummary(ev *Event, now time.Time) Summary {
	return Summary{
		ID:            ev.Process.ResultID,
		DataType:      strings.ToLower(ev.Plugin.DataType),
		ParentID:      ev.Process.ParentID,
		PluginID:      ev.Plugin.ID,
		PluginType:    strings.ToLower(ev.Plugin.Type),
		PluginVersion: ev.Plugin.Version,
		Projects:      []string{},
		Repr:          ev.Process.Repr,
		ResultID:      ev.ID,
		SessionID:     ev.Process.SessionID,
		Status:        ev.Process.Status,
		Timestamp:     now.UTC().Format(time.RFC3339Nano),
	}
}

func boolPtr(b bool) *bool { return &b }

// ResultsEnvelope wraps a summary list. A nil list is sent as [].
func ResultsEnvelope(results interface{}) Envelope {
	if results == nil {
		results = []interface{}{}
	}
	return Envelope{MsgType: MsgTypeResults, Results: results}
}

// DetailEnvelope wraps a successfully built detail record.
func DetailEnvelope(detail Record) Envelope {
	return Envelope{MsgType: MsgTypeResultDetails, Success: boolPtr(true), Results: detail}
}

// FailureEnvelope reports a failed query to the requesting client only.
func FailureEnvelope(msgType, reason string) Envelope {
	return Envelope{
		MsgType: msgType,
		Success: boolPtr(false),
		Results: map[string]string{"error": reason},
	}
}

// AuthFailureEnvelope is sent when initialize cannot verify the token.
func AuthFailureEnvelope() Envelope {
	return Envelope{Success: boolPtr(false), Message: AuthFailureMessage}
}

// =============================================================================
// Inbound client requests
// =============================================================================

// Request types.
const (
	RequestInitialize       = "initialize"
	RequestSetSession       = "set_session"
	RequestUnsetSession     = "unset_session"
	RequestGetResults       = "get_results"
	RequestUpdateResult     = "update_result"
	RequestGetResultDetails = "get_result_details"
)

// ClientRequest is one inbound message on a client connection.
type ClientRequest struct {
	RequestType   string `json:"request_type"`
	Token         string `json:"token,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	DataType      string `json:"data_type,omitempty"`
	PluginType    string `json:"plugin_type,omitempty"`
	PluginVersion string `json:"plugin_version,omitempty"`
	ResultID      string `json:"result_id,omitempty"`
	Result        Record `json:"result,omitempty"`
}

// SplitDataType splits a "namespace:class" tag. A tag without a colon is all
// namespace.
func SplitDataType(tag string) (namespace, class string) {
	namespace, class, _ = strings.Cut(tag, ":")
	return strings.ToLower(namespace), strings.ToLower(class)
}
