// Package envelope implements the two-frame request/reply wire format
// exchanged over the proxy. Frame 0 is the topic, frame 1 a JSON object.
// The field sets are fixed for interoperability with non-Go peers: empty
// strings are serialized, never omitted.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

var ErrMalformedPayload = errors.New("envelope: malformed json payload")

// FieldError reports a required payload field that is absent or carries
// the wrong type.
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("envelope: missing or invalid field %q", e.Field)
}

// Request is one parsed intent envelope.
type Request struct {
	Topic     string
	RequestID string
	ReplyTo   string
	Intent    string
	Timestamp float64
}

// Reply is one outgoing result envelope. Content is set only on success,
// Error only on failure. A child that legitimately writes nothing still
// yields a success reply with empty content.
type Reply struct {
	ReplyTo   string
	RequestID string
	Status    string
	Content   string
	Error     string
	Timestamp float64
}

type replyPayload struct {
	RequestID string  `json:"request_id"`
	Status    string  `json:"status"`
	Content   string  `json:"content"`
	Error     string  `json:"error"`
	Timestamp float64 `json:"timestamp"`
}

// ParseRequest decodes a two-frame message into a Request. The topic
// frame is captured verbatim. request_id, reply_to, and intent must be
// present as strings; timestamp is optional.
func ParseRequest(topic, payload []byte) (Request, error) {
	req := Request{Topic: string(topic)}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var err error
	if req.RequestID, err = stringField(fields, "request_id"); err != nil {
		return Request{}, err
	}
	if req.ReplyTo, err = stringField(fields, "reply_to"); err != nil {
		return Request{}, err
	}
	if req.Intent, err = stringField(fields, "intent"); err != nil {
		return Request{}, err
	}
	if ts, ok := fields["timestamp"].(float64); ok {
		req.Timestamp = ts
	}
	return req, nil
}

// ParseReply decodes a two-frame reply message. request_id and status are
// required; content and error default to empty.
func ParseReply(topic, payload []byte) (Reply, error) {
	rep := Reply{ReplyTo: string(topic)}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var err error
	if rep.RequestID, err = stringField(fields, "request_id"); err != nil {
		return Reply{}, err
	}
	if rep.Status, err = stringField(fields, "status"); err != nil {
		return Reply{}, err
	}
	rep.Content, _ = fields["content"].(string)
	rep.Error, _ = fields["error"].(string)
	rep.Timestamp, _ = fields["timestamp"].(float64)
	return rep, nil
}

// SerializeReply renders the two wire frames for a reply. The timestamp
// is stamped here rather than at construction so that queue time between
// enqueue and publish does not skew it.
func SerializeReply(r Reply) (topic, payload []byte, err error) {
	body := replyPayload{
		RequestID: r.RequestID,
		Status:    r.Status,
		Content:   r.Content,
		Error:     r.Error,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	}
	payload, err = json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: serialize reply: %w", err)
	}
	return []byte(r.ReplyTo), payload, nil
}

// SerializeRequest renders the two wire frames for a request, stamping
// the current time.
func SerializeRequest(r Request) (topic, payload []byte, err error) {
	body := map[string]any{
		"request_id": r.RequestID,
		"reply_to":   r.ReplyTo,
		"intent":     r.Intent,
		"timestamp":  float64(time.Now().UnixNano()) / float64(time.Second),
	}
	payload, err = json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: serialize request: %w", err)
	}
	return []byte(r.Topic), payload, nil
}

// NewSuccess builds a success reply carrying the child's stdout.
func NewSuccess(requestID, replyTo, content string) Reply {
	return Reply{ReplyTo: replyTo, RequestID: requestID, Status: StatusSuccess, Content: content}
}

// NewError builds an error reply with a human-readable diagnostic.
func NewError(requestID, replyTo, diagnostic string) Reply {
	return Reply{ReplyTo: replyTo, RequestID: requestID, Status: StatusError, Error: diagnostic}
}

// IntentInput is the child-facing payload extracted from an intent, plus
// an optional skill hint. Intents may be plain text or a JSON object with
// any subset of task, data, and skill.
type IntentInput struct {
	Input string
	Hint  string
}

// ExtractIntent resolves the execution input for an intent: data wins
// over task, and a plain-text intent is used as-is.
func ExtractIntent(intent string) IntentInput {
	out := IntentInput{Input: intent}

	var obj struct {
		Task  *string `json:"task"`
		Data  *string `json:"data"`
		Skill *string `json:"skill"`
	}
	if err := json.Unmarshal([]byte(intent), &obj); err != nil {
		return out
	}
	if obj.Data != nil {
		out.Input = *obj.Data
	} else if obj.Task != nil {
		out.Input = *obj.Task
	}
	if obj.Skill != nil {
		out.Hint = *obj.Skill
	}
	return out
}

func stringField(fields map[string]any, name string) (string, error) {
	v, ok := fields[name]
	if !ok {
		return "", &FieldError{Field: name}
	}
	s, ok := v.(string)
	if !ok {
		return "", &FieldError{Field: name}
	}
	return s, nil
}
