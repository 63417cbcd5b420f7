// ABOUTME: JSON-RPC 2.0 envelope covering requests, responses and notifications
// ABOUTME: Encode/Decode/Classify plus constructors for each message kind

package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the only accepted value of the jsonrpc member.
const Version = "2.0"

// Kind classifies a decoded envelope.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindResponse
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// Message is a single JSON-RPC 2.0 envelope.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`

	// nullID is set when a response carries an explicit "id": null, which
	// happens for errors raised before the request id could be read.
	nullID bool
}

// wireMessage mirrors Message with a raw id so null and absent can be told apart.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

var nullLiteral = []byte("null")

// MarshalJSON implements json.Marshaler. Error responses without an id are
// written with "id": null as JSON-RPC requires.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		JSONRPC: m.JSONRPC,
		Method:  m.Method,
		Params:  m.Params,
		Result:  m.Result,
		Error:   m.Error,
	}
	if w.JSONRPC == "" {
		w.JSONRPC = Version
	}
	switch {
	case m.ID != nil:
		raw, err := m.ID.MarshalJSON()
		if err != nil {
			return nil, err
		}
		w.ID = raw
	case m.nullID || m.Error != nil || m.Result != nil:
		w.ID = nullLiteral
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Message{
		JSONRPC: w.JSONRPC,
		Method:  w.Method,
		Params:  w.Params,
		Result:  w.Result,
		Error:   w.Error,
	}
	if len(w.ID) > 0 {
		if bytes.Equal(bytes.TrimSpace(w.ID), nullLiteral) {
			m.nullID = true
			return nil
		}
		var id ID
		if err := id.UnmarshalJSON(w.ID); err != nil {
			return err
		}
		m.ID = &id
	}
	return nil
}

// HasNullID reports whether the envelope carried an explicit null id.
func (m *Message) HasNullID() bool { return m.nullID }

// Kind returns the classification of the message.
func (m *Message) Kind() Kind { return Classify(m) }

// IsRequest reports whether the message expects a response.
func (m *Message) IsRequest() bool { return Classify(m) == KindRequest }

// IsNotification reports whether the message must not be answered.
func (m *Message) IsNotification() bool { return Classify(m) == KindNotification }

// IsResponse reports whether the message answers a request.
func (m *Message) IsResponse() bool { return Classify(m) == KindResponse }

// NewRequest builds a request. params may be nil, a json.RawMessage or any
// value that marshals to JSON.
func NewRequest(id ID, method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, ID: &id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification.
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResult builds a successful response.
func NewResult(id *ID, result any) (*Message, error) {
	var raw json.RawMessage
	switch v := result.(type) {
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshaling result: %w", err)
		}
		raw = b
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	return &Message{JSONRPC: Version, ID: copyID(id), Result: raw, nullID: id == nil}, nil
}

// NewError builds an error response. A nil id is written as null.
func NewError(id *ID, errObj *ErrorObject) *Message {
	return &Message{JSONRPC: Version, ID: copyID(id), Error: errObj, nullID: id == nil}
}

func copyID(id *ID) *ID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

func marshalParams(params any) (json.RawMessage, error) {
	switch v := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshaling params: %w", err)
		}
		return b, nil
	}
}

// Encode serializes a message.
func Encode(m *Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil message")
	}
	return json.Marshal(m)
}

// Decode parses a single envelope. Any failure is reported as a ParseError;
// structural problems are left to Validate so the id can be preserved.
func Decode(data []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ParseError("empty message")
	}
	if trimmed[0] != '{' {
		return nil, ParseError("message must be a JSON object")
	}
	var m Message
	if err := json.Unmarshal(trimmed, &m); err != nil {
		if errors.Is(err, ErrInvalidID) {
			return nil, InvalidRequest(err.Error())
		}
		return nil, ParseError(err.Error())
	}
	return &m, nil
}

// Classify determines whether m is a request, response or notification.
func Classify(m *Message) Kind {
	if m == nil || m.JSONRPC != Version {
		return KindInvalid
	}
	hasResult := m.Result != nil
	hasError := m.Error != nil
	if m.Method != "" {
		if hasResult || hasError {
			return KindInvalid
		}
		if m.ID != nil {
			return KindRequest
		}
		if m.nullID {
			return KindInvalid
		}
		return KindNotification
	}
	if m.ID == nil && !m.nullID {
		return KindInvalid
	}
	if hasResult == hasError {
		return KindInvalid
	}
	return KindResponse
}

// Validate returns an InvalidRequest error object when m is not a well-formed
// envelope, or nil.
func Validate(m *Message) *ErrorObject {
	if m == nil {
		return InvalidRequest("empty envelope")
	}
	if m.JSONRPC != Version {
		return InvalidRequest(fmt.Sprintf("jsonrpc must be %q", Version))
	}
	if Classify(m) == KindInvalid {
		return InvalidRequest("envelope is neither request, response nor notification")
	}
	return nil
}
