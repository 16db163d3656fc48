package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const Version = "2.0"

// Message is one JSON-RPC 2.0 object: request, response or notification.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Codes used for errors nodectl synthesises itself.
const (
	CodeInvalidRequest = -32600
	CodeInternal       = -32603
	CodeTimeout        = -32000
	CodeCancelled      = -32001
)

// NewRequest builds a request with params marshalled from v.
func NewRequest(id any, method string, params any) (Message, error) {
	msg := Message{JSONRPC: Version, Method: method}
	if id != nil {
		raw, err := json.Marshal(id)
		if err != nil {
			return Message{}, fmt.Errorf("%w: id: %v", ErrInvalidRequest, err)
		}
		msg.ID = raw
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return Message{}, fmt.Errorf("%w: params: %v", ErrInvalidRequest, err)
		}
		msg.Params = raw
	}
	return msg, nil
}

// IsNotification reports whether the message carries no id.
func (m Message) IsNotification() bool {
	id := bytes.TrimSpace(m.ID)
	return len(id) == 0 || bytes.Equal(id, []byte("null"))
}

// ErrorResponse builds a response carrying err for the request id.
func ErrorResponse(id json.RawMessage, code int, err error) Message {
	return Message{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: err.Error()},
	}
}

func encodeID(id uint64) json.RawMessage {
	return json.RawMessage(strconv.FormatUint(id, 10))
}

func decodeID(raw json.RawMessage) (uint64, bool) {
	id, err := strconv.ParseUint(string(bytes.TrimSpace(raw)), 10, 64)
	return id, err == nil
}
