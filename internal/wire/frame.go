// Package wire holds the JSON frame format shared by the gateway WebSocket
// and the protocol bridge link.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
)

const (
	TypeReq   = "req"
	TypeRes   = "res"
	TypeEvent = "event"
)

// Frame is the universal WebSocket message format.
// Three types: "req" (caller→callee), "res" (reply), "event" (push).
type Frame struct {
	Type    string          `json:"type"`              // "req" | "res" | "event"
	ID      string          `json:"id,omitempty"`      // request/response correlation ID
	Method  string          `json:"method,omitempty"`  // for req: method name
	Params  json.RawMessage `json:"params,omitempty"`  // for req: method parameters
	OK      *bool           `json:"ok,omitempty"`      // for res: success flag
	Payload json.RawMessage `json:"payload,omitempty"` // for res/event: data
	Error   *ErrorPayload   `json:"error,omitempty"`   // for res: error details
	Event   string          `json:"event,omitempty"`   // for event: event name
	Seq     uint64          `json:"seq,omitempty"`     // for event: sequence number
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorPayload) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Succeeded reports whether a res frame carries ok=true.
func (f Frame) Succeeded() bool { return f.OK != nil && *f.OK }

// Decode unmarshals the payload of f into v.
func (f Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%s frame has no payload", f.Type)
	}
	return json.Unmarshal(f.Payload, v)
}

// DecodeParams unmarshals the params of a req frame into v.
func (f Frame) DecodeParams(v any) error {
	if len(f.Params) == 0 {
		return fmt.Errorf("%s: missing params", f.Method)
	}
	return json.Unmarshal(f.Params, v)
}

// Helpers to create frames

func Req(id, method string, params any) (Frame, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s params: %w", method, err)
	}
	return Frame{Type: TypeReq, ID: id, Method: method, Params: data}, nil
}

func ResOK(id string, payload any) Frame {
	data, _ := json.Marshal(payload)
	ok := true
	return Frame{Type: TypeRes, ID: id, OK: &ok, Payload: data}
}

func ResErr(id string, code, message string) Frame {
	ok := false
	return Frame{Type: TypeRes, ID: id, OK: &ok, Error: &ErrorPayload{Code: code, Message: message}}
}

func EventFrame(event string, seq uint64, payload any) Frame {
	data, _ := json.Marshal(payload)
	return Frame{Type: TypeEvent, Event: event, Seq: seq, Payload: data}
}

// ReadFrame reads and parses a WebSocket message into a Frame.
func ReadFrame(ws *websocket.Conn) (Frame, error) {
	var frame Frame
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return frame, err
	}
	err = json.Unmarshal(msg, &frame)
	return frame, err
}
