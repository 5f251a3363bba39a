package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message types sent to clients.
const (
	TypeConnected    = "connected"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypePong         = "pong"
	TypeStatus       = "status"
	TypeItemUpdate   = "item_update"
	TypeTopUpdate    = "top5_update"
	TypeError        = "error"
)

// Actions accepted from clients.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
	ActionStatus      = "status"
)

// Errors returned by ParseClientMessage.
var (
	ErrInvalidJSON      = errors.New("invalid json")
	ErrItemNameRequired = errors.New("item_name required")
)

// UnknownActionError reports an unrecognized client action.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return "Unknown action: " + e.Action
}

// -----------------------------------------------------------------------------
// Server -> client
// -----------------------------------------------------------------------------

// ServerMessage is an envelope sent to clients. The set of implementations is closed.
type ServerMessage interface {
	json.Marshaler
	MessageType() string
}

// Connected acknowledges a registration.
type Connected struct {
	ClientID  string    `json:"client_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscribed acknowledges a subscribe action.
type Subscribed struct {
	ItemName string `json:"item_name"`
	ServerID int    `json:"server_id"`
}

// Unsubscribed acknowledges an unsubscribe action.
type Unsubscribed struct {
	ItemName string `json:"item_name"`
	ServerID int    `json:"server_id"`
}

// Pong answers a ping action.
type Pong struct{}

// Status answers a status action.
type Status struct {
	Info ClientInfo `json:"info"`
}

// ItemUpdate carries fresh data for an item to its subscribers.
type ItemUpdate struct {
	ItemName  string    `json:"item_name"`
	ServerID  int       `json:"server_id"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// TopUpdate carries a fresh top-N dataset to every client.
type TopUpdate struct {
	Data any `json:"data"`
}

// Error reports caller misuse. The connection stays open.
type Error struct {
	Message string `json:"message"`
}

func (Connected) MessageType() string    { return TypeConnected }
func (Subscribed) MessageType() string   { return TypeSubscribed }
func (Unsubscribed) MessageType() string { return TypeUnsubscribed }
func (Pong) MessageType() string         { return TypePong }
func (Status) MessageType() string       { return TypeStatus }
func (ItemUpdate) MessageType() string   { return TypeItemUpdate }
func (TopUpdate) MessageType() string    { return TypeTopUpdate }
func (Error) MessageType() string        { return TypeError }

// The alias types drop the MarshalJSON method so the embedded fields are encoded plainly.

func (m Connected) MarshalJSON() ([]byte, error) {
	type alias Connected
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeConnected, alias(m)})
}

func (m Subscribed) MarshalJSON() ([]byte, error) {
	type alias Subscribed
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeSubscribed, alias(m)})
}

func (m Unsubscribed) MarshalJSON() ([]byte, error) {
	type alias Unsubscribed
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeUnsubscribed, alias(m)})
}

func (m Pong) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{TypePong})
}

func (m Status) MarshalJSON() ([]byte, error) {
	type alias Status
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeStatus, alias(m)})
}

func (m ItemUpdate) MarshalJSON() ([]byte, error) {
	type alias ItemUpdate
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeItemUpdate, alias(m)})
}

func (m TopUpdate) MarshalJSON() ([]byte, error) {
	type alias TopUpdate
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeTopUpdate, alias(m)})
}

func (m Error) MarshalJSON() ([]byte, error) {
	type alias Error
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeError, alias(m)})
}

// Encode serializes an envelope.
func Encode(m ServerMessage) ([]byte, error) {
	data, err := m.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.MessageType(), err)
	}
	return data, nil
}

// -----------------------------------------------------------------------------
// Client -> server
// -----------------------------------------------------------------------------

// ClientMessage is a decoded control message. The set of implementations is closed.
type ClientMessage interface {
	Action() string
}

// SubscribeRequest asks for updates on an item.
type SubscribeRequest struct {
	ItemName string
	ServerID int
}

// UnsubscribeRequest cancels a subscription.
type UnsubscribeRequest struct {
	ItemName string
	ServerID int
}

// PingRequest is a liveness probe.
type PingRequest struct{}

// StatusRequest asks for this connection's registration info.
type StatusRequest struct{}

func (SubscribeRequest) Action() string   { return ActionSubscribe }
func (UnsubscribeRequest) Action() string { return ActionUnsubscribe }
func (PingRequest) Action() string        { return ActionPing }
func (StatusRequest) Action() string      { return ActionStatus }

// wireClientMessage accepts both camelCase and snake_case field names.
type wireClientMessage struct {
	Action        string `json:"action"`
	ItemName      string `json:"itemName"`
	ItemNameSnake string `json:"item_name"`
	ServerID      *int   `json:"serverId"`
	ServerIDSnake *int   `json:"server_id"`
}

func (w wireClientMessage) itemName() string {
	if w.ItemName != "" {
		return w.ItemName
	}
	return w.ItemNameSnake
}

func (w wireClientMessage) serverID() int {
	switch {
	case w.ServerID != nil:
		return *w.ServerID
	case w.ServerIDSnake != nil:
		return *w.ServerIDSnake
	}
	return WildcardServer
}

// ParseClientMessage decodes a raw control message.
// Errors are ErrInvalidJSON, ErrItemNameRequired or *UnknownActionError.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var w wireClientMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, ErrInvalidJSON
	}

	switch w.Action {
	case ActionSubscribe, ActionUnsubscribe:
		name := w.itemName()
		if name == "" {
			return nil, ErrItemNameRequired
		}
		if w.Action == ActionSubscribe {
			return SubscribeRequest{ItemName: name, ServerID: w.serverID()}, nil
		}
		return UnsubscribeRequest{ItemName: name, ServerID: w.serverID()}, nil
	case ActionPing:
		return PingRequest{}, nil
	case ActionStatus:
		return StatusRequest{}, nil
	}
	return nil, &UnknownActionError{Action: w.Action}
}

// errorText maps a parse error to the message shown to the client.
func errorText(err error) string {
	var unknown *UnknownActionError
	switch {
	case errors.Is(err, ErrInvalidJSON):
		return "Invalid JSON"
	case errors.Is(err, ErrItemNameRequired):
		return "item_name required"
	case errors.As(err, &unknown):
		return unknown.Error()
	}
	return err.Error()
}
