package wire

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

type EngineType byte

const (
	EngineOpen    EngineType = '0'
	EngineClose   EngineType = '1'
	EnginePing    EngineType = '2'
	EnginePong    EngineType = '3'
	EngineMessage EngineType = '4'
)

type SocketType byte

const (
	SocketConnect      SocketType = '0'
	SocketDisconnect   SocketType = '1'
	SocketEvent        SocketType = '2'
	SocketAck          SocketType = '3'
	SocketConnectError SocketType = '4'
)

const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventChannel     = "event"
)

type Open struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

type ConnectRequest struct {
	Key     string `json:"key"`
	Cluster string `json:"cluster"`
}

type ConnectReply struct {
	SID string `json:"sid"`
}

type ConnectError struct {
	Message string `json:"message"`
}

type Subscribe struct {
	Channel string `json:"channel"`
	Auth    string `json:"auth,omitempty"`
}

type SubscribeReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type Unsubscribe struct {
	Channel string `json:"channel"`
}

// ChannelEvent is pushed by the server. ID is stable across redelivery.
type ChannelEvent struct {
	ID      string          `json:"id"`
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

type ChannelAuthRequest struct {
	SocketID    string `json:"socket_id"`
	ChannelName string `json:"channel_name"`
}

type ChannelAuthReply struct {
	Auth string `json:"auth"`
}

// Frame is one websocket text message split into its type bytes.
type Frame struct {
	Engine  EngineType
	Socket  SocketType
	Payload string
}

func Split(raw string) (Frame, error) {
	if raw == "" {
		return Frame{}, errors.New("empty frame")
	}
	f := Frame{Engine: EngineType(raw[0]), Payload: raw[1:]}
	if f.Engine != EngineMessage {
		return f, nil
	}
	if f.Payload == "" {
		return Frame{}, errors.New("empty message frame")
	}
	f.Socket = SocketType(f.Payload[0])
	f.Payload = f.Payload[1:]
	return f, nil
}

func parseIDPrefix(s string) (id *int, rest string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return nil, s
	}
	v, err := strconv.Atoi(s[:i])
	if err != nil {
		return nil, s
	}
	return &v, s[i:]
}

type Event struct {
	ID   *int
	Name string
	Args []json.RawMessage
}

// ParseEvent decodes the payload of a socket event frame.
func ParseEvent(payload string) (Event, error) {
	id, rest := parseIDPrefix(payload)
	if !strings.HasPrefix(rest, "[") {
		return Event{}, errors.New("invalid event payload")
	}
	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(rest), &arr); err != nil {
		return Event{}, err
	}
	if len(arr) == 0 {
		return Event{}, errors.New("missing event name")
	}
	var name string
	if err := json.Unmarshal(arr[0], &name); err != nil {
		return Event{}, errors.New("invalid event name")
	}
	return Event{ID: id, Name: name, Args: arr[1:]}, nil
}

type Ack struct {
	ID   int
	Args []json.RawMessage
}

func ParseAck(payload string) (Ack, error) {
	id, rest := parseIDPrefix(payload)
	if id == nil {
		return Ack{}, errors.New("missing ack id")
	}
	if !strings.HasPrefix(rest, "[") {
		return Ack{}, errors.New("invalid ack payload")
	}
	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(rest), &arr); err != nil {
		return Ack{}, err
	}
	return Ack{ID: *id, Args: arr}, nil
}

func EncodeOpen(o Open) (string, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return "", err
	}
	return string(EngineOpen) + string(data), nil
}

func ParseOpen(payload string) (Open, error) {
	var o Open
	if err := json.Unmarshal([]byte(payload), &o); err != nil {
		return Open{}, err
	}
	if o.SID == "" {
		return Open{}, errors.New("open packet without sid")
	}
	return o, nil
}

func message(t SocketType, body []byte) string {
	var b strings.Builder
	b.WriteByte(byte(EngineMessage))
	b.WriteByte(byte(t))
	b.Write(body)
	return b.String()
}

func EncodeConnect(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return message(SocketConnect, data), nil
}

func EncodeConnectError(msg string) (string, error) {
	data, err := json.Marshal(ConnectError{Message: msg})
	if err != nil {
		return "", err
	}
	return message(SocketConnectError, data), nil
}

func EncodeEvent(id *int, event string, args ...any) (string, error) {
	arr := make([]any, 0, 1+len(args))
	arr = append(arr, event)
	arr = append(arr, args...)
	data, err := json.Marshal(arr)
	if err != nil {
		return "", err
	}
	if id != nil {
		data = append([]byte(strconv.Itoa(*id)), data...)
	}
	return message(SocketEvent, data), nil
}

func EncodeAck(id int, args ...any) (string, error) {
	if args == nil {
		args = make([]any, 0)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return message(SocketAck, append([]byte(strconv.Itoa(id)), data...)), nil
}

const (
	privatePrefix = "private-"
	userPrefix    = "private-user-"
	rolePrefix    = "private-role-"
)

func UserChannel(userID string) string { return userPrefix + userID }

func RoleChannel(role string) string { return rolePrefix + strings.ToLower(role) }

func IsPrivate(channel string) bool { return strings.HasPrefix(channel, privatePrefix) }

// ChannelUser returns the user id of a per-user channel.
func ChannelUser(channel string) (string, bool) {
	if !strings.HasPrefix(channel, userPrefix) {
		return "", false
	}
	id := channel[len(userPrefix):]
	return id, id != ""
}

// ChannelRole returns the lower-case role of a role channel.
func ChannelRole(channel string) (string, bool) {
	if !strings.HasPrefix(channel, rolePrefix) {
		return "", false
	}
	role := channel[len(rolePrefix):]
	return role, role != ""
}
