package ipc

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/nimbus/types"
)

// Message type discriminants.
const (
	ServerConfigType      = "server_config"
	CloseSplashscreenType = "close_splashscreen"
	StatusType            = "status"
	MenuEventType         = "menu_event"
)

// Menu event names sent by the host.
const (
	MenuRefresh    = "refresh"
	MenuToggleLogs = "toggle_logs"
	MenuQuit       = "quit"
)

// ServerConfigMessage carries the port and token allocated by the host.
type ServerConfigMessage struct {
	Type  string `msgpack:"type"`
	Port  int    `msgpack:"port"`
	Token string `msgpack:"token"`
}

// Config converts the message to a ServerConfig.
func (m *ServerConfigMessage) Config() types.ServerConfig {
	return types.ServerConfig{Port: m.Port, Token: m.Token}
}

// CloseSplashscreenMessage asks the host to hide its splash screen.
type CloseSplashscreenMessage struct {
	Type string `msgpack:"type"`
}

// StatusMessage reports a user-facing status line.
type StatusMessage struct {
	Type    string `msgpack:"type"`
	Message string `msgpack:"message"`
}

// MenuEventMessage relays a host menu action.
type MenuEventMessage struct {
	Type  string `msgpack:"type"`
	Event string `msgpack:"event"`
}

// frameTypeProbe is used to peek at the type field without full decode.
type frameTypeProbe struct {
	Type string `msgpack:"type"`
}

// DecodeFrame decodes a payload into one of the message types.
// Discriminates on the type field.
func DecodeFrame(payload []byte) (any, error) {
	var probe frameTypeProbe
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode frame type",
			Err:  err,
		}
	}

	switch probe.Type {
	case ServerConfigType:
		return decodeAs[ServerConfigMessage](payload, "server config")
	case CloseSplashscreenType:
		return decodeAs[CloseSplashscreenMessage](payload, "close splashscreen")
	case StatusType:
		return decodeAs[StatusMessage](payload, "status")
	case MenuEventType:
		return decodeAs[MenuEventMessage](payload, "menu event")
	default:
		return nil, &FrameError{
			Kind: FrameErrorUnknownType,
			Msg:  "unknown frame type " + probe.Type,
		}
	}
}

func decodeAs[T any](payload []byte, what string) (*T, error) {
	var msg T
	if err := msgpack.Unmarshal(payload, &msg); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode " + what,
			Err:  err,
		}
	}
	return &msg, nil
}
