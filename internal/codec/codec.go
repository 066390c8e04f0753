package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/DoyleJ11/crimecity-live/internal/types"
)

var ErrMalformedPayload = errors.New("malformed payload")
var ErrUnknownType = errors.New("unknown message type")
var ErrInvalidCommand = errors.New("invalid command")

// DecodeError describes a frame that could not be turned into an Event.
// Kind is ErrMalformedPayload or ErrUnknownType.
type DecodeError struct {
	Kind error
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	msg := e.Kind.Error()
	if e.Type != "" {
		msg = fmt.Sprintf("%s (type %q)", msg, e.Type)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func malformed(t types.Tag, err error) error {
	return &DecodeError{Kind: ErrMalformedPayload, Type: string(t), Err: err}
}

// Encode serializes an outgoing command.
func Encode(cmd types.Command) ([]byte, error) {
	if cmd.Action == "" {
		return nil, fmt.Errorf("%w: missing action", ErrInvalidCommand)
	}
	return json.Marshal(cmd)
}

// Decode parses one frame into a typed Event.
func Decode(frame []byte) (types.Event, error) {
	var f types.Frame
	if err := json.Unmarshal(frame, &f); err != nil {
		return nil, malformed("", err)
	}
	if !f.Type.Known() {
		return nil, &DecodeError{Kind: ErrUnknownType, Type: string(f.Type)}
	}

	switch f.Type {
	case types.TagCombatUpdate:
		var u types.CombatUpdate
		if err := decodeData(f, &u); err != nil {
			return nil, err
		}
		return u, nil

	case types.TagCombatStatus:
		var s types.CombatStatus
		if err := decodeData(f, &s); err != nil {
			return nil, err
		}
		return s, nil

	case types.TagPlayerStatus:
		var s types.PlayerStatus
		if err := decodeData(f, &s); err != nil {
			return nil, err
		}
		return s, nil

	case types.TagPlayerUpdate:
		return decodePlayerUpdate(f)

	case types.TagNotification:
		if f.Message == nil {
			return nil, malformed(f.Type, errors.New("missing message"))
		}
		return types.Notification{Message: *f.Message, Level: types.ParseSeverity(f.Level)}, nil

	default: // types.TagError
		if f.Message == nil {
			return nil, malformed(f.Type, errors.New("missing message"))
		}
		return types.ServerError{Message: *f.Message}, nil
	}
}

func decodeData(f types.Frame, v any) error {
	if isNull(f.Data) {
		return malformed(f.Type, errors.New("missing data"))
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return malformed(f.Type, err)
	}
	return nil
}

func decodePlayerUpdate(f types.Frame) (types.Event, error) {
	var stats map[string]json.RawMessage
	if err := decodeData(f, &stats); err != nil {
		return nil, err
	}
	u := types.PlayerUpdate{Stats: stats}
	if raw, ok := stats["level_up"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &u.LevelUp); err != nil {
			return nil, malformed(f.Type, fmt.Errorf("level_up: %w", err))
		}
	}
	if raw, ok := stats["level"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &u.Level); err != nil {
			return nil, malformed(f.Type, fmt.Errorf("level: %w", err))
		}
	}
	return u, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// EncodeEvent is the server-side mirror of Decode.
func EncodeEvent(ev types.Event) ([]byte, error) {
	f := types.Frame{Type: ev.Tag()}

	switch e := ev.(type) {
	case types.Notification:
		msg := e.Message
		f.Message = &msg
		f.Level = string(e.Level)
	case types.ServerError:
		msg := e.Message
		f.Message = &msg
	case types.PlayerUpdate:
		stats := maps.Clone(e.Stats)
		if stats == nil {
			stats = map[string]json.RawMessage{}
		}
		if e.LevelUp {
			stats["level_up"] = json.RawMessage("true")
		}
		if e.Level != 0 {
			stats["level"] = json.RawMessage(fmt.Sprint(e.Level))
		}
		data, err := json.Marshal(stats)
		if err != nil {
			return nil, err
		}
		f.Data = data
	default:
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		f.Data = data
	}
	return json.Marshal(f)
}

// DecodeCommand is the server-side mirror of Encode. A numeric combat_id
// arrives as json.Number so large ids keep their digits.
func DecodeCommand(data []byte) (types.Command, error) {
	var cmd types.Command
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&cmd); err != nil {
		return types.Command{}, &DecodeError{Kind: ErrMalformedPayload, Err: err}
	}
	if dec.More() {
		return types.Command{}, &DecodeError{Kind: ErrMalformedPayload, Err: errors.New("trailing data after command")}
	}
	if cmd.Action == "" {
		return types.Command{}, fmt.Errorf("%w: missing action", ErrInvalidCommand)
	}
	return cmd, nil
}
