package wire

import (
	"encoding/json"
	"fmt"
)

// Action is the outbound sum type. Sends are fire-and-forget; persistence
// confidence comes from the echoed message event, not from an ack.
type Action interface {
	actionTag() string
}

type MessageAction struct {
	Text string
}

type ReadAction struct{}

// FileAction carries an inline attachment: the binary payload re-encoded as
// base64 text. Only the inline deployment variant uses it.
type FileAction struct {
	FileName string
	MimeType string
	FileData string
}

func (MessageAction) actionTag() string { return ActionMessage }
func (ReadAction) actionTag() string    { return ActionRead }
func (FileAction) actionTag() string    { return ActionFile }

const (
	ActionMessage = "message"
	ActionRead    = "read"
	ActionFile    = "file"
)

type actionEnvelope struct {
	Action   string `json:"action"`
	Message  string `json:"message,omitempty"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FileData string `json:"file_data,omitempty"`
}

// EncodeAction marshals an outbound action frame.
func EncodeAction(a Action) ([]byte, error) {
	env := actionEnvelope{Action: a.actionTag()}
	switch ac := a.(type) {
	case MessageAction:
		env.Message = ac.Text
	case ReadAction:
	case FileAction:
		env.FileName = ac.FileName
		env.MimeType = ac.MimeType
		env.FileData = ac.FileData
	default:
		return nil, fmt.Errorf("cannot encode action of type %T", a)
	}
	return json.Marshal(env)
}

// DecodeAction parses an inbound action frame (server side). Unknown action
// tags are reported as an error string the server may relay as an error
// event; they do not close the connection.
func DecodeAction(data []byte) (Action, error) {
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}
	switch env.Action {
	case ActionMessage:
		return MessageAction{Text: env.Message}, nil
	case ActionRead:
		return ReadAction{}, nil
	case ActionFile:
		return FileAction{FileName: env.FileName, MimeType: env.MimeType, FileData: env.FileData}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", env.Action)
	}
}
