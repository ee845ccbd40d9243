package logging

import "log/slog"

// Field names shared by every component so log queries stay uniform.
const (
	FieldService     = "service"
	FieldRequestID   = "request_id"
	FieldUserID      = "user_id"
	FieldConnID      = "conn_id"
	FieldSessionID   = "session_id"
	FieldEventID     = "event_id"
	FieldResultID    = "result_id"
	FieldRequestType = "request_type"
	FieldChannel     = "channel"
	FieldMsgType     = "msg_type"
	FieldIndex       = "index"
	FieldRemoteAddr  = "remote_addr"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
)

func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

func UserID(id string) slog.Attr {
	return slog.String(FieldUserID, id)
}

// ConnID identifies a websocket connection in the registry.
func ConnID(id string) slog.Attr {
	return slog.String(FieldConnID, id)
}

func SessionID(id string) slog.Attr {
	return slog.String(FieldSessionID, id)
}

func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

func ResultID(id string) slog.Attr {
	return slog.String(FieldResultID, id)
}

func RequestType(t string) slog.Attr {
	return slog.String(FieldRequestType, t)
}

// Channel is the broadcast channel (Redis channel or NATS subject).
func Channel(name string) slog.Attr {
	return slog.String(FieldChannel, name)
}

func MsgType(t string) slog.Attr {
	return slog.String(FieldMsgType, t)
}

// Index is the document-store index a record kind lives in.
func Index(name string) slog.Attr {
	return slog.String(FieldIndex, name)
}

func RemoteAddr(addr string) slog.Attr {
	return slog.String(FieldRemoteAddr, addr)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error. A nil error logs as "<nil>".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "<nil>")
	}
	return slog.String(FieldError, err.Error())
}
