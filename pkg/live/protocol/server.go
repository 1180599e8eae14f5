package protocol

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// DecodeError reports a server frame the client could not interpret.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// ServerError is an error frame sent by the backend.
type ServerError struct {
	Code    string
	Status  string
	Message string
}

// ParseServerError extracts a top-level error object, if the frame carries one.
func ParseServerError(raw []byte) (ServerError, bool) {
	res := gjson.GetBytes(raw, "error")
	if !res.Exists() {
		return ServerError{}, false
	}
	se := ServerError{
		Code:    res.Get("code").String(),
		Status:  res.Get("status").String(),
		Message: res.Get("message").String(),
	}
	if res.Type == gjson.String {
		se.Message = res.Str
	}
	if se.Message == "" {
		se.Message = "backend reported an error"
	}
	return se, true
}

// IsSetupComplete reports whether raw acknowledges the setup frame.
func IsSetupComplete(raw []byte) bool {
	return gjson.GetBytes(raw, "setupComplete").Exists()
}

// GoAway returns the time left before the backend drops the connection.
func GoAway(raw []byte) (string, bool) {
	res := gjson.GetBytes(raw, "goAway")
	if !res.Exists() {
		return "", false
	}
	return res.Get("timeLeft").String(), true
}

// Validate rejects frames that are not JSON objects.
func Validate(raw []byte) error {
	if !gjson.ValidBytes(raw) {
		return badRequest("server frame is not valid JSON", "frame")
	}
	if !gjson.ParseBytes(raw).IsObject() {
		return badRequest("server frame is not a JSON object", "frame")
	}
	return nil
}
