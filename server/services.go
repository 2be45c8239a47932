// Package server holds the pieces shared by the home and chat server roles:
// the WebSocket host, join policies, the challenge handler, and the typed
// errors sessions translate into wire statuses.
package server

import (
	"github.com/sirupsen/logrus"

	"ric/comm"
	"ric/messages"
	"ric/wire"
)

// CoreServices bundles the cross-cutting dependencies handed to every server
// component.
type CoreServices struct {
	Log logrus.FieldLogger
	App messages.AppInfo
}

// Success builds a success response carrying v as its data payload.
func Success(v any) comm.Response {
	return comm.Response{Status: messages.StatusSuccess, Data: messages.MustPack(v)}
}

// Failure builds a failure response with the given status and an empty data
// payload.
func Failure(status string) comm.Response {
	return comm.Response{Status: status, Data: wire.EmptyData}
}

// FailureWith builds a failure response with the given status and v as its
// data payload.
func FailureWith(status string, v any) comm.Response {
	return comm.Response{Status: status, Data: messages.MustPack(v)}
}
