package server

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"ric/comm"
	"ric/crypto/rsakeys"
	"ric/messages"
)

// ChallengeHandler answers server identity challenges: it signs the caller's
// random challenge bytes with the server key and returns the public key
// alongside the signature, letting the caller verify it is talking to the
// holder of that key. Served identically by home and chat servers.
func ChallengeHandler(keys *rsakeys.Keys, log logrus.FieldLogger) comm.RequestHandler {
	pub := messages.PublicKeyFrom(keys)
	return func(ctx context.Context, name string, data json.RawMessage) comm.Response {
		var req messages.ChallengeRequest
		if err := messages.Unpack(data, &req); err != nil {
			log.Warnf("malformed challenge request: %v", err)
			return Failure(messages.StatusUnknownError)
		}
		raw, err := base64.StdEncoding.DecodeString(req.Challenge)
		if err != nil {
			log.Warnf("challenge is not valid base64: %v", err)
			return Failure(messages.StatusUnknownError)
		}
		sig, err := keys.Sign(raw)
		if err != nil {
			log.Errorf("signing challenge: %v", err)
			return Failure(messages.StatusUnknownError)
		}
		return Success(messages.ChallengeSuccessResponse{
			PublicKey: pub,
			Response:  base64.StdEncoding.EncodeToString(sig),
		})
	}
}
