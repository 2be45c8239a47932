// Package messages defines the wire-facing shapes carried in envelope data
// payloads, and helpers to move them in and out of raw payload form.
package messages

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"ric/crypto/rsakeys"
)

// Pack serializes a shape into an envelope data payload.
func Pack(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("pack message: %w", err)
	}
	return b, nil
}

// MustPack is Pack for shapes that cannot fail to serialize.
func MustPack(v any) json.RawMessage {
	b, err := Pack(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Unpack deserializes an envelope data payload into a shape.
func Unpack(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unpack message: %w", err)
	}
	return nil
}

// SoftwareVersion identifies a build of a client or server application.
type SoftwareVersion struct {
	Major   int    `json:"major"`
	Minor   int    `json:"minor"`
	Patch   int    `json:"patch,omitempty"`
	VCSID   string `json:"vcs_id,omitempty"`
	Display string `json:"display,omitempty"`
}

// VersionFromBuildInfo derives a SoftwareVersion from the running binary's
// embedded build information, if any.
func VersionFromBuildInfo() SoftwareVersion {
	v := SoftwareVersion{}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	v.Display = info.Main.Version
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			v.VCSID = s.Value
		}
	}
	return v
}

// AppInfo describes a communicating application.
type AppInfo struct {
	Name         string           `json:"name"`
	Description  string           `json:"description,omitempty"`
	Version      SoftwareVersion  `json:"version"`
	Capabilities []string         `json:"capabilities"`
	Extensions   map[string][]int `json:"extensions"`
}

// PublicKey is an exported public key: raw key bytes plus the format tag
// naming the algorithm suite they belong to.
type PublicKey struct {
	KeyData   string `json:"key"`
	KeyFormat string `json:"format"`
}

// PublicKeyFrom exports the public half of a key pair.
func PublicKeyFrom(keys *rsakeys.Keys) PublicKey {
	return PublicKey{
		KeyData:   base64.StdEncoding.EncodeToString(keys.PublicKeyDER()),
		KeyFormat: keys.FormatName(),
	}
}

// Keys reconstructs a verify/encrypt-only key pair from an exported key,
// rejecting format tags the suite does not support.
func (p PublicKey) Keys(suite rsakeys.Suite) (*rsakeys.Keys, error) {
	der, err := base64.StdEncoding.DecodeString(p.KeyData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rsakeys.ErrKeyFormat, err)
	}
	return rsakeys.FromPublicKey(der, p.KeyFormat, suite)
}

// ServerIdentity is a server's long-term public identity.
type ServerIdentity struct {
	PublicKey   PublicKey `json:"pubkey"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url"`
}

// UserIdentity binds a username to a public key, vouched for by the user's
// home server. Constructed by the home server at login; carried by the
// client; independently validated by chat servers.
type UserIdentity struct {
	Name                string    `json:"name"`
	Type                string    `json:"type"`
	PublicKey           PublicKey `json:"pubkey"`
	HomeServerPublicKey PublicKey `json:"home_server_pubkey"`
	HomeServerUser      string    `json:"home_server_user"`
	HomeServerUserSig   string    `json:"home_server_user_signature"`
	HomeServerURL       string    `json:"home_server_url,omitempty"`
}
