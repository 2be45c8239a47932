package server

import "fmt"

// Credential names the credential a CredentialError concerns.
type Credential string

const (
	CredentialUsername  Credential = "username"
	CredentialPassword  Credential = "password"
	CredentialMFAToken  Credential = "mfa_token"
	CredentialPublicKey Credential = "pubkey"
)

// CredentialError reports a rejected credential. Sessions translate it into
// the wire status matching the credential; it never carries the value that
// was rejected.
type CredentialError struct {
	Credential Credential
	Reason     string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Credential, e.Reason)
}
