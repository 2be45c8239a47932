package messages

// Shapes for the home server operations: challenge, register, login, logout,
// sign and decrypt. The challenge exchange is shared with chat servers.

type ChallengeRequest struct {
	Challenge string `json:"challenge"`
}

type ChallengeSuccessResponse struct {
	PublicKey PublicKey `json:"pubkey"`
	Response  string    `json:"challenge_response"`
}

type RegisterRequest struct {
	Username  string   `json:"username"`
	Password  Password `json:"password"`
	JoinToken string   `json:"join_token,omitempty"`
}

type LoginRequest struct {
	ClientApp   AppInfo  `json:"client_app"`
	Username    string   `json:"username"`
	Password    Password `json:"password"`
	ClientToken string   `json:"client_token,omitempty"`
	MFAToken    string   `json:"mfa_token,omitempty"`
	JoinToken   string   `json:"join_token,omitempty"`
}

type LoginSuccessResponse struct {
	ServerApp      AppInfo        `json:"server_app"`
	ServerIdentity ServerIdentity `json:"server_identity"`
	UserIdentity   UserIdentity   `json:"user"`
	ClientToken    string         `json:"client_token,omitempty"`
}

type SignRequest struct {
	Messages []string `json:"messages"`
}

type SignSuccessResponse struct {
	SignedHashes []string `json:"signed_hashes"`
}

type DecryptRequest struct {
	EncryptedMessages []string `json:"messages"`
}

type DecryptSuccessResponse struct {
	DecryptedMessages []string `json:"decrypted_messages"`
}

// BatchFailureResponse reports the items of a sign or decrypt batch that
// failed cryptographic processing. Successful items are deliberately
// withheld; the caller corrects the batch and resends.
type BatchFailureResponse struct {
	InvalidMessages []string `json:"invalid_messages"`
}
