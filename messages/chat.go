package messages

// Shapes for the chat server operations: connect and disconnect.

type ConnectRequest struct {
	ClientApp AppInfo      `json:"client_app"`
	User      UserIdentity `json:"user"`
	// Challenge is the user's signature over this chat server's public key,
	// produced on their behalf by their home server.
	Challenge string `json:"challenge"`
	JoinToken string `json:"join_token,omitempty"`
}

type ConnectSuccessResponse struct {
	ServerApp      AppInfo        `json:"server_app"`
	ServerIdentity ServerIdentity `json:"server_identity"`
}

type DisconnectRequest struct {
	Reason string `json:"reason,omitempty"`
}
