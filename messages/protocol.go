package messages

// Request names understood by servers. The challenge exchange is served by
// both home and chat servers; the rest are role-specific.
const (
	OpChallenge  = "challenge"
	OpRegister   = "register"
	OpLogin      = "login"
	OpLogout     = "logout"
	OpSign       = "sign"
	OpDecrypt    = "decrypt"
	OpConnect    = "connect"
	OpDisconnect = "disconnect"
)

// Response statuses. Success is always reported as StatusSuccess; every
// other value names a specific refusal.
const (
	StatusSuccess = "success"

	StatusRegistrationDisabled = "registration_disabled"
	StatusLoginDisabled        = "login_disabled"
	StatusConnectDisabled      = "connect_disabled"
	StatusJoinTokenRequired    = "join_token_required"
	StatusInvalidJoinToken     = "invalid_join_token"

	StatusInvalidUsername  = "invalid_username"
	StatusInvalidPassword  = "invalid_password"
	StatusUnrecognisedUser = "unrecognised_user"
	StatusMFATokenRequired = "mfa_token_required"
	StatusInvalidMFAToken  = "invalid_mfa_token"

	StatusAlreadyLoggedIn = "already_logged_in"
	StatusNotLoggedIn     = "not_logged_in"
	StatusInvalidMessages = "invalid_messages"

	StatusAlreadyConnected  = "already_connected"
	StatusInvalidChallenge  = "invalid_challenge"
	StatusInvalidHomeServer = "invalid_home_server"
	StatusInvalidPubkey     = "invalid_pubkey"
	StatusNotConnected      = "not_connected"

	StatusUnknownError = "unknown_error"
)
