package home

import (
	"context"
	"crypto"
	"encoding/base64"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ric/comm"
	"ric/crypto/rsakeys"
	"ric/messages"
	"ric/server"
	"ric/server/store"
)

var testSuite = rsakeys.Suite{Bits: 1024, Hash: crypto.SHA256}

func testCore() server.CoreServices {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return server.CoreServices{
		Log: log,
		App: messages.AppInfo{
			Name:         "test-server",
			Version:      messages.SoftwareVersion{Major: 1},
			Capabilities: []string{},
			Extensions:   map[string][]int{},
		},
	}
}

func newTestServer(t *testing.T, mod func(*Options)) *Server {
	t.Helper()
	opts := Options{
		Name:               "Test Home",
		CanonicalURL:       "ws://home.test",
		URLIsPublic:        true,
		Suite:              testSuite,
		Accounts:           store.NewMemory(),
		RegistrationPolicy: server.PolicyEnabled,
		LoginPolicy:        server.PolicyEnabled,
	}
	if mod != nil {
		mod(&opts)
	}
	s, err := New(testCore(), opts)
	require.NoError(t, err)
	return s
}

// dial attaches a client communicator to the server through an in-memory
// pipe, the way the host wires a real connection.
func dial(t *testing.T, s *Server) *comm.Communicator {
	t.Helper()
	sc, cc := comm.Pipe()
	log := logrus.New()
	log.SetOutput(io.Discard)
	serverComm := comm.New(sc, comm.RoleAcceptor, log)
	detach := s.Connected(serverComm)
	clientComm := comm.New(cc, comm.RoleInitiator, log)
	t.Cleanup(func() {
		clientComm.Dispose()
		serverComm.Dispose()
		if detach != nil {
			detach()
		}
	})
	return clientComm
}

func call(t *testing.T, c *comm.Communicator, op string, req any) comm.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rsp, err := c.Call(ctx, op, messages.MustPack(req))
	require.NoError(t, err)
	return rsp
}

func plaintext(pw string) messages.Password {
	return messages.Password{Data: pw, Format: messages.PasswordPlaintext}
}

func TestChallenge(t *testing.T) {
	s := newTestServer(t, nil)
	c := dial(t, s)

	challenge := []byte("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	rsp := call(t, c, messages.OpChallenge, messages.ChallengeRequest{
		Challenge: base64.StdEncoding.EncodeToString(challenge),
	})
	require.Equal(t, messages.StatusSuccess, rsp.Status)

	var resp messages.ChallengeSuccessResponse
	require.NoError(t, messages.Unpack(rsp.Data, &resp))
	keys, err := resp.PublicKey.Keys(testSuite)
	require.NoError(t, err)
	sig, err := base64.StdEncoding.DecodeString(resp.Response)
	require.NoError(t, err)
	assert.True(t, keys.Verify(challenge, sig))
	assert.Equal(t, s.Keys().PublicKeyDER(), keys.PublicKeyDER())
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t, nil)
	c := dial(t, s)

	rsp := call(t, c, messages.OpRegister, messages.RegisterRequest{
		Username: "alice", Password: plaintext("potato"),
	})
	require.Equal(t, messages.StatusSuccess, rsp.Status)

	// Password travels encrypted under the server key for login.
	pw, err := messages.GeneratePassword("potato", messages.PasswordRSABase64, s.Keys())
	require.NoError(t, err)
	rsp = call(t, c, messages.OpLogin, messages.LoginRequest{Username: "alice", Password: pw})
	require.Equal(t, messages.StatusSuccess, rsp.Status)

	var resp messages.LoginSuccessResponse
	require.NoError(t, messages.Unpack(rsp.Data, &resp))
	assert.Equal(t, "alice", resp.UserIdentity.Name)
	assert.Equal(t, "user", resp.UserIdentity.Type)
	assert.Equal(t, "ws://home.test", resp.UserIdentity.HomeServerURL)
	if diff := cmp.Diff(s.Identity(), resp.ServerIdentity); diff != "" {
		t.Errorf("server identity (-want, +got):\n%s", diff)
	}

	// The home server vouches for the username with its own signature.
	homeKeys, err := resp.UserIdentity.HomeServerPublicKey.Keys(testSuite)
	require.NoError(t, err)
	sig, err := base64.StdEncoding.DecodeString(resp.UserIdentity.HomeServerUserSig)
	require.NoError(t, err)
	assert.True(t, homeKeys.Verify([]byte("alice"), sig))

	// One login per connection.
	rsp = call(t, c, messages.OpLogin, messages.LoginRequest{Username: "alice", Password: plaintext("potato")})
	assert.Equal(t, messages.StatusAlreadyLoggedIn, rsp.Status)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	s := newTestServer(t, nil)
	c := dial(t, s)

	rsp := call(t, c, messages.OpRegister, messages.RegisterRequest{Username: "alice", Password: plaintext("a")})
	require.Equal(t, messages.StatusSuccess, rsp.Status)
	rsp = call(t, c, messages.OpRegister, messages.RegisterRequest{Username: "alice", Password: plaintext("b")})
	assert.Equal(t, messages.StatusInvalidUsername, rsp.Status)
}

func TestLoginFailures(t *testing.T) {
	s := newTestServer(t, nil)
	c := dial(t, s)

	rsp := call(t, c, messages.OpRegister, messages.RegisterRequest{Username: "alice", Password: plaintext("potato")})
	require.Equal(t, messages.StatusSuccess, rsp.Status)

	rsp = call(t, c, messages.OpLogin, messages.LoginRequest{Username: "alice", Password: plaintext("wrong")})
	assert.Equal(t, messages.StatusInvalidPassword, rsp.Status)

	rsp = call(t, c, messages.OpLogin, messages.LoginRequest{Username: "nobody", Password: plaintext("potato")})
	assert.Equal(t, messages.StatusUnrecognisedUser, rsp.Status)

	// Failed logins leave no session state.
	rsp = call(t, c, messages.OpSign, messages.SignRequest{Messages: []string{}})
	assert.Equal(t, messages.StatusNotLoggedIn, rsp.Status)
}

func TestRegistrationDisabled(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.RegistrationPolicy = server.PolicyDisabled })
	c := dial(t, s)

	// Disabled is reported as such, never as a token problem.
	rsp := call(t, c, messages.OpRegister, messages.RegisterRequest{Username: "alice", Password: plaintext("a")})
	assert.Equal(t, messages.StatusRegistrationDisabled, rsp.Status)
}

func TestLoginDisabled(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.LoginPolicy = server.PolicyDisabled })
	c := dial(t, s)

	rsp := call(t, c, messages.OpLogin, messages.LoginRequest{Username: "alice", Password: plaintext("a")})
	assert.Equal(t, messages.StatusLoginDisabled, rsp.Status)
}

func TestRegistrationJoinTokens(t *testing.T) {
	s := newTestServer(t, func(o *Options) {
		o.RegistrationPolicy = server.PolicyJoinTokenOnly
		o.RegisterTokens = server.NewTokenList("golden-ticket")
	})
	c := dial(t, s)

	rsp := call(t, c, messages.OpRegister, messages.RegisterRequest{Username: "a", Password: plaintext("x")})
	assert.Equal(t, messages.StatusJoinTokenRequired, rsp.Status)

	rsp = call(t, c, messages.OpRegister, messages.RegisterRequest{Username: "a", Password: plaintext("x"), JoinToken: "wrong"})
	assert.Equal(t, messages.StatusInvalidJoinToken, rsp.Status)

	rsp = call(t, c, messages.OpRegister, messages.RegisterRequest{Username: "a", Password: plaintext("x"), JoinToken: "golden-ticket"})
	assert.Equal(t, messages.StatusSuccess, rsp.Status)

	// Tokens are single use.
	rsp = call(t, c, messages.OpRegister, messages.RegisterRequest{Username: "b", Password: plaintext("x"), JoinToken: "golden-ticket"})
	assert.Equal(t, messages.StatusInvalidJoinToken, rsp.Status)
}

func TestFailedRegistrationKeepsToken(t *testing.T) {
	s := newTestServer(t, func(o *Options) {
		o.RegistrationPolicy = server.PolicyJoinTokenOnly
		o.RegisterTokens = server.NewTokenList("t1", "t2")
	})
	c := dial(t, s)

	rsp := call(t, c, messages.OpRegister, messages.RegisterRequest{Username: "alice", Password: plaintext("x"), JoinToken: "t1"})
	require.Equal(t, messages.StatusSuccess, rsp.Status)

	// The duplicate-username refusal must not spend the token.
	rsp = call(t, c, messages.OpRegister, messages.RegisterRequest{Username: "alice", Password: plaintext("x"), JoinToken: "t2"})
	require.Equal(t, messages.StatusInvalidUsername, rsp.Status)

	rsp = call(t, c, messages.OpRegister, messages.RegisterRequest{Username: "bob", Password: plaintext("x"), JoinToken: "t2"})
	assert.Equal(t, messages.StatusSuccess, rsp.Status)
}

func TestRegistrationTokenCheckedBeforePassword(t *testing.T) {
	s := newTestServer(t, func(o *Options) {
		o.RegistrationPolicy = server.PolicyJoinTokenOnly
		o.RegisterTokens = server.NewTokenList("t1")
	})
	c := dial(t, s)

	// A missing token is reported as such even when the password would also
	// be refused.
	bad := messages.Password{Data: "???", Format: "no-such-format"}
	rsp := call(t, c, messages.OpRegister, messages.RegisterRequest{Username: "alice", Password: bad})
	assert.Equal(t, messages.StatusJoinTokenRequired, rsp.Status)

	rsp = call(t, c, messages.OpRegister, messages.RegisterRequest{Username: "alice", Password: bad, JoinToken: "t1"})
	assert.Equal(t, messages.StatusInvalidPassword, rsp.Status)

	// The refused password left the token unspent.
	rsp = call(t, c, messages.OpRegister, messages.RegisterRequest{Username: "alice", Password: plaintext("x"), JoinToken: "t1"})
	assert.Equal(t, messages.StatusSuccess, rsp.Status)
}

func TestLogout(t *testing.T) {
	s := newTestServer(t, nil)
	c := dial(t, s)

	rsp := call(t, c, messages.OpLogout, struct{}{})
	assert.Equal(t, messages.StatusNotLoggedIn, rsp.Status)

	call(t, c, messages.OpRegister, messages.RegisterRequest{Username: "alice", Password: plaintext("p")})
	rsp = call(t, c, messages.OpLogin, messages.LoginRequest{Username: "alice", Password: plaintext("p")})
	require.Equal(t, messages.StatusSuccess, rsp.Status)

	rsp = call(t, c, messages.OpLogout, struct{}{})
	assert.Equal(t, messages.StatusSuccess, rsp.Status)

	// Operations requiring login are refused again, and a fresh login works.
	rsp = call(t, c, messages.OpSign, messages.SignRequest{Messages: []string{}})
	assert.Equal(t, messages.StatusNotLoggedIn, rsp.Status)
	rsp = call(t, c, messages.OpLogin, messages.LoginRequest{Username: "alice", Password: plaintext("p")})
	assert.Equal(t, messages.StatusSuccess, rsp.Status)
}

func loginAlice(t *testing.T, c *comm.Communicator) messages.UserIdentity {
	t.Helper()
	call(t, c, messages.OpRegister, messages.RegisterRequest{Username: "alice", Password: plaintext("p")})
	rsp := call(t, c, messages.OpLogin, messages.LoginRequest{Username: "alice", Password: plaintext("p")})
	require.Equal(t, messages.StatusSuccess, rsp.Status)
	var resp messages.LoginSuccessResponse
	require.NoError(t, messages.Unpack(rsp.Data, &resp))
	return resp.UserIdentity
}

func TestSign(t *testing.T) {
	s := newTestServer(t, nil)
	c := dial(t, s)
	user := loginAlice(t, c)

	msg := []byte("sign me")
	rsp := call(t, c, messages.OpSign, messages.SignRequest{
		Messages: []string{base64.StdEncoding.EncodeToString(msg)},
	})
	require.Equal(t, messages.StatusSuccess, rsp.Status)

	var resp messages.SignSuccessResponse
	require.NoError(t, messages.Unpack(rsp.Data, &resp))
	require.Len(t, resp.SignedHashes, 1)

	userKeys, err := user.PublicKey.Keys(testSuite)
	require.NoError(t, err)
	sig, err := base64.StdEncoding.DecodeString(resp.SignedHashes[0])
	require.NoError(t, err)
	assert.True(t, userKeys.Verify(msg, sig))
}

func TestDecrypt(t *testing.T) {
	s := newTestServer(t, nil)
	c := dial(t, s)
	user := loginAlice(t, c)

	userKeys, err := user.PublicKey.Keys(testSuite)
	require.NoError(t, err)
	enc, err := userKeys.Encrypt([]byte("secret"))
	require.NoError(t, err)

	rsp := call(t, c, messages.OpDecrypt, messages.DecryptRequest{
		EncryptedMessages: []string{base64.StdEncoding.EncodeToString(enc)},
	})
	require.Equal(t, messages.StatusSuccess, rsp.Status)

	var resp messages.DecryptSuccessResponse
	require.NoError(t, messages.Unpack(rsp.Data, &resp))
	require.Len(t, resp.DecryptedMessages, 1)
	plain, err := base64.StdEncoding.DecodeString(resp.DecryptedMessages[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), plain)
}

func TestBatchAllOrNothing(t *testing.T) {
	s := newTestServer(t, nil)
	c := dial(t, s)
	loginAlice(t, c)

	good := base64.StdEncoding.EncodeToString([]byte("fine"))
	bad := "%%% not base64 %%%"
	rsp := call(t, c, messages.OpSign, messages.SignRequest{Messages: []string{good, bad}})
	require.Equal(t, messages.StatusInvalidMessages, rsp.Status)

	// Only the failing items come back; no partial results leak.
	var fail messages.BatchFailureResponse
	require.NoError(t, messages.Unpack(rsp.Data, &fail))
	assert.Equal(t, []string{bad}, fail.InvalidMessages)

	// Decrypt refuses items that are valid base64 but not valid ciphertext.
	rsp = call(t, c, messages.OpDecrypt, messages.DecryptRequest{
		EncryptedMessages: []string{base64.StdEncoding.EncodeToString([]byte("junk"))},
	})
	assert.Equal(t, messages.StatusInvalidMessages, rsp.Status)
}
