package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"ric/comm"
	"ric/wire"
	"ric/ws"
)

// An Endpoint is one server role reachable at a WebSocket path. Connected is
// invoked once per accepted connection with a ready communicator; the
// returned detach func runs after the connection's receive loop ends.
type Endpoint interface {
	WSPath() string
	Connected(c *comm.Communicator) (detach func())
}

// Host accepts WebSocket connections for one or more endpoints, negotiating
// the envelope subprotocol and running each connection's receive loop to
// completion.
type Host struct {
	core     CoreServices
	router   *mux.Router
	upgrader websocket.Upgrader
}

// NewHost builds a host with no endpoints attached.
func NewHost(core CoreServices) *Host {
	return &Host{
		core:   core,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			Subprotocols:    wire.Subprotocols,
		},
	}
}

// Attach registers an endpoint at its WebSocket path.
func (h *Host) Attach(ep Endpoint) {
	h.router.HandleFunc(ep.WSPath(), func(w http.ResponseWriter, r *http.Request) {
		h.serve(ep, w, r)
	})
}

// Handler exposes the host as an http.Handler.
func (h *Host) Handler() http.Handler { return h.router }

// ListenAndServe serves the host's endpoints on addr until the listener
// fails.
func (h *Host) ListenAndServe(addr string) error {
	h.core.Log.Infof("listening on %s", addr)
	return http.ListenAndServe(addr, h.router)
}

// serve owns one connection from upgrade to disposal. It returns when the
// peer disconnects or the connection fails.
func (h *Host) serve(ep Endpoint, w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.core.Log.Warnf("upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	conn, err := ws.NewConn(sock, r.RemoteAddr, h.core.Log, false)
	if err != nil {
		// No agreed subprotocol.
		h.core.Log.Warnf("rejecting %s: %v", r.RemoteAddr, err)
		sock.Close()
		return
	}
	h.core.Log.Infof("accepted %s (%s) on %s", r.RemoteAddr, conn.Codec().Name(), ep.WSPath())

	c := comm.New(conn, comm.RoleAcceptor, h.core.Log)
	detach := ep.Connected(c)
	if err := conn.ReadWhileOpen(); err != nil {
		h.core.Log.Errorf("receive loop for %s: %v", r.RemoteAddr, err)
	}
	c.Dispose()
	if detach != nil {
		detach()
	}
	h.core.Log.Infof("closed %s", r.RemoteAddr)
}
