package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/averlane/parley/internal/identity"
	"github.com/averlane/parley/internal/registry"
	"nhooyr.io/websocket"
)

const (
	writeTimeout = 5 * time.Second

	// Transports that cannot carry cookies pass the token inline; the
	// browser client relies on the ambient cookie set at login.
	tokenQueryParam = "token"
	tokenCookie     = "auth_token"
)

// Verifier resolves a credential to the identity it asserts.
type Verifier interface {
	Verify(credential string) (identity.Identity, error)
}

// Gateway authenticates an incoming websocket connection and binds it
// into the registry and its role group before any traffic flows. An
// unauthenticated attempt is rejected with no registry state created.
type Gateway struct {
	verifier Verifier
	reg      *registry.Registry
	groups   *registry.Groups
}

func NewGateway(verifier Verifier, reg *registry.Registry, groups *registry.Groups) *Gateway {
	return &Gateway{verifier: verifier, reg: reg, groups: groups}
}

func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if g.verifier == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	credential := credentialFromRequest(r)
	if credential == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	id, err := g.verifier.Verify(credential)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	handle, sink, err := g.reg.Register(id)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "rejected")
		return
	}
	g.groups.Join(handle, id.Role.Group())

	ctx, cancel := context.WithCancel(r.Context())
	client := &client{
		conn:   conn,
		reg:    g.reg,
		handle: handle,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
	}

	// The request context dies when this handler returns, so the
	// handler blocks on the read side for the connection's lifetime.
	go client.writeLoop()
	client.readLoop()
}

// credentialFromRequest prefers the inline query token over the
// ambient cookie when both are present.
func credentialFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get(tokenQueryParam)); token != "" {
		return token
	}
	if cookie, err := r.Cookie(tokenCookie); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

type client struct {
	conn   *websocket.Conn
	reg    *registry.Registry
	handle registry.Handle
	sink   *registry.Sink
	ctx    context.Context
	cancel context.CancelFunc
}

// readLoop drains the peer. Delivery is push-only; inbound frames are
// discarded. A read error means the peer is gone.
func (c *client) readLoop() {
	defer c.teardown()
	for {
		if _, _, err := c.conn.Read(c.ctx); err != nil {
			return
		}
	}
}

func (c *client) writeLoop() {
	defer c.teardown()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.sink.Done():
			_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
			return
		case payload := <-c.sink.Out():
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (c *client) teardown() {
	c.cancel()
	c.reg.Unregister(c.handle)
	_ = c.conn.Close(websocket.StatusGoingAway, "closed")
}
