package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/averlane/parley/internal/identity"
	"github.com/averlane/parley/internal/message"
	"github.com/averlane/parley/internal/registry"
	"github.com/averlane/parley/internal/securelog"
	"github.com/google/uuid"
)

var ErrInvalidMessage = errors.New("invalid message")

// Router decides delivery targets for each message and owns the
// persistence-then-broadcast order: a message is durably recorded
// before any live delivery is attempted, and a failed delivery never
// rolls the record back.
type Router struct {
	reg    *registry.Registry
	groups *registry.Groups
	store  message.Store
	idGen  func() message.ID
	now    func() time.Time
}

func New(reg *registry.Registry, groups *registry.Groups, store message.Store) *Router {
	return &Router{
		reg:    reg,
		groups: groups,
		store:  store,
		idGen: func() message.ID {
			return message.ID(uuid.NewString())
		},
		now: time.Now,
	}
}

type receiveEvent struct {
	Type    string       `json:"type"`
	Message eventMessage `json:"message"`
}

type eventMessage struct {
	ID         message.ID    `json:"id"`
	Sender     string        `json:"sender"`
	Receiver   string        `json:"receiver"`
	Body       []byte        `json:"body"`
	SenderRole identity.Role `json:"sender_role"`
	Kind       message.Type  `json:"message_type"`
	SentAt     string        `json:"sent_at"`
}

type userAddedEvent struct {
	Type string        `json:"type"`
	User userAddedUser `json:"user"`
}

type userAddedUser struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// Route persists msg and fans it out. Group messages go to every
// currently-connected handle regardless of the addressed roster; this
// reproduces the deployed behavior and is relied on by clients, do not
// narrow it to the group's members. Individual messages go to handles
// bound to the sender or receiver email. Delivery is at-most-once per
// handle and fire-and-forget: a handle that is full or concurrently
// disconnecting is silently skipped. Returns the committed message and
// the handles it was delivered to.
func (r *Router) Route(ctx context.Context, msg message.Message) (message.Message, []registry.Handle, error) {
	if msg.Sender == "" || msg.Receiver == "" || len(msg.Body) == 0 {
		return message.Message{}, nil, ErrInvalidMessage
	}
	switch msg.Type {
	case message.TypeIndividual, message.TypeGroup:
	default:
		return message.Message{}, nil, ErrInvalidMessage
	}

	msg.ID = r.idGen()
	msg.SentAt = r.now().UTC()

	if err := r.store.Persist(ctx, msg); err != nil {
		return message.Message{}, nil, fmt.Errorf("persist message: %w", err)
	}

	payload, err := json.Marshal(receiveEvent{
		Type: "ReceiveMessage",
		Message: eventMessage{
			ID:         msg.ID,
			Sender:     msg.Sender,
			Receiver:   msg.Receiver,
			Body:       msg.Body,
			SenderRole: msg.SenderRole,
			Kind:       msg.Type,
			SentAt:     msg.SentAt.Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		securelog.Error("router.route", err)
		return msg, nil, nil
	}

	var delivered []registry.Handle
	for _, conn := range r.reg.Connections() {
		if !r.targets(msg, conn.Identity) {
			continue
		}
		if conn.Sink.Deliver(payload) {
			delivered = append(delivered, conn.Handle)
		}
	}
	return msg, delivered, nil
}

func (r *Router) targets(msg message.Message, id identity.Identity) bool {
	if msg.Type == message.TypeGroup {
		return true
	}
	return id.Email == msg.Sender || id.Email == msg.Receiver
}

// AnnounceUserAdded publishes an admission notification to every
// connected handle. The payload carries the name and email only, never
// credentials.
func (r *Router) AnnounceUserAdded(fullName, email string) {
	payload, err := json.Marshal(userAddedEvent{
		Type: "UserAdded",
		User: userAddedUser{FullName: fullName, Email: email},
	})
	if err != nil {
		securelog.Error("router.announce", err)
		return
	}
	for _, conn := range r.reg.Connections() {
		conn.Sink.Deliver(payload)
	}
}

// RosterSize reports the current size of a group roster.
func (r *Router) RosterSize(group string) int {
	return len(r.groups.MembersOf(group))
}
