package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// EventType names a committed role mutation.
type EventType string

// Event types published after commit.
const (
	EventRoleCreated     EventType = "role.created"
	EventRoleUpdated     EventType = "role.updated"
	EventRoleMoved       EventType = "role.moved"
	EventRoleDeleted     EventType = "role.deleted"
	EventMemberAdded     EventType = "member.added"
	EventMemberRemoved   EventType = "member.removed"
	EventRolesRenumbered EventType = "roles.renumbered"
)

// Event describes a committed change so other processes can drop cached permissions.
type Event struct {
	ID       uuid.UUID `json:"id"`
	Type     EventType `json:"type"`
	RoleID   int64     `json:"role_id,string,omitempty"`
	UserID   int64     `json:"user_id,string,omitempty"`
	ActorID  int64     `json:"actor_id,string,omitempty"`
	Position int       `json:"position,omitempty"`
	At       time.Time `json:"at"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(t EventType, roleID, actorID int64) Event {
	return Event{ID: uuid.New(), Type: t, RoleID: roleID, ActorID: actorID, At: time.Now().UTC()}
}

// Publisher delivers events. Publishing happens after commit and is best effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// RedisPublisher publishes events as JSON on a Redis channel.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisPublisher constructs a RedisPublisher.
func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("roles: encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("roles: publish event: %w", err)
	}
	return nil
}
