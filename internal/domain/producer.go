package domain

import (
	"encoding/json"
	"fmt"
)

// Topic names a producer event handed to the delivery service by the CRUD services.
type Topic string

const (
	TopicNotification            Topic = "notification"
	TopicChatMessageSent         Topic = "chat.message_sent"
	TopicChatCreated             Topic = "chat.created"
	TopicChatDeleted             Topic = "chat.deleted"
	TopicMessagesRead            Topic = "chat.messages_read"
	TopicApplicationSubmitted    Topic = "application.submitted"
	TopicApplicationStatusChange Topic = "application.status_changed"
	TopicJobCreated              Topic = "job.created"
	TopicJobUpdated              Topic = "job.updated"
	TopicJobDeleted              Topic = "job.deleted"
	TopicTeamUpdated             Topic = "team.updated"
	TopicProfileUpdated          Topic = "profile.updated"
)

var topics = map[Topic]struct{}{
	TopicNotification:            {},
	TopicChatMessageSent:         {},
	TopicChatCreated:             {},
	TopicChatDeleted:             {},
	TopicMessagesRead:            {},
	TopicApplicationSubmitted:    {},
	TopicApplicationStatusChange: {},
	TopicJobCreated:              {},
	TopicJobUpdated:              {},
	TopicJobDeleted:              {},
	TopicTeamUpdated:             {},
	TopicProfileUpdated:          {},
}

func (t Topic) Valid() bool {
	_, ok := topics[t]
	return ok
}

// ProducerEvent is the shape of an event a producer hands off.
//
// Which fields are read depends on Topic: To for direct events, Members/Exclude for
// room events, Job for job creation, Chat for chat messages.
type ProducerEvent struct {
	Topic   Topic           `json:"topic"`
	To      UserID          `json:"to,omitempty"`
	Members []UserID        `json:"members,omitempty"`
	Exclude UserID          `json:"exclude,omitempty"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Chat    json.RawMessage `json:"chat,omitempty"`
	Job     *JobSummary     `json:"job,omitempty"`
}

// DecodeProducerEvent parses and validates a producer event.
func DecodeProducerEvent(data []byte) (ProducerEvent, error) {
	var ev ProducerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ProducerEvent{}, fmt.Errorf("decode producer event: %w", err)
	}
	if !ev.Topic.Valid() {
		return ProducerEvent{}, fmt.Errorf("%w: %q", ErrUnknownTopic, ev.Topic)
	}
	return ev, nil
}
