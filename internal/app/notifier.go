package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pscheid92/jobpulse/internal/domain"
)

var ErrMissingField = errors.New("producer event is missing a required field")

// Notifier is the entry point for producers. Each method builds one envelope kind
// and hands it to a single delivery primitive.
type Notifier struct {
	deliverer   domain.Deliverer
	matcher     domain.JobMatchAugmenter
	invalidator domain.ProfileInvalidator
}

// NewNotifier wires the producer entry points. matcher and invalidator may be nil:
// new jobs are then broadcast without a matches flag and profile updates are ignored.
func NewNotifier(deliverer domain.Deliverer, matcher domain.JobMatchAugmenter, invalidator domain.ProfileInvalidator) *Notifier {
	return &Notifier{deliverer: deliverer, matcher: matcher, invalidator: invalidator}
}

func (n *Notifier) Notify(ctx context.Context, userID domain.UserID, notification json.RawMessage) error {
	env, err := domain.NewEnvelope(domain.KindNotification, notification)
	if err != nil {
		return err
	}
	n.deliverer.SendToUser(ctx, userID, env)
	return nil
}

// ChatMessageSent fans a message out to the chat members except its sender.
// The chat summary, when given, is embedded in the message under "chat".
func (n *Notifier) ChatMessageSent(ctx context.Context, chatID string, message, chat json.RawMessage, members []domain.UserID, sender domain.UserID) error {
	env, err := domain.NewEnvelope(domain.KindChatMessage, message)
	if err != nil {
		return err
	}
	if len(chat) > 0 {
		if env, err = env.WithPayloadField("chat", chat); err != nil {
			return err
		}
	}
	n.deliverer.BroadcastToRoom(ctx, members, env.WithRoom(chatID), sender)
	return nil
}

func (n *Notifier) ChatCreated(ctx context.Context, chatID string, chat json.RawMessage, members []domain.UserID, creator domain.UserID) error {
	env, err := domain.NewEnvelope(domain.KindNewChat, chat)
	if err != nil {
		return err
	}
	n.deliverer.BroadcastToRoom(ctx, members, env.WithRoom(chatID), creator)
	return nil
}

func (n *Notifier) ChatDeleted(ctx context.Context, chatID string, members []domain.UserID) error {
	env, err := domain.NewEnvelope(domain.KindChatDeleted, map[string]string{"chatId": chatID})
	if err != nil {
		return err
	}
	n.deliverer.BroadcastToRoom(ctx, members, env.WithRoom(chatID), "")
	return nil
}

// MessagesRead tells the other chat members that reader has caught up.
func (n *Notifier) MessagesRead(ctx context.Context, chatID string, reader domain.UserID, members []domain.UserID) error {
	env, err := domain.NewEnvelope(domain.KindMessagesRead, map[string]string{"chatId": chatID, "userId": reader.String()})
	if err != nil {
		return err
	}
	n.deliverer.BroadcastToRoom(ctx, members, env.WithRoom(chatID), reader)
	return nil
}

func (n *Notifier) ApplicationSubmitted(ctx context.Context, recruiterID domain.UserID, application json.RawMessage) error {
	env, err := domain.NewEnvelope(domain.KindNewApplication, application)
	if err != nil {
		return err
	}
	n.deliverer.SendToUser(ctx, recruiterID, env)
	return nil
}

func (n *Notifier) ApplicationStatusChanged(ctx context.Context, applicantID domain.UserID, application json.RawMessage) error {
	env, err := domain.NewEnvelope(domain.KindApplicationUpdate, application)
	if err != nil {
		return err
	}
	n.deliverer.SendToUser(ctx, applicantID, env)
	return nil
}

// JobCreated broadcasts a new job to everyone online, flagging per recipient whether it matches their skills.
func (n *Notifier) JobCreated(ctx context.Context, job domain.JobSummary, record json.RawMessage) error {
	env, err := domain.NewEnvelope(domain.KindNewJob, record)
	if err != nil {
		return err
	}

	var augment domain.AugmentFunc
	if n.matcher != nil {
		augment = n.matcher.Augment(job)
	}
	n.deliverer.BroadcastAll(ctx, env, augment)
	return nil
}

func (n *Notifier) JobUpdated(ctx context.Context, record json.RawMessage) error {
	env, err := domain.NewEnvelope(domain.KindJobUpdated, record)
	if err != nil {
		return err
	}
	n.deliverer.BroadcastAll(ctx, env, nil)
	return nil
}

func (n *Notifier) JobDeleted(ctx context.Context, jobID string) error {
	env, err := domain.NewEnvelope(domain.KindJobDeleted, map[string]string{"jobId": jobID})
	if err != nil {
		return err
	}
	n.deliverer.BroadcastAll(ctx, env, nil)
	return nil
}

func (n *Notifier) TeamUpdated(ctx context.Context, teamID string, team json.RawMessage, members []domain.UserID) error {
	env, err := domain.NewEnvelope(domain.KindTeamUpdate, team)
	if err != nil {
		return err
	}
	n.deliverer.BroadcastToRoom(ctx, members, env.WithRoom(teamID), "")
	return nil
}

// ProfileUpdated drops cached skills so the next job broadcast sees the new profile.
func (n *Notifier) ProfileUpdated(ctx context.Context, userID domain.UserID) error {
	if n.invalidator == nil {
		return nil
	}
	if err := n.invalidator.InvalidateProfile(ctx, userID); err != nil {
		return fmt.Errorf("invalidate profile %s: %w", userID, err)
	}
	return nil
}

// Handle routes a decoded producer event.
//
//	notification, application.*       To
//	chat.message_sent                 RoomID (chat id), Members, Exclude (sender), Payload (message), Chat
//	chat.created, team.updated        RoomID, Members, Exclude, Payload
//	chat.deleted                      RoomID, Members
//	chat.messages_read                RoomID, Members, Exclude (reader)
//	job.created                       Job, Payload
//	job.updated                       Payload
//	job.deleted                       Job.ID
//	profile.updated                   To
func (n *Notifier) Handle(ctx context.Context, ev domain.ProducerEvent) error {
	switch ev.Topic {
	case domain.TopicNotification:
		if err := requireRecipient(ev); err != nil {
			return err
		}
		return n.Notify(ctx, ev.To, ev.Payload)
	case domain.TopicApplicationSubmitted:
		if err := requireRecipient(ev); err != nil {
			return err
		}
		return n.ApplicationSubmitted(ctx, ev.To, ev.Payload)
	case domain.TopicApplicationStatusChange:
		if err := requireRecipient(ev); err != nil {
			return err
		}
		return n.ApplicationStatusChanged(ctx, ev.To, ev.Payload)
	case domain.TopicChatMessageSent:
		return n.ChatMessageSent(ctx, ev.RoomID, ev.Payload, ev.Chat, ev.Members, ev.Exclude)
	case domain.TopicChatCreated:
		return n.ChatCreated(ctx, ev.RoomID, ev.Payload, ev.Members, ev.Exclude)
	case domain.TopicChatDeleted:
		if ev.RoomID == "" {
			return fmt.Errorf("%w: roomId", ErrMissingField)
		}
		return n.ChatDeleted(ctx, ev.RoomID, ev.Members)
	case domain.TopicMessagesRead:
		if ev.RoomID == "" || ev.Exclude == "" {
			return fmt.Errorf("%w: roomId and exclude", ErrMissingField)
		}
		return n.MessagesRead(ctx, ev.RoomID, ev.Exclude, ev.Members)
	case domain.TopicJobCreated:
		if ev.Job == nil {
			return fmt.Errorf("%w: job", ErrMissingField)
		}
		return n.JobCreated(ctx, *ev.Job, ev.Payload)
	case domain.TopicJobUpdated:
		return n.JobUpdated(ctx, ev.Payload)
	case domain.TopicJobDeleted:
		if ev.Job == nil || ev.Job.ID == "" {
			return fmt.Errorf("%w: job.id", ErrMissingField)
		}
		return n.JobDeleted(ctx, ev.Job.ID)
	case domain.TopicTeamUpdated:
		return n.TeamUpdated(ctx, ev.RoomID, ev.Payload, ev.Members)
	case domain.TopicProfileUpdated:
		if err := requireRecipient(ev); err != nil {
			return err
		}
		return n.ProfileUpdated(ctx, ev.To)
	default:
		slog.WarnContext(ctx, "Ignoring producer event with unknown topic", "topic", ev.Topic)
		return fmt.Errorf("%w: %q", domain.ErrUnknownTopic, ev.Topic)
	}
}

func requireRecipient(ev domain.ProducerEvent) error {
	if ev.To == "" {
		return fmt.Errorf("%w: to", ErrMissingField)
	}
	return nil
}
