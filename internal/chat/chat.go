// Package chat implements private two-person conversations.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"keepto/internal/docstore"
	"keepto/internal/models"
	"keepto/internal/observability"
)

const OpSendMessage = "send_message"

// Separator joins the two uids of a chat key.
const Separator = "_"

// Key derives the chat document key of two users. Both sides compute the
// same key without a lookup. Keys are only unambiguous for uids accepted by
// ValidParticipant.
func Key(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + Separator + pair[1]
}

// ValidParticipant reports whether uid can take part in a chat: it must be
// a document id and must not contain Separator.
func ValidParticipant(uid string) bool {
	return docstore.ValidID(uid) && !strings.Contains(uid, Separator)
}

// checkPair validates the two sides of a chat.
func checkPair(self, peer string) error {
	if self == "" || peer == "" {
		return models.NewValidationError("sender and recipient are required")
	}
	if !ValidParticipant(self) || !ValidParticipant(peer) {
		return models.NewValidationError("user id cannot be used in a chat")
	}
	if self == peer {
		return models.NewValidationError("cannot message yourself")
	}
	return nil
}

// Service sends messages.
type Service struct {
	store  docstore.Store
	logger *slog.Logger
}

func NewService(store docstore.Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: observability.Component(logger, "chat")}
}

// Send appends a message from one user to another and updates the chat
// summary in the same transaction.
func (s *Service) Send(ctx context.Context, from, to models.Profile, text string) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, models.NewValidationError("message text is required")
	}
	if err := checkPair(from.UID, to.UID); err != nil {
		return models.Message{}, err
	}

	key := Key(from.UID, to.UID)
	msg := models.Message{ID: docstore.NewID(), ChatID: key, SenderID: from.UID, Text: text}
	participants := []string{from.UID, to.UID}
	sort.Strings(participants)

	ctx, span := observability.StartSpan(ctx, "chat."+OpSendMessage, "chat_id", key)
	start := time.Now()
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		chat, err := tx.Get(models.ChatPath(key))
		if err != nil {
			return err
		}
		if err := tx.Set(docstore.Doc(models.MessagesCollection(key), msg.ID), msg.Data()); err != nil {
			return err
		}
		summary := docstore.Data{
			"participants": participants,
			"participantData": map[string]any{
				from.UID: participant(from),
				to.UID:   participant(to),
			},
			"lastMessage":   text,
			"lastMessageAt": docstore.ServerTimestamp,
			"lastSenderId":  from.UID,
		}
		if !chat.Exists {
			summary["createdAt"] = docstore.ServerTimestamp
		}
		return tx.Set(models.ChatPath(key), summary, docstore.Merge())
	})
	observability.TransactionLatency.WithLabelValues(OpSendMessage).Observe(time.Since(start).Seconds())
	observability.TransactionsTotal.WithLabelValues(OpSendMessage, observability.Outcome(err)).Inc()
	span.End(err)

	if err != nil {
		s.logger.WarnContext(ctx, "send message failed",
			slog.String("chat_id", key),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, docstore.ErrConflict) {
			return models.Message{}, models.NewConflictError("Too many concurrent updates, try again", err)
		}
		return models.Message{}, models.NewInternalError(fmt.Errorf("send message: %w", err))
	}
	return msg, nil
}

func participant(p models.Profile) map[string]any {
	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		name = models.UnknownAuthor
	}
	return map[string]any{"displayName": name, "photoURL": p.Photo()}
}
