package models

import (
	"time"

	"keepto/internal/docstore"
)

const (
	ChatsCollection = "chats"
	messagesSub     = "messages"
)

// Participant is the per-user summary stored on a chat document.
type Participant struct {
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

// Chat is a private conversation between two users.
type Chat struct {
	ID              string                 `json:"id"`
	Participants    []string               `json:"participants"`
	ParticipantData map[string]Participant `json:"participant_data"`
	LastMessage     string                 `json:"last_message"`
	LastMessageAt   time.Time              `json:"last_message_at"`
	LastSenderID    string                 `json:"last_sender_id"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Other returns the participant that is not uid.
func (c Chat) Other(uid string) (string, Participant) {
	for _, p := range c.Participants {
		if p != uid {
			return p, c.ParticipantData[p]
		}
	}
	return uid, c.ParticipantData[uid]
}

// ChatPath returns the document path of a chat.
func ChatPath(key string) string {
	return docstore.Doc(ChatsCollection, key)
}

// MessagesCollection returns the collection holding a chat's messages.
func MessagesCollection(key string) string {
	return docstore.Doc(ChatsCollection, key, messagesSub)
}

// ChatFromSnapshot decodes a chat document.
func ChatFromSnapshot(s docstore.Snapshot) Chat {
	c := Chat{
		ID:              s.ID,
		Participants:    s.Data.Strings("participants"),
		ParticipantData: make(map[string]Participant),
		LastMessage:     s.Data.String("lastMessage"),
		LastMessageAt:   s.Data.Time("lastMessageAt"),
		LastSenderID:    s.Data.String("lastSenderId"),
		CreatedAt:       s.Data.Time("createdAt"),
	}
	pd := s.Data.Map("participantData")
	for uid := range pd {
		entry := pd.Map(uid)
		c.ParticipantData[uid] = Participant{
			DisplayName: entry.String("displayName"),
			PhotoURL:    entry.String("photoURL"),
		}
	}
	return c
}

// Message is one append-only chat message.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (m Message) Data() docstore.Data {
	return docstore.Data{
		"senderId":  m.SenderID,
		"text":      m.Text,
		"createdAt": docstore.ServerTimestamp,
	}
}

// MessageFromSnapshot decodes a message document of chat key.
func MessageFromSnapshot(key string, s docstore.Snapshot) Message {
	return Message{
		ID:        s.ID,
		ChatID:    key,
		SenderID:  s.Data.String("senderId"),
		Text:      s.Data.String("text"),
		CreatedAt: s.Data.Time("createdAt"),
	}
}
