package domain

import "time"

type NotificationKind string

const (
	NotificationInfo  NotificationKind = "info"
	NotificationError NotificationKind = "error"
)

// User-facing messages. Their wording is part of the front-end contract.
const (
	MessageAdded              = "Adicionado"
	MessageOutOfStock         = "Quantidade solicitada fora de estoque"
	MessageAddFailed          = "Erro na adição do produto"
	MessageRemoveFailed       = "Erro na remoção do produto"
	MessageUpdateAmountFailed = "Erro na alteração de quantidade do produto"
)

// Notification is a transient message describing an operation outcome.
type Notification struct {
	Message   string           `json:"message"`
	Kind      NotificationKind `json:"kind"`
	CreatedAt time.Time        `json:"created_at"`
}

func NewNotification(message string, kind NotificationKind) Notification {
	return Notification{
		Message:   message,
		Kind:      kind,
		CreatedAt: time.Now(),
	}
}
