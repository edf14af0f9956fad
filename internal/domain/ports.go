package domain

import "context"

// DocumentRenderer превращает шаблон документа (смета, счёт) в байты файла.
type DocumentRenderer interface {
	Render(ctx context.Context, template string, data any) ([]byte, error)
}

// DocumentStorage сохраняет файл и возвращает публичную ссылку на него.
type DocumentStorage interface {
	Upload(ctx context.Context, data []byte, name string) (string, error)
}

// ChatButton: кнопка интерактивного сообщения.
type ChatButton struct {
	ID    string
	Title string
}

// ChatSender отправляет сообщения клиенту в мессенджер.
type ChatSender interface {
	SendText(ctx context.Context, phone, text string) error
	SendInteractiveButtons(ctx context.Context, phone, body string, buttons []ChatButton) error
	SendDocument(ctx context.Context, phone, url, filename, caption string) error
}

// EmailSender отправляет письма.
type EmailSender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// PaymentLinkProvider создаёт ссылку на оплату заказа.
type PaymentLinkProvider interface {
	CreateLink(ctx context.Context, req PaymentLinkRequest) (string, error)
}

// PaymentStatusLookup возвращает актуальный статус оплаты заказа.
type PaymentStatusLookup interface {
	PaymentStatus(ctx context.Context, tenantID, orderID string) (PaymentStatus, error)
}

// OrderMirror зеркалирует заказ в клиентский портал.
type OrderMirror interface {
	MirrorOrder(ctx context.Context, order Order) error
}

// OutboxPublisher публикует события из outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}
