package notify

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

type stubRenderer struct {
	mu        sync.Mutex
	err       error
	templates []string
}

func (r *stubRenderer) Render(_ context.Context, template string, _ any) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates = append(r.templates, template)
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-" + template), nil
}

type stubStorage struct {
	mu    sync.Mutex
	err   error
	names []string
}

func (s *stubStorage) Upload(_ context.Context, _ []byte, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	if s.err != nil {
		return "", s.err
	}
	return "https://files.example/" + name, nil
}

type chatMessage struct {
	kind    string
	phone   string
	text    string
	url     string
	buttons []domain.ChatButton
}

type stubChat struct {
	mu       sync.Mutex
	err      error
	messages []chatMessage
}

func (c *stubChat) record(msg chatMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, msg)
	return nil
}

func (c *stubChat) SendText(_ context.Context, phone, text string) error {
	return c.record(chatMessage{kind: "text", phone: phone, text: text})
}

func (c *stubChat) SendInteractiveButtons(_ context.Context, phone, body string, buttons []domain.ChatButton) error {
	return c.record(chatMessage{kind: "buttons", phone: phone, text: body, buttons: buttons})
}

func (c *stubChat) SendDocument(_ context.Context, phone, url, _, caption string) error {
	return c.record(chatMessage{kind: "document", phone: phone, text: caption, url: url})
}

type sentEmail struct {
	to      string
	subject string
	html    string
}

type stubEmail struct {
	mu   sync.Mutex
	err  error
	sent []sentEmail
}

func (e *stubEmail) Send(_ context.Context, to, subject, html string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.sent = append(e.sent, sentEmail{to: to, subject: subject, html: html})
	return nil
}

type stubLookup struct {
	status domain.PaymentStatus
	err    error
	calls  int
}

func (l *stubLookup) PaymentStatus(context.Context, string, string) (domain.PaymentStatus, error) {
	l.calls++
	return l.status, l.err
}
