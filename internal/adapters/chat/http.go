// Package chat отправляет сообщения клиентам через HTTP API мессенджера (формат WhatsApp Cloud API).
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

const (
	defaultTimeout = 15 * time.Second
	// У интерактивного сообщения не больше трёх кнопок, заголовок до 20 символов.
	maxButtons     = 3
	maxButtonTitle = 20
)

// ErrNoRecipient возвращается для пустого номера телефона.
var ErrNoRecipient = errors.New("chat recipient phone is required")

// Config описывает подключение к API мессенджера.
type Config struct {
	BaseURL string
	PhoneID string
	Token   string
	Timeout time.Duration
}

// HTTPSender вызывает POST {BaseURL}/{PhoneID}/messages.
type HTTPSender struct {
	client   *http.Client
	endpoint string
	token    string
}

// NewHTTPSender создаёт отправителя. client может быть nil.
func NewHTTPSender(cfg Config, client *http.Client) (*HTTPSender, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" || cfg.PhoneID == "" {
		return nil, errors.New("chat base url and phone id are required")
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPSender{client: client, endpoint: base + "/" + cfg.PhoneID + "/messages", token: cfg.Token}, nil
}

type message struct {
	Product     string       `json:"messaging_product"`
	To          string       `json:"to"`
	Type        string       `json:"type"`
	Text        *textBody    `json:"text,omitempty"`
	Interactive *interactive `json:"interactive,omitempty"`
	Document    *document    `json:"document,omitempty"`
}

type textBody struct {
	Body string `json:"body"`
}

type interactive struct {
	Type   string   `json:"type"`
	Body   textBody `json:"body"`
	Action action   `json:"action"`
}

type action struct {
	Buttons []button `json:"buttons"`
}

type button struct {
	Type  string `json:"type"`
	Reply reply  `json:"reply"`
}

type reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type document struct {
	Link     string `json:"link"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

func (s *HTTPSender) SendText(ctx context.Context, phone, text string) error {
	return s.send(ctx, message{To: phone, Type: "text", Text: &textBody{Body: text}})
}

// SendInteractiveButtons отправляет текст с кнопками быстрого ответа.
// Лишние кнопки отбрасываются, длинные заголовки обрезаются.
func (s *HTTPSender) SendInteractiveButtons(ctx context.Context, phone, body string, buttons []domain.ChatButton) error {
	if len(buttons) == 0 {
		return s.SendText(ctx, phone, body)
	}
	if len(buttons) > maxButtons {
		buttons = buttons[:maxButtons]
	}
	out := make([]button, 0, len(buttons))
	for _, b := range buttons {
		out = append(out, button{Type: "reply", Reply: reply{ID: b.ID, Title: truncate(b.Title, maxButtonTitle)}})
	}
	return s.send(ctx, message{
		To:   phone,
		Type: "interactive",
		Interactive: &interactive{
			Type:   "button",
			Body:   textBody{Body: body},
			Action: action{Buttons: out},
		},
	})
}

func (s *HTTPSender) SendDocument(ctx context.Context, phone, url, filename, caption string) error {
	return s.send(ctx, message{To: phone, Type: "document", Document: &document{Link: url, Filename: filename, Caption: caption}})
}

func (s *HTTPSender) send(ctx context.Context, msg message) error {
	msg.To = normalizePhone(msg.To)
	if msg.To == "" {
		return ErrNoRecipient
	}
	msg.Product = "whatsapp"

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode chat message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send chat %s message: %w", msg.Type, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send chat %s message: status %d: %s", msg.Type, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// normalizePhone оставляет только цифры: API принимает номер без "+" и разделителей.
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}

// LogSender пишет сообщения в лог вместо отправки. Для dev-окружения.
type LogSender struct {
	logger *log.Entry
}

func NewLogSender(logger *log.Entry) *LogSender {
	if logger == nil {
		logger = log.WithField("component", "chat-log")
	}
	return &LogSender{logger: logger}
}

func (l *LogSender) SendText(_ context.Context, phone, text string) error {
	l.logger.WithFields(log.Fields{"to": phone, "text": text}).Info("chat text")
	return nil
}

func (l *LogSender) SendInteractiveButtons(_ context.Context, phone, body string, buttons []domain.ChatButton) error {
	ids := make([]string, 0, len(buttons))
	for _, b := range buttons {
		ids = append(ids, b.ID)
	}
	l.logger.WithFields(log.Fields{"to": phone, "text": body, "buttons": ids}).Info("chat buttons")
	return nil
}

func (l *LogSender) SendDocument(_ context.Context, phone, url, filename, _ string) error {
	l.logger.WithFields(log.Fields{"to": phone, "url": url, "filename": filename}).Info("chat document")
	return nil
}

var (
	_ domain.ChatSender = (*HTTPSender)(nil)
	_ domain.ChatSender = (*LogSender)(nil)
)
