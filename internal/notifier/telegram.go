package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// Telegram posts alerts to one chat through the Bot API.
type Telegram struct {
	Token  string
	ChatID string
	HTTP   *http.Client
}

func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		Token:  token,
		ChatID: chatID,
		HTTP:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Telegram) Enabled() bool {
	return t.Token != "" && t.ChatID != ""
}

type telegramMessage struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode"`
	DisablePreview      bool   `json:"disable_web_page_preview"`
	DisableNotification bool   `json:"disable_notification"`
}

type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// formatTelegram renders p as Bot API HTML: bold title, plain body, link.
func formatTelegram(p Push) string {
	var b strings.Builder
	b.WriteString("<b>" + html.EscapeString(p.Title) + "</b>")
	if p.Message != "" {
		b.WriteString("\n" + html.EscapeString(p.Message))
	}
	if p.URL != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">Open</a>", html.EscapeString(p.URL))
	}
	return b.String()
}

func (t *Telegram) Send(ctx context.Context, p Push) error {
	if !t.Enabled() {
		return fmt.Errorf("telegram not configured")
	}
	body, err := json.Marshal(telegramMessage{
		ChatID:              t.ChatID,
		Text:                formatTelegram(p),
		ParseMode:           "HTML",
		DisablePreview:      true,
		DisableNotification: p.Priority != 0 && p.Priority < PriorityDefault,
	})
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/bot%s/sendMessage", telegramAPI, t.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := t.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	var reply telegramReply
	if jerr := json.Unmarshal(raw, &reply); jerr == nil && !reply.OK && reply.Description != "" {
		return fmt.Errorf("telegram status %d: %s", res.StatusCode, reply.Description)
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d: %s", res.StatusCode, string(raw))
	}
	return nil
}
