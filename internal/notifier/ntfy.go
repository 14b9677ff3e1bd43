package notifier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Ntfy publishes plain-text messages to an ntfy-compatible topic endpoint.
type Ntfy struct {
	BaseURL string
	Topic   string
	Token   string
	HTTP    *http.Client
}

func NewNtfy(baseURL, topic, token string) *Ntfy {
	return &Ntfy{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Topic:   topic,
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *Ntfy) Enabled() bool {
	return n.BaseURL != "" && n.Topic != ""
}

func (n *Ntfy) Send(ctx context.Context, p Push) error {
	if !n.Enabled() {
		return fmt.Errorf("ntfy not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.BaseURL+"/"+n.Topic, strings.NewReader(p.Message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", p.Title)
	if p.Priority != 0 {
		req.Header.Set("Priority", strconv.Itoa(int(p.Priority)))
	}
	if p.URL != "" {
		req.Header.Set("Click", p.URL)
	}
	if n.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.Token)
	}
	res, err := n.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	resp, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	if res.StatusCode >= 300 {
		return fmt.Errorf("ntfy status %d: %s", res.StatusCode, string(resp))
	}
	return nil
}
