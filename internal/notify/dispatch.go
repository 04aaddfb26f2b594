package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Dispatcher posts messages to chat-bot webhooks.
type Dispatcher struct {
	client *http.Client
}

func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{client: &http.Client{Timeout: timeout}}
}

type markdownMessage struct {
	MsgType  string `json:"msgtype"`
	Markdown struct {
		Content string `json:"content"`
	} `json:"markdown"`
}

// botResponse is the reply shape shared by the common chat bots. A missing
// errcode decodes as zero.
type botResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Send posts content as a markdown message to webhook.
func (d *Dispatcher) Send(ctx context.Context, webhook, content string) error {
	msg := markdownMessage{MsgType: "markdown"}
	msg.Markdown.Content = content
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook error: %s", resp.Status)
	}
	var reply botResponse
	if json.Unmarshal(raw, &reply) == nil && reply.ErrCode != 0 {
		return fmt.Errorf("webhook rejected message: %d %s", reply.ErrCode, reply.ErrMsg)
	}
	return nil
}
