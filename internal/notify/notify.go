// Package notify pages an operator through a chat webhook. An empty webhook
// URL turns every call into a no-op.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	util "github.com/CodeAndHammer/duelqueue/internal/util"
)

type Notifier struct {
	webhookURL string
	client     *http.Client
}

func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.webhookURL != ""
}

// Notify posts message and logs, rather than returns, any failure.
func (n *Notifier) Notify(ctx context.Context, message string) {
	if !n.Enabled() {
		return
	}
	if err := n.send(ctx, message); err != nil {
		util.LogWarn("Operator notification failed: %v", err)
	}
}

func (n *Notifier) send(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]string{"content": message, "text": message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
