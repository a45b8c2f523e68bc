package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

type SlackChannel struct {
	webhookURL string
	client     *resty.Client
}

func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     resty.New().SetTimeout(5 * time.Second),
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, alert AlertPayload) error {
	if s.webhookURL == "" {
		return nil
	}

	color := "#36a64f" // Green (Info)
	switch alert.Level {
	case Warning:
		color = "#ffcc00"
	case Error:
		color = "#ff0000"
	case Critical:
		color = "#8b0000"
	}

	fields := make([]map[string]interface{}, 0, len(alert.Fields))
	for _, k := range alert.SortedFieldKeys() {
		fields = append(fields, map[string]interface{}{
			"title": k,
			"value": alert.Fields[k],
			"short": true,
		})
	}

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":   color,
				"pretext": fmt.Sprintf("[%s] %s", alert.Level, alert.Title),
				"text":    alert.Message,
				"fields":  fields,
				"ts":      alert.Timestamp.Unix(),
				"footer":  "spot_trader",
			},
		},
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(s.webhookURL)
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("slack webhook failed with status: %d", resp.StatusCode())
	}
	return nil
}
