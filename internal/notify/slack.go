package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// SlackNotifier posts session lifecycle notifications (disconnects,
// reconnect hints) to a single configured Slack channel, for users who run
// long sessions unattended and want awareness outside the desktop app.
type SlackNotifier struct {
	client    *slack.Client
	channelID string
	logger    *slog.Logger
}

func NewSlackNotifier(token, channelID string, logger *slog.Logger) *SlackNotifier {
	return &SlackNotifier{
		client:    slack.New(token),
		channelID: channelID,
		logger:    logger,
	}
}

// Notify posts n as a single Slack message. Failures are logged, never
// returned, per the Notifier contract.
func (s *SlackNotifier) Notify(ctx context.Context, n Notification) error {
	text := fmt.Sprintf("*%s*\n%s", n.Title, n.Body)
	if n.SessionID != "" {
		text = fmt.Sprintf("%s\n_session: %s_", text, n.SessionID)
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channelID, slack.MsgOptionText(text, false))
	if err != nil {
		s.logger.Debug("slack notify failed", "err", err)
	}
	return nil
}
