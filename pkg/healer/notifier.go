package healer

import (
	"context"
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/cuemby/fleetcore/pkg/log"
)

// Notifier alerts an operator channel when the Supervisor gives up on a
// container. A zero-value Notifier (no token) is a no-op so healing works
// without Slack configured.
type Notifier struct {
	client  *goslack.Client
	channel string
}

func NewNotifier(botToken, channel string) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel}
}

func (n *Notifier) enabled() bool {
	return n != nil && n.client != nil && n.channel != ""
}

// NotifySkippedMaxAttempts posts a message when a container exhausts
// MAX_HEAL_ATTEMPTS and the Supervisor stops trying to heal it.
func (n *Notifier) NotifySkippedMaxAttempts(ctx context.Context, containerID string, attempts int) {
	if !n.enabled() {
		return
	}

	text := fmt.Sprintf(":rotating_light: container `%s` exceeded %d heal attempts and was left dead", containerID, attempts)
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false)); err != nil {
		log.Logger.Error().Err(err).Str("container_id", containerID).Msg("failed to post slack notification")
	}
}
