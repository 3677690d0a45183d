package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"github.com/example/carpool-matching/internal/models"
)

// maxReplyMessages is the Messaging API limit per reply/push request.
const maxReplyMessages = 5

// LineClient talks to the LINE Messaging API. Calls are bounded by the HTTP
// client timeout; the SDK client is shared between goroutines, so request
// contexts are not attached to it.
type LineClient struct {
	api *messaging_api.MessagingApiAPI
}

func NewLineClient(channelToken string, timeout time.Duration) (*LineClient, error) {
	api, err := messaging_api.NewMessagingApiAPI(channelToken,
		messaging_api.WithHTTPClient(&http.Client{Timeout: timeout}))
	if err != nil {
		return nil, fmt.Errorf("line messaging client: %w", err)
	}
	return &LineClient{api: api}, nil
}

func (c *LineClient) Notify(ctx context.Context, n models.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.api.PushMessage(&messaging_api.PushMessageRequest{
		To:       n.UserID,
		Messages: []messaging_api.MessageInterface{toMessage(n)},
	}, "")
	return err
}

// Reply answers a webhook event with up to five notifications; the rest are
// returned for push delivery.
func (c *LineClient) Reply(ctx context.Context, replyToken string, notes []models.Notification) ([]models.Notification, error) {
	if replyToken == "" || len(notes) == 0 {
		return notes, nil
	}
	if err := ctx.Err(); err != nil {
		return notes, err
	}
	n := len(notes)
	if n > maxReplyMessages {
		n = maxReplyMessages
	}
	msgs := make([]messaging_api.MessageInterface, 0, n)
	for _, note := range notes[:n] {
		msgs = append(msgs, toMessage(note))
	}
	if _, err := c.api.ReplyMessage(&messaging_api.ReplyMessageRequest{ReplyToken: replyToken, Messages: msgs}); err != nil {
		return notes, err
	}
	return notes[n:], nil
}

func (c *LineClient) DisplayName(ctx context.Context, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := c.api.GetProfile(userID)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", errors.New("empty profile response")
	}
	return p.DisplayName, nil
}

func (c *LineClient) ShowLoading(ctx context.Context, userID string, seconds int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.api.ShowLoadingAnimation(&messaging_api.ShowLoadingAnimationRequest{
		ChatId:         userID,
		LoadingSeconds: int32(ClampLoadingSeconds(seconds)),
	})
	return err
}

func toMessage(n models.Notification) messaging_api.MessageInterface {
	msg := &messaging_api.TextMessage{Text: n.Text}
	if len(n.Actions) == 0 {
		return msg
	}
	items := make([]messaging_api.QuickReplyItem, 0, len(n.Actions))
	for _, a := range n.Actions {
		items = append(items, messaging_api.QuickReplyItem{Type: "action", Action: toAction(a)})
	}
	msg.QuickReply = &messaging_api.QuickReply{Items: items}
	return msg
}

func toAction(a models.Action) messaging_api.ActionInterface {
	switch {
	case a.LocationPicker:
		return &messaging_api.LocationAction{Label: a.Label}
	case a.URI != "":
		return &messaging_api.UriAction{Label: a.Label, Uri: a.URI}
	default:
		return &messaging_api.PostbackAction{Label: a.Label, Data: a.Data, DisplayText: a.Label}
	}
}
