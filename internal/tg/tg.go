// Package tg provides a client for the subset of the Telegram Bot API used
// by the bot: long polling, message sending and editing, callback query
// answers and chat membership checks.
package tg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.salikov.me/argus/internal/request"
)

const defaultAPIURL = "https://api.telegram.org"

// Client is a Telegram Bot API client.
type Client struct {
	// Token is the bot token used for authentication.
	Token string
	// HTTPClient is an optional custom HTTP client object to use for requests.
	// If not provided, request.DefaultClient will be used.
	HTTPClient *http.Client
	// Scrubber is an optional strings.Replacer that scrubs the token from
	// error messages.
	Scrubber *strings.Replacer
	// APIURL overrides the Bot API base URL; used in tests.
	APIURL string
}

func (c *Client) apiURL() string {
	if c.APIURL != "" {
		return c.APIURL
	}
	return defaultAPIURL
}

// Error is an error response of the Bot API.
type Error struct {
	Code        int
	Description string
	RetryAfter  time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("telegram: %d %s", e.Code, e.Description)
}

// IsConflict reports whether err is the Bot API conflict error raised when
// another process polls updates with the same token.
func IsConflict(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Code == http.StatusConflict
}

// IsParseError reports whether err means Telegram rejected the message
// markup. The same content should be retried as plain text.
func IsParseError(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Code == http.StatusBadRequest &&
		strings.Contains(te.Description, "can't parse entities")
}

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	Description string `json:"description,omitempty"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Parameters  struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

func call[T any](ctx context.Context, c *Client, method string, args any) (T, error) {
	var zero T
	resp, err := request.Make[apiResponse[T]](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        c.apiURL() + "/bot" + c.Token + "/" + method,
		Body:       args,
		HTTPClient: c.HTTPClient,
		Scrubber:   c.Scrubber,
	})
	if err != nil {
		var se *request.StatusError
		if errors.As(err, &se) {
			var apiErr apiResponse[json.RawMessage]
			if jsonErr := json.Unmarshal(se.Body, &apiErr); jsonErr == nil && apiErr.Description != "" {
				return zero, &Error{
					Code:        apiErr.ErrorCode,
					Description: apiErr.Description,
					RetryAfter:  time.Duration(apiErr.Parameters.RetryAfter) * time.Second,
				}
			}
		}
		return zero, err
	}
	if !resp.OK {
		return zero, &Error{Code: resp.ErrorCode, Description: resp.Description}
	}
	return resp.Result, nil
}

// GetUpdates long-polls the Bot API for new updates starting from offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	return call[[]Update](ctx, c, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	})
}

// SendMessage sends a message.
func (c *Client) SendMessage(ctx context.Context, m *OutgoingMessage) (*Message, error) {
	return call[*Message](ctx, c, "sendMessage", m)
}

// EditMessageText edits the text of a previously sent message.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	_, err := call[json.RawMessage](ctx, c, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	})
	return err
}

// AnswerCallbackQuery acknowledges a callback query, optionally flashing text
// to the user.
func (c *Client) AnswerCallbackQuery(ctx context.Context, id, text string) error {
	_, err := call[json.RawMessage](ctx, c, "answerCallbackQuery", map[string]any{
		"callback_query_id": id,
		"text":              text,
	})
	return err
}

// SendVideo sends a video by URL; Telegram downloads and re-serves it.
func (c *Client) SendVideo(ctx context.Context, chatID int64, videoURL, caption string) error {
	_, err := call[json.RawMessage](ctx, c, "sendVideo", map[string]any{
		"chat_id": chatID,
		"video":   videoURL,
		"caption": caption,
	})
	return err
}

// GetChatMember returns the membership record of a user in a chat
// (e.g. "@channel").
func (c *Client) GetChatMember(ctx context.Context, chat string, userID int64) (ChatMember, error) {
	return call[ChatMember](ctx, c, "getChatMember", map[string]any{
		"chat_id": chat,
		"user_id": userID,
	})
}

// DeleteWebhook removes a configured webhook so that long polling can be
// used.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	_, err := call[bool](ctx, c, "deleteWebhook", map[string]any{})
	return err
}
