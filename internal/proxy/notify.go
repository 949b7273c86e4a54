package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/stridehq/tether/internal/types"
)

// pushMessageSchema validates incoming push payloads. Unknown fields are
// deliberately allowed (and ignored); only the declared fields are typed.
const pushMessageSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"type": {"type": "string"},
		"body": {"type": "string"},
		"url":  {"type": "string"}
	}
}`

var pushSchema = mustCompilePushSchema()

func mustCompilePushSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(pushMessageSchema))
	if err != nil {
		panic(fmt.Sprintf("parse push message schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("push-message.json", doc); err != nil {
		panic(fmt.Sprintf("add push message schema: %v", err))
	}
	schema, err := compiler.Compile("push-message.json")
	if err != nil {
		panic(fmt.Sprintf("compile push message schema: %v", err))
	}
	return schema
}

// notificationCopy is the fixed title/body/deep-link set for one message
// type. The body is a fallback used when the push carries none.
type notificationCopy struct {
	title string
	body  string
	url   string
}

// notificationCatalog maps declared push types to notification copy.
var notificationCatalog = map[string]notificationCopy{
	"workout_reminder": {
		title: "Time to train",
		body:  "Your scheduled workout is waiting.",
		url:   "/workouts/today",
	},
	"social_interaction": {
		title: "New activity on your post",
		body:  "Someone reacted to your post.",
		url:   "/feed/activity",
	},
	"streak_milestone": {
		title: "Streak milestone",
		body:  "You hit a new streak milestone. Keep it going!",
		url:   "/profile/streaks",
	},
}

// Generic fallback for unrecognized or absent message types.
const (
	genericTitle = "Stride"
	genericURL   = "/"
)

// ResolveNotification turns a push message into display-ready copy via the
// catalog. The message's own body and url, when present, win over the
// catalog's fallbacks.
func ResolveNotification(msg types.PushMessage) types.Notification {
	n := types.Notification{Title: genericTitle, URL: genericURL}
	if c, ok := notificationCatalog[msg.Type]; ok {
		n.Title = c.title
		n.Body = c.body
		n.URL = c.url
	}
	if msg.Body != "" {
		n.Body = msg.Body
	}
	if msg.URL != "" {
		n.URL = msg.URL
	}
	return n
}

// HandlePush validates and resolves an externally pushed message, then
// relays the notification to clients. A client is focused when one is open;
// otherwise the notification is reported as open-new; with zero clients
// this still succeeds.
func (wk *Worker) HandlePush(raw []byte) (types.Notification, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return types.Notification{}, fmt.Errorf("parse push message: %w", err)
	}
	if err := pushSchema.Validate(inst); err != nil {
		return types.Notification{}, fmt.Errorf("invalid push message: %w", err)
	}

	var msg types.PushMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return types.Notification{}, fmt.Errorf("decode push message: %w", err)
	}

	n := ResolveNotification(msg)
	focused := wk.hub.Notify(n)
	wk.metrics.NotificationsRelayed.Inc()

	slog.Info("notification relayed",
		"component", "proxy",
		"action", "push_relayed",
		"type", msg.Type,
		"focused_existing_client", focused,
	)
	return n, nil
}
