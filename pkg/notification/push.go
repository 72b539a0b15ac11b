package notification

import (
	"context"
	"errors"
)

// ErrNoPushClient is returned when no push transport has been configured.
var ErrNoPushClient = errors.New("push client not configured")

// PushConfig holds the push provider credential pair.
type PushConfig struct {
	AppKey       string
	MasterSecret string
}

// PushClient is the transport actually delivering a push message. The wire
// format is the provider's concern, not this package's.
type PushClient interface {
	Push(ctx context.Context, title, content string, audience map[string]interface{}, extras map[string]interface{}) error
}

type Pusher struct {
	cfg PushConfig
	cli PushClient
}

func NewPusher(cfg PushConfig, cli PushClient) *Pusher { return &Pusher{cfg: cfg, cli: cli} }

// PushToAlias delivers to the given user aliases.
func (p *Pusher) PushToAlias(ctx context.Context, alias []string, title, content string, extras map[string]interface{}) error {
	if p == nil || p.cli == nil {
		return ErrNoPushClient
	}
	aud := map[string]interface{}{"alias": alias}
	return p.cli.Push(ctx, title, content, aud, extras)
}

// PushToAll broadcasts to every registered device.
func (p *Pusher) PushToAll(ctx context.Context, title, content string, extras map[string]interface{}) error {
	if p == nil || p.cli == nil {
		return ErrNoPushClient
	}
	aud := map[string]interface{}{"all": true}
	return p.cli.Push(ctx, title, content, aud, extras)
}
