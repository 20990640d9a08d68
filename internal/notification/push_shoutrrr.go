package notification

import (
	"context"
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/errors"
)

// ShoutrrrPusher sends messages via nicholas-fedor/shoutrrr. A single router
// serves all configured URLs.
type ShoutrrrPusher struct {
	urls     []string
	minLevel Level
	sender   *router.ServiceRouter
}

// NewShoutrrrPusher validates the service URLs and builds the router.
func NewShoutrrrPusher(urls []string, minLevel Level, timeout time.Duration) (*ShoutrrrPusher, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one push URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		// URLs may carry tokens, keep them out of the error
		return nil, errors.Newf("invalid push URL configuration").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("url_count", len(urls)).
			Build()
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))

	return &ShoutrrrPusher{
		urls:     slices.Clone(urls),
		minLevel: minLevel,
		sender:   sender,
	}, nil
}

// NewPushersFromSettings returns the configured pushers, none when push is disabled.
func NewPushersFromSettings(settings *conf.NotificationSettings) ([]Pusher, error) {
	if !settings.Push.Enabled {
		return nil, nil
	}
	p, err := NewShoutrrrPusher(settings.Push.URLs, ParseLevel(settings.Push.MinLevel), pushSendTimeout)
	if err != nil {
		return nil, err
	}
	return []Pusher{p}, nil
}

func (s *ShoutrrrPusher) Name() string { return "shoutrrr" }

// Accepts reports whether msg is at or above the configured level.
func (s *ShoutrrrPusher) Accepts(msg *Message) bool {
	return msg.Level.rank() >= s.minLevel.rank()
}

func (s *ShoutrrrPusher) Send(ctx context.Context, msg *Message) error {
	_ = ctx // router applies its own timeout

	params := stypes.Params{}
	if msg.Title != "" {
		params.SetTitle(msg.Title)
	}
	for _, err := range s.sender.Send(msg.Body, &params) {
		if err != nil {
			return errors.New(err).
				Component("notification").
				Category(errors.CategoryNetwork).
				Context("kind", string(msg.Kind)).
				Build()
		}
	}
	return nil
}
