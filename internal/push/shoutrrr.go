package push

import (
	"context"
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/logger"
)

// ProviderShoutrrr names the operator channel sender
const ProviderShoutrrr = "shoutrrr"

// ShoutrrrSender relays report notices to operator channels (Telegram,
// Slack, e-mail and others) configured as shoutrrr URLs. Targets are the
// configured URLs; the targets argument of Send is ignored.
type ShoutrrrSender struct {
	urls   []string
	sender *router.ServiceRouter
}

// NewShoutrrrSender validates urls and builds the router
func NewShoutrrrSender(urls []string, timeout time.Duration) (*ShoutrrrSender, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one shoutrrr URL is required").
			Component("push").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		// the raw error may echo URL credentials
		return nil, errors.Newf("invalid shoutrrr URL configuration").
			Component("push").
			Category(errors.CategoryConfiguration).
			Context("urls", len(urls)).
			Build()
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrSender{urls: slices.Clone(urls), sender: sender}, nil
}

// Name implements Sender
func (s *ShoutrrrSender) Name() string { return ProviderShoutrrr }

// Send implements Sender
func (s *ShoutrrrSender) Send(ctx context.Context, _ []string, title, body string, _ map[string]string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{Failure: len(s.urls)}, err
	}

	params := stypes.Params{}
	params.SetTitle(title)

	var res Result
	for i, err := range s.sender.Send(body, &params) {
		if err != nil {
			res.Failure++
			GetLogger().Warn("operator notification failed",
				logger.Int("service_index", i),
				logger.Error(err))
			continue
		}
		res.Success++
	}
	return res, nil
}
