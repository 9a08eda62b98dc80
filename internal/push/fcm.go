package push

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
	fcm "google.golang.org/api/fcm/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tphakala/wildwatch/internal/conf"
	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/logger"
)

// ProviderFCM names the Firebase Cloud Messaging sender
const ProviderFCM = "fcm"

// FCMSender sends one FCM v1 message per device token. Targets are
// processed in chunks; within a chunk at most Concurrency requests run at
// once.
type FCMSender struct {
	service     *fcm.Service
	parent      string
	chunkSize   int
	concurrency int64
}

// NewFCMSender builds the FCM client from settings. An empty credentials
// file falls back to application default credentials; a custom endpoint
// disables authentication and is meant for emulators.
func NewFCMSender(ctx context.Context, settings *conf.PushSettings) (*FCMSender, error) {
	var opts []option.ClientOption
	switch {
	case settings.FCM.Endpoint != "":
		opts = append(opts, option.WithEndpoint(settings.FCM.Endpoint), option.WithoutAuthentication())
	case settings.FCM.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(settings.FCM.CredentialsFile))
	}

	svc, err := fcm.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.New(err).
			Component("push").
			Category(errors.CategoryConfiguration).
			Context("provider", ProviderFCM).
			Build()
	}

	concurrency := int64(settings.Concurrency)
	if concurrency <= 0 {
		concurrency = 8
	}
	return &FCMSender{
		service:     svc,
		parent:      "projects/" + settings.FCM.ProjectID,
		chunkSize:   settings.ChunkSize,
		concurrency: concurrency,
	}, nil
}

// Name implements Sender
func (s *FCMSender) Name() string { return ProviderFCM }

// Send implements Sender
func (s *FCMSender) Send(ctx context.Context, targets []string, title, body string, data map[string]string) (Result, error) {
	var total Result
	for i, chunk := range chunks(targets, s.chunkSize) {
		res := s.sendChunk(ctx, chunk, title, body, data)
		if res.Failure > 0 {
			GetLogger().Warn("push chunk had failures",
				logger.Int("chunk", i),
				logger.Int("success", res.Success),
				logger.Int("failure", res.Failure),
				logger.Int("dead_tokens", len(res.DeadTokens)))
		}
		total.Add(res)
		if ctx.Err() != nil {
			total.Failure += remaining(targets, i, s.chunkSize)
			return total, ctx.Err()
		}
	}
	return total, nil
}

func remaining(targets []string, chunkIndex, size int) int {
	if size <= 0 {
		size = DefaultChunkSize
	}
	done := (chunkIndex + 1) * size
	return max(0, len(targets)-done)
}

func (s *FCMSender) sendChunk(ctx context.Context, tokens []string, title, body string, data map[string]string) Result {
	sem := semaphore.NewWeighted(s.concurrency)
	var mu sync.Mutex
	var res Result
	var wg sync.WaitGroup

	for _, token := range tokens {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			res.Failure++
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			defer sem.Release(1)

			err := s.sendOne(ctx, token, title, body, data)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Success++
			case isUnregistered(err):
				res.Failure++
				res.DeadTokens = append(res.DeadTokens, token)
			default:
				res.Failure++
				GetLogger().Debug("push delivery failed", logger.Error(err))
			}
		}(token)
	}
	wg.Wait()
	return res
}

func (s *FCMSender) sendOne(ctx context.Context, token, title, body string, data map[string]string) error {
	req := &fcm.SendMessageRequest{
		Message: &fcm.Message{
			Token:        token,
			Notification: &fcm.Notification{Title: title, Body: body},
			Data:         data,
		},
	}
	_, err := s.service.Projects.Messages.Send(s.parent, req).Context(ctx).Do()
	return err
}

// isUnregistered reports a permanent token failure: FCM answers 404 or an
// UNREGISTERED error code for uninstalled apps and expired tokens.
func isUnregistered(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == 404 || strings.Contains(apiErr.Body, "UNREGISTERED")
}
