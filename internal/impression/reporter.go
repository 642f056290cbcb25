// Package impression delivers campaign interaction telemetry in the background.
package impression

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"inapp-messaging/internal/campaign"
	"inapp-messaging/internal/observability"
	"inapp-messaging/internal/remote"
	"inapp-messaging/internal/repository"
	"inapp-messaging/internal/workqueue"
)

// Submitter is the slice of the work queue the reporter needs.
type Submitter interface {
	Submit(ctx context.Context, key string, job workqueue.Job, c workqueue.Constraints) error
}

// Sender delivers one impression request.
type Sender func(ctx context.Context, req remote.ImpressionRequest) error

// Reporter queues impression requests behind a network constraint. Delivery
// failures never reach the caller; they are logged and counted.
type Reporter struct {
	queue   Submitter
	send    Sender
	host    *repository.HostRepository
	account *repository.AccountRepository
	now     func() time.Time
	onError func(error)
	log     zerolog.Logger
}

// Option configures a Reporter.
type Option func(*Reporter)

func WithClock(now func() time.Time) Option { return func(r *Reporter) { r.now = now } }

func WithLogger(l zerolog.Logger) Option { return func(r *Reporter) { r.log = l } }

// WithErrorHandler receives errors from queuing a report.
func WithErrorHandler(fn func(error)) Option { return func(r *Reporter) { r.onError = fn } }

func NewReporter(queue Submitter, send Sender, host *repository.HostRepository, account *repository.AccountRepository, opts ...Option) *Reporter {
	r := &Reporter{
		queue:   queue,
		send:    send,
		host:    host,
		account: account,
		now:     time.Now,
		log:     log.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Build assembles the request for c. Every impression carries the same timestamp.
func (r *Reporter) Build(c campaign.Campaign, types []remote.ImpressionType) remote.ImpressionRequest {
	info := r.host.Info()
	ts := r.now().UnixMilli()
	impressions := make([]remote.Impression, 0, len(types))
	for _, t := range types {
		if t == remote.ImpressionInvalid {
			continue
		}
		impressions = append(impressions, remote.Impression{Type: t, Timestamp: ts})
	}
	return remote.ImpressionRequest{
		CampaignID:      c.ID,
		IsTest:          c.IsTest,
		AppVersion:      info.AppVersion,
		SDKVersion:      info.SDKVersion,
		UserIdentifiers: r.account.UserIdentifiers(),
		Impressions:     impressions,
	}
}

// Report queues the impressions of c. The returned error only covers queuing.
func (r *Reporter) Report(ctx context.Context, c campaign.Campaign, types []remote.ImpressionType) error {
	req := r.Build(c, types)
	if len(req.Impressions) == 0 {
		return nil
	}
	job := workqueue.JobFunc(func(ctx context.Context) error {
		if err := r.send(ctx, req); err != nil {
			observability.Impressions.WithLabelValues("failure").Inc()
			r.log.Warn().Err(err).Str("campaign_id", req.CampaignID).Msg("impression report failed")
			return err
		}
		observability.Impressions.WithLabelValues("success").Inc()
		r.log.Debug().Str("campaign_id", req.CampaignID).Int("impressions", len(req.Impressions)).Msg("impressions reported")
		return nil
	})

	err := r.queue.Submit(context.WithoutCancel(ctx), "impression:"+c.ID, job, workqueue.Constraints{RequireNetwork: true})
	if err != nil {
		observability.Impressions.WithLabelValues("dropped").Inc()
		r.log.Error().Err(err).Str("campaign_id", c.ID).Msg("could not queue impression report")
		if r.onError != nil {
			r.onError(err)
		}
		return err
	}
	return nil
}
