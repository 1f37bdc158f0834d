package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
	"github.com/lisanmuaddib/profilegraph/pkg/interfaces/upstream"
	"github.com/lisanmuaddib/profilegraph/pkg/metrics"
	"github.com/lisanmuaddib/profilegraph/pkg/notify"
	"github.com/lisanmuaddib/profilegraph/pkg/queue"
)

// classification is a failure mapped onto a user facing category
type classification struct {
	kind     upstream.Kind
	category string
	message  string
	code     int
}

// classify maps err onto the closed error taxonomy. subject names what was
// being fetched in the generic unknown error message.
func classify(site models.Site, subject string, err error) classification {
	kind := upstream.KindOf(err)
	c := classification{kind: kind, code: upstream.StatusCodeOf(err)}

	var upErr *upstream.Error
	errors.As(err, &upErr)

	switch kind {
	case upstream.KindNotFound:
		c.category = notify.CategoryNotFound
		c.message = fmt.Sprintf("Does not exist on %s.", site.DisplayName())
		if upErr != nil && upErr.Message != "" && upErr.Message != upstream.MessageAccountNotFound {
			c.message = upErr.Message
		}
	case upstream.KindCommunication:
		c.category = notify.CategoryCommunication
		c.message = fmt.Sprintf("Cannot communicate with %s", site.DisplayName())
		if c.code != 0 {
			c.message = fmt.Sprintf("%s (%d)", c.message, c.code)
		}
	case upstream.KindConfiguration:
		c.category = notify.CategoryConfiguration
		c.message = upErr.Message
	default:
		c.category = notify.CategoryUnknown
		c.message = fmt.Sprintf("Unknown error while fetching %s.", subject)
	}
	return c
}

// fail publishes a categorized error event and returns what the job should
// return: Handled for classified failures, the raw error for unknown ones
// so it stays visible to process monitoring.
func (e *Engine) fail(ctx context.Context, channel string, site models.Site, subject string, event notify.ErrorEvent, err error) error {
	c := classify(site, subject, err)

	event.Site = string(site)
	event.Code = c.code
	event.Category = c.category
	event.Error = c.message

	metrics.UpstreamErrors.WithLabelValues(string(site), string(c.kind)).Inc()

	log := e.logger.WithError(err).WithFields(logrus.Fields{
		"site":     site,
		"channel":  channel,
		"category": c.category,
	})

	// Publish even when the job context is already done
	if pubErr := e.publisher.Publish(context.WithoutCancel(ctx), channel, event); pubErr != nil {
		log.WithField("publish_error", pubErr.Error()).Warn("Failed to publish error notification")
	}

	if c.kind == upstream.KindUnknown {
		log.Error("Workflow failed with unknown error")
		return err
	}

	log.Warn("Workflow failed")
	return queue.Handled(fmt.Errorf("%s: %w", c.message, err))
}

// publish sends a success event; failures are logged, never returned,
// because the reconciled state is already committed
func (e *Engine) publish(ctx context.Context, channel string, payload interface{}) {
	if err := e.publisher.Publish(ctx, channel, payload); err != nil {
		e.logger.WithError(err).WithField("channel", channel).Warn("Failed to publish notification")
	}
}
