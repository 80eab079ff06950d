// Package notification sends run outcome messages through shoutrrr services.
package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/datastore/entities"
	"github.com/tphakala/pendant-go/internal/errors"
	"github.com/tphakala/pendant-go/internal/logger"
	"github.com/tphakala/pendant-go/internal/privacy"
)

// Sender is the part of the shoutrrr router used here.
type Sender interface {
	Send(message string, params *stypes.Params) []error
}

// Notifier reports runs that did not complete cleanly.
type Notifier struct {
	sender Sender
	log    logger.Logger
}

// New builds a Notifier from settings. Every URL is validated up front.
func New(settings *conf.NotificationSettings, lg logger.Logger) (*Notifier, error) {
	if len(settings.URLs) == 0 {
		return nil, errors.New(errors.NewStd("at least one notification URL is required")).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	router, err := shoutrrr.CreateSender(settings.URLs...)
	if err != nil {
		return nil, errors.New(privacy.WrapError(err)).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if settings.Timeout > 0 {
		router.Timeout = settings.Timeout
	}
	router.SetLogger(log.New(io.Discard, "", 0))
	return NewWithSender(router, lg), nil
}

// NewWithSender wraps an existing sender.
func NewWithSender(sender Sender, log logger.Logger) *Notifier {
	return &Notifier{sender: sender, log: log.Module("notification")}
}

// NotifyRun sends a message for a failed or completed-with-errors run and
// ignores clean runs. Delivery failures are returned, never retried.
func (n *Notifier) NotifyRun(ctx context.Context, run *entities.ProcessingRun) error {
	if run == nil || run.Status == entities.RunStatusCompleted || run.Status == entities.RunStatusRunning {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := stypes.Params{}
	params.SetTitle(Title(run))
	errs := n.sender.Send(Message(run), &params)
	for _, e := range errs {
		if e != nil {
			err := errors.New(privacy.WrapError(e)).
				Component("notification").
				Category(errors.CategoryNotification).
				Context("run_id", run.ID).
				Build()
			n.log.Warn("notification delivery failed", logger.Error(err))
			return err
		}
	}
	n.log.Debug("run notification sent",
		logger.String("run_id", run.ID),
		logger.String("status", string(run.Status)))
	return nil
}

// Title returns the notification title for run.
func Title(run *entities.ProcessingRun) string {
	return fmt.Sprintf("pendant-go: %s run %s for %s", run.TriggerType, run.Status, run.UserID)
}

// Message returns the notification body for run.
func Message(run *entities.ProcessingRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User: %s\nDate: %s\nStatus: %s\n", run.UserID, run.CalendarDate, run.Status)
	fmt.Fprintf(&b, "Windows fetched: %d\nEvents found: %d\nDuplicates skipped: %d\n",
		run.WindowsFetched, run.EventsFound, run.DuplicatesSkipped())
	fmt.Fprintf(&b, "Duration: %s\n", (time.Duration(run.DurationSeconds * float64(time.Second))).Round(time.Second))
	if run.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error: %s\n", privacy.ScrubMessage(run.ErrorMessage))
	}
	fmt.Fprintf(&b, "Run: %s", run.ID)
	return b.String()
}
