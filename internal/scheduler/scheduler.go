// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/user/magpie/internal/types"
)

// Handler is the callback invoked when a scheduled template fires. It
// receives the template name so the dispatcher can start a run from it.
type Handler func(templateName string)

// Scheduler registers enabled templates that carry a cron schedule and
// fires them through a handler callback.
type Scheduler struct {
	templates types.TemplateStore
	handler   Handler
	cron      *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler backed by the template store. The handler is
// called each time a scheduled template fires.
func New(templates types.TemplateStore, handler Handler) *Scheduler {
	return &Scheduler{
		templates: templates,
		handler:   handler,
		cron:      cron.New(cron.WithParser(cronParser)),
	}
}

// Start loads templates, registers the enabled ones that have a schedule
// as cron entries, and starts the cron ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	templates, err := s.templates.List(ctx)
	if err != nil {
		return err
	}

	for _, tmpl := range templates {
		if tmpl.Schedule == "" || !tmpl.Enabled {
			continue
		}

		name := tmpl.Name
		schedule := tmpl.Schedule

		_, err := s.cron.AddFunc(schedule, func() {
			slog.Info("cron firing template", "name", name)
			s.handler(name)
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", name, "schedule", schedule, "error", err)
			continue
		}
		slog.Info("scheduled template", "name", name, "schedule", schedule)
	}

	s.cron.Start()
	return nil
}

// Reload stops the existing cron, creates a new one, and calls Start
// again. Used after templates are added or removed.
func (s *Scheduler) Reload(ctx context.Context) error {
	s.cron.Stop()
	s.cron = cron.New(cron.WithParser(cronParser))
	return s.Start(ctx)
}

// Stop stops the cron ticker.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
