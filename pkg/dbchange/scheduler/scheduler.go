// Package scheduler submits SCHEDULE_TASK jobs from cron expressions.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tigerroll/undertow/pkg/dbchange/core/config"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/parameter"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

const moduleName = "scheduler"

// Parser accepts standard five-field expressions and descriptors (@daily, @every 1h).
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Submitter stores a PENDING job. *dispatcher.Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, identity model.JobIdentity, parameters []byte) (*model.JobExecution, error)
}

// Entry is one validated schedule.
type Entry struct {
	Spec       string
	Identity   model.JobIdentity
	Parameters []byte
	schedule   cron.Schedule
}

// Scheduler fires the configured entries.
type Scheduler struct {
	cron      *cron.Cron
	submitter Submitter
	entries   []Entry
}

// NewEntry validates a schedule: the cron expression, the identity and the parameters.
func NewEntry(cfg config.ScheduleConfig) (Entry, error) {
	schedule, err := Parser.Parse(cfg.Cron)
	if err != nil {
		return Entry{}, exception.NewConfigurationError(moduleName, fmt.Sprintf("invalid cron expression %q", cfg.Cron), err)
	}
	identity, err := model.NewJobIdentity(cfg.SourceID, model.SourceTypeScheduleTask, cfg.SubType)
	if err != nil {
		return Entry{}, err
	}
	params, err := parameter.DecodeMap(identity.SourceSubType(), cfg.Parameters)
	if err != nil {
		return Entry{}, err
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return Entry{}, exception.NewConfigurationError(moduleName, "failed to encode schedule parameters", err)
	}
	return Entry{Spec: cfg.Cron, Identity: identity, Parameters: raw, schedule: schedule}, nil
}

// New validates every schedule. loc is the zone cron expressions are evaluated in (nil means UTC).
func New(submitter Submitter, schedules []config.ScheduleConfig, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(Parser),
			cron.WithLogger(cronLogger{}),
			cron.WithChain(cron.Recover(cronLogger{})),
		),
		submitter: submitter,
	}
	for i, cfg := range schedules {
		entry, err := NewEntry(cfg)
		if err != nil {
			return nil, exception.Annotate(moduleName, err, "", fmt.Sprintf("schedules[%d]", i))
		}
		s.entries = append(s.entries, entry)
		s.cron.Schedule(entry.schedule, cron.FuncJob(func() { s.Fire(context.Background(), entry) }))
	}
	return s, nil
}

// Entries returns the validated schedules.
func (s *Scheduler) Entries() []Entry {
	return s.entries
}

// Fire submits one job for entry. Submission errors are logged; the next tick tries again.
func (s *Scheduler) Fire(ctx context.Context, entry Entry) {
	execution, err := s.submitter.Submit(ctx, entry.Identity, entry.Parameters)
	if err != nil {
		logger.Errorf("Scheduled submission of %s (%s) failed: %v", entry.Identity, entry.Spec, err)
		return
	}
	logger.Infof("Scheduled job %s submitted for %s.", execution.ID, entry.Identity)
}

// Start begins firing entries in the background.
func (s *Scheduler) Start(context.Context) error {
	if len(s.entries) == 0 {
		return nil
	}
	s.cron.Start()
	logger.Infof("Scheduler started with %d schedule(s).", len(s.entries))
	return nil
}

// Stop stops firing and waits for running submissions, or until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.With(keysAndValues...).Debugf("cron: %s", msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.With(keysAndValues...).Errorf("cron: %s: %v", msg, err)
}
