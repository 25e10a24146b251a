// Package schedule triggers periodic recalibration of the rig from a cron
// expression.
package schedule

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	DefaultLeadTime       = time.Minute
	DefaultRetryInterval  = 10 * time.Second
	DefaultMaxRetries     = 30
	idleWait              = 10000 * time.Hour
	controlChannelBacklog = 4
)

var ErrNoSchedule = errors.New("no recalibration scheduled")

// Parser accepts standard five-field expressions, an optional leading
// seconds field and descriptors such as @daily or @every 12h.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Options configures a Scheduler. Trigger is required.
type Options struct {
	// Trigger asks the application to recalibrate.
	Trigger func() error
	// Ready is polled at the scheduled time; the run waits while it fails,
	// for example while a calibration session is already running.
	Ready func() error
	// OnUpcoming is told LeadTime before a run.
	OnUpcoming func(at time.Time)
	// OnError receives Ready and Trigger failures.
	OnError func(err error)

	LeadTime      time.Duration
	RetryInterval time.Duration
	MaxRetries    int
}

// Status is a snapshot of the scheduler.
type Status struct {
	Expression string    `json:"expression,omitempty"`
	NextRun    time.Time `json:"nextRun,omitempty"`
	Running    bool      `json:"running"`
}

// Scheduler fires Trigger on a cron schedule from its own goroutine.
// Changes made while it runs are applied by its loop through a control
// channel.
type Scheduler struct {
	opts Options

	mu       sync.Mutex
	expr     string
	schedule cron.Schedule
	nextRun  time.Time
	running  bool

	controlCh chan control
	stopCh    chan struct{}
	doneCh    chan struct{}
}

type controlKind int

const (
	ctrlReschedule controlKind = iota
	ctrlSkip
	ctrlDisable
)

type control struct {
	kind     controlKind
	schedule cron.Schedule
}

func New(opts Options) *Scheduler {
	if opts.Trigger == nil {
		panic("trigger function cannot be nil")
	}
	if opts.LeadTime <= 0 {
		opts.LeadTime = DefaultLeadTime
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	return &Scheduler{
		opts:      opts,
		controlCh: make(chan control, controlChannelBacklog),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Schedule sets the cron expression. An empty expression disables
// recalibration.
func (s *Scheduler) Schedule(expr string) error {
	if expr == "" {
		s.Disable()
		return nil
	}
	sh, err := Parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid recalibration schedule %q: %w", expr, err)
	}

	s.mu.Lock()
	s.expr = expr
	s.schedule = sh
	s.nextRun = sh.Next(time.Now())
	running := s.running
	s.mu.Unlock()

	logrus.WithField("expression", expr).Info("recalibration scheduled")
	if running {
		s.send(control{kind: ctrlReschedule, schedule: sh})
	}
	return nil
}

// Disable removes the schedule.
func (s *Scheduler) Disable() {
	s.mu.Lock()
	s.expr = ""
	s.schedule = nil
	s.nextRun = time.Time{}
	running := s.running
	s.mu.Unlock()

	if running {
		s.send(control{kind: ctrlDisable})
	}
}

// Skip moves the next run to the following occurrence.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return ErrNoSchedule
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	running := s.running
	s.mu.Unlock()

	if running {
		s.send(control{kind: ctrlSkip})
	}
	return nil
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Expression: s.expr, NextRun: s.nextRun, Running: s.running}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.loop()
}

// Stop ends the loop and waits for it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	if running {
		<-s.doneCh
	}
}

func (s *Scheduler) loop() {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.doneCh)
		logrus.Debug("recalibration scheduler stopped")
	}()
	logrus.Debug("recalibration scheduler started")

	for {
		sh, nextRun := s.snapshot()
		announced := false
		retries := 0
		var lastReadyErr error

		timer := time.NewTimer(s.untilLead(sh, nextRun))

	wait:
		for {
			select {
			case <-timer.C:
				if sh == nil || nextRun.IsZero() {
					break wait
				}

				if !announced {
					announced = true
					logrus.WithField("at", nextRun.Format(time.DateTime)).Info("recalibration upcoming")
					if s.opts.OnUpcoming != nil {
						go s.opts.OnUpcoming(nextRun)
					}
					timer.Reset(nonNegative(time.Until(nextRun)))
					continue
				}

				if s.opts.Ready != nil {
					if err := s.opts.Ready(); err != nil {
						if lastReadyErr == nil || err.Error() != lastReadyErr.Error() {
							lastReadyErr = err
							s.reportError(fmt.Errorf("recalibration postponed: %w", err))
						}
						retries++
						if retries <= s.opts.MaxRetries {
							logrus.WithFields(logrus.Fields{
								"attempt": retries,
								"max":     s.opts.MaxRetries,
								"retryIn": s.opts.RetryInterval,
							}).WithError(err).Debug("not ready to recalibrate")
							timer.Reset(s.opts.RetryInterval)
							continue
						}
						logrus.WithError(err).Warn("giving up on this recalibration run")
						s.advance()
						break wait
					}
				}

				logrus.WithField("at", nextRun.Format(time.DateTime)).Info("triggering scheduled recalibration")
				go func() {
					if err := s.opts.Trigger(); err != nil {
						s.reportError(fmt.Errorf("recalibration trigger failed: %w", err))
					}
				}()
				s.advance()
				break wait

			case <-s.stopCh:
				timer.Stop()
				return

			case msg := <-s.controlCh:
				logrus.WithField("kind", msg.kind).Debug("scheduler control message")
				timer.Stop()
				if msg.kind == ctrlReschedule {
					s.mu.Lock()
					s.schedule = msg.schedule
					s.nextRun = msg.schedule.Next(time.Now())
					s.mu.Unlock()
				}
				break wait
			}
		}
	}
}

func (s *Scheduler) untilLead(sh cron.Schedule, nextRun time.Time) time.Duration {
	if sh == nil || nextRun.IsZero() {
		return idleWait
	}
	return nonNegative(time.Until(nextRun) - s.opts.LeadTime)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

func (s *Scheduler) snapshot() (cron.Schedule, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule, s.nextRun
}

func (s *Scheduler) advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil {
		return
	}
	s.nextRun = s.schedule.Next(s.nextRun)
}

func (s *Scheduler) reportError(err error) {
	logrus.WithError(err).Warn("recalibration scheduler")
	if s.opts.OnError != nil {
		go s.opts.OnError(err)
	}
}

func (s *Scheduler) send(c control) {
	select {
	case s.controlCh <- c:
	default:
	}
}
