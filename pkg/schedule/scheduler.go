/*
Copyright 2024 The Boink Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/bal-io/boink/pkg/metrics"
	"github.com/bal-io/boink/pkg/scaling"
	"github.com/bal-io/boink/pkg/shared/logging"
)

// Runner reconciles the deployments of a namespace matching a selector.
type Runner interface {
	Reconcile(ctx context.Context, namespace string, selector labels.Selector, action scaling.Action) ([]scaling.Outcome, error)
}

// NewRunnerFunc builds the runner of a cron table, bounded to the workers of the config.
type NewRunnerFunc func(workers int) Runner

// Entry is a scheduled action of a rule.
type Entry struct {
	Rule     string
	Action   scaling.Action
	Schedule cron.Schedule
}

// Scheduler fires the actions of the configured rules. Applying a new config
// rebuilds the cron table, a rule is never run twice at the same time, even
// across rebuilds.
type Scheduler struct {
	newRunner NewRunnerFunc

	lock     sync.Mutex
	ctx      context.Context
	cron     *cron.Cron
	entries  []Entry
	started  bool
	draining []context.Context
	inFlight map[string]*atomic.Bool
}

func NewScheduler(newRunner NewRunnerFunc) *Scheduler {
	return &Scheduler{
		newRunner: newRunner,
		ctx:       context.Background(),
		inFlight:  make(map[string]*atomic.Bool),
	}
}

// Apply replaces the cron table with the rules of the config. The current
// table keeps running when the config is invalid.
func (s *Scheduler) Apply(ctx context.Context, conf *Config) error {
	log := logging.FromContext(ctx)
	if err := conf.Validate(); err != nil {
		log.Errorw("Invalid schedule config, keeping the current schedules", zap.Error(err))
		return err
	}
	runner := s.newRunner(conf.GetWorkers())
	cronLog := &cronLogger{log: log.Named("cron")}
	c := cron.New(cron.WithParser(cronParser), cron.WithLogger(cronLog), cron.WithChain(cron.Recover(cronLog)))
	var entries []Entry
	for _, rule := range conf.Schedules {
		jobs, _ := rule.jobs()
		selector, _ := rule.LabelSelector()
		for action, sched := range jobs {
			guard := s.guard(rule.Name, action)
			c.Schedule(sched, cron.FuncJob(func() {
				s.run(runner, guard, rule, selector, action)
			}))
			entries = append(entries, Entry{Rule: rule.Name, Action: action, Schedule: sched})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Rule != entries[j].Rule {
			return entries[i].Rule < entries[j].Rule
		}
		return entries[i].Action > entries[j].Action
	})

	s.lock.Lock()
	defer s.lock.Unlock()
	old := s.cron
	s.cron, s.entries = c, entries
	if s.started {
		c.Start()
		if old != nil {
			s.draining = append(s.draining, old.Stop())
		}
	}
	log.Infow("Applied schedule config", zap.Int("rules", len(conf.Schedules)), zap.Int("jobs", len(entries)), zap.Int("workers", conf.GetWorkers()))
	return nil
}

// Entries returns the jobs of the current table, ordered by rule.
func (s *Scheduler) Entries() []Entry {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]Entry(nil), s.entries...)
}

// Start runs the cron table in the background. Runs are handed ctx, cancelling
// it stops a run between workloads.
func (s *Scheduler) Start(ctx context.Context) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.started {
		return
	}
	s.ctx = ctx
	s.started = true
	if s.cron != nil {
		s.cron.Start()
	}
}

// Stop stops firing jobs and waits for the running ones.
func (s *Scheduler) Stop() {
	s.lock.Lock()
	waits := s.draining
	s.draining = nil
	if s.cron != nil && s.started {
		waits = append(waits, s.cron.Stop())
	}
	s.started = false
	s.lock.Unlock()
	for _, w := range waits {
		<-w.Done()
	}
}

func (s *Scheduler) guard(rule string, action scaling.Action) *atomic.Bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	key := rule + "/" + string(action)
	g, ok := s.inFlight[key]
	if !ok {
		g = atomic.NewBool(false)
		s.inFlight[key] = g
	}
	return g
}

func (s *Scheduler) run(runner Runner, guard *atomic.Bool, rule Rule, selector labels.Selector, action scaling.Action) {
	s.lock.Lock()
	ctx := s.ctx
	s.lock.Unlock()
	ctx, log := logging.With(ctx, "schedule", rule.Name)
	if !guard.CompareAndSwap(false, true) {
		log.Warnw("Previous run still in progress, skipped", zap.String("action", string(action)))
		metrics.ScheduleSkipped.WithLabelValues(rule.Name, string(action)).Inc()
		return
	}
	defer guard.Store(false)

	start := time.Now()
	outcomes, err := runner.Reconcile(ctx, rule.Namespace, selector, action)
	if err != nil {
		log.Errorw("Scheduled run aborted", zap.String("action", string(action)), zap.Error(err))
		return
	}
	if err := scaling.Errors(outcomes); err != nil {
		log.Warnw("Scheduled run finished with failures", zap.String("action", string(action)), zap.Int("workloads", len(outcomes)),
			zap.Duration("duration", time.Since(start)), zap.Error(err))
		return
	}
	log.Infow("Scheduled run finished", zap.String("action", string(action)), zap.Int("workloads", len(outcomes)), zap.Duration("duration", time.Since(start)))
}

// cronLogger adapts the sugared logger to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
