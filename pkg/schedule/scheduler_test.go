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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/bal-io/boink/pkg/metrics"
	"github.com/bal-io/boink/pkg/scaling"
)

type call struct {
	namespace string
	selector  string
	action    scaling.Action
}

type fakeRunner struct {
	lock    sync.Mutex
	calls   []call
	workers int
	release chan struct{}
	err     error
}

func (f *fakeRunner) Reconcile(_ context.Context, namespace string, selector labels.Selector, action scaling.Action) ([]scaling.Outcome, error) {
	f.lock.Lock()
	f.calls = append(f.calls, call{namespace: namespace, selector: selector.String(), action: action})
	release := f.release
	f.lock.Unlock()
	if release != nil {
		<-release
	}
	return []scaling.Outcome{{Namespace: namespace, Name: "web", Action: action, Applied: true}}, f.err
}

func (f *fakeRunner) Calls() []call {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeRunner) factory(workers int) Runner {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.workers = workers
	return f
}

func TestScheduler_Apply(t *testing.T) {
	runner := &fakeRunner{}
	s := NewScheduler(runner.factory)
	assert.Empty(t, s.Entries())

	err := s.Apply(context.TODO(), &Config{
		Workers: 3,
		Schedules: []Rule{
			{Name: "weekend", Namespace: "qa", Suspend: "@weekly"},
			{Name: "nightly", Namespace: "dev", Suspend: "0 20 * * 1-5", Resume: "0 7 * * 1-5"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, runner.workers)
	entries := s.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "nightly", entries[0].Rule)
	assert.Equal(t, scaling.ActionSuspend, entries[0].Action)
	assert.Equal(t, "nightly", entries[1].Rule)
	assert.Equal(t, scaling.ActionResume, entries[1].Action)
	assert.Equal(t, "weekend", entries[2].Rule)
	assert.Equal(t, 0, entries[0].Schedule.Next(time.Date(2024, time.July, 1, 12, 0, 0, 0, time.UTC)).Minute())

	// An invalid config keeps the current table.
	err = s.Apply(context.TODO(), &Config{Schedules: []Rule{{Name: "broken", Namespace: "dev", Suspend: "nope"}}})
	assert.Error(t, err)
	assert.Len(t, s.Entries(), 3)
	assert.Equal(t, 3, runner.workers)
	assert.Empty(t, runner.Calls())
}

func TestScheduler_run(t *testing.T) {
	runner := &fakeRunner{}
	s := NewScheduler(runner.factory)
	rule := Rule{Name: "run", Namespace: "dev", Selector: "app=web"}
	selector, err := rule.LabelSelector()
	require.NoError(t, err)
	guard := s.guard(rule.Name, scaling.ActionSuspend)

	s.run(runner, guard, rule, selector, scaling.ActionSuspend)
	assert.Equal(t, []call{{namespace: "dev", selector: "app=web", action: scaling.ActionSuspend}}, runner.Calls())
	assert.False(t, guard.Load())

	// Failures are logged, the guard is released.
	runner.err = errors.New("unavailable")
	s.run(runner, guard, rule, selector, scaling.ActionSuspend)
	assert.Len(t, runner.Calls(), 2)
	assert.False(t, guard.Load())
}

func TestScheduler_runSkipsOverlap(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	s := NewScheduler(runner.factory)
	rule := Rule{Name: "overlap", Namespace: "dev"}
	skipped := metrics.ScheduleSkipped.WithLabelValues("overlap", string(scaling.ActionResume))
	before := testutil.ToFloat64(skipped)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.run(runner, s.guard(rule.Name, scaling.ActionResume), rule, labels.Everything(), scaling.ActionResume)
	}()
	require.Eventually(t, func() bool { return len(runner.Calls()) == 1 }, 5*time.Second, 10*time.Millisecond)

	// Same rule, same action: skipped. The guard outlives the table.
	s.run(runner, s.guard(rule.Name, scaling.ActionResume), rule, labels.Everything(), scaling.ActionResume)
	assert.Len(t, runner.Calls(), 1)
	assert.Equal(t, before+1, testutil.ToFloat64(skipped))

	// The other action of the rule is not blocked.
	other := &fakeRunner{}
	s.run(other, s.guard(rule.Name, scaling.ActionSuspend), rule, labels.Everything(), scaling.ActionSuspend)
	assert.Len(t, other.Calls(), 1)

	close(runner.release)
	<-done
	s.run(runner, s.guard(rule.Name, scaling.ActionResume), rule, labels.Everything(), scaling.ActionResume)
	assert.Len(t, runner.Calls(), 2)
}

func TestScheduler_fires(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	runner := &fakeRunner{}
	s := NewScheduler(runner.factory)
	require.NoError(t, s.Apply(context.TODO(), &Config{Schedules: []Rule{
		{Name: "often", Namespace: "dev", Selector: "tier=backend", Suspend: "@every 1s"},
	}}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	assert.Eventually(t, func() bool { return len(runner.Calls()) > 0 }, 5*time.Second, 50*time.Millisecond)
	s.Stop()
	assert.Equal(t, call{namespace: "dev", selector: "tier=backend", action: scaling.ActionSuspend}, runner.Calls()[0])
}

func TestScheduler_rebuildWhileRunning(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	runner := &fakeRunner{}
	s := NewScheduler(runner.factory)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	require.NoError(t, s.Apply(ctx, &Config{Schedules: []Rule{
		{Name: "first", Namespace: "dev", Suspend: "@yearly"},
	}}))
	require.NoError(t, s.Apply(ctx, &Config{Schedules: []Rule{
		{Name: "second", Namespace: "qa", Resume: "@every 1s"},
	}}))
	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "second", entries[0].Rule)
	assert.Eventually(t, func() bool { return len(runner.Calls()) > 0 }, 5*time.Second, 50*time.Millisecond)
	s.Stop()
	for _, c := range runner.Calls() {
		assert.Equal(t, "qa", c.namespace)
		assert.Equal(t, scaling.ActionResume, c.action)
	}
}

func TestScheduler_stopWaitsForRuns(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	runner := &fakeRunner{release: make(chan struct{})}
	s := NewScheduler(runner.factory)
	require.NoError(t, s.Apply(context.TODO(), &Config{Schedules: []Rule{
		{Name: "slow", Namespace: "dev", Suspend: "@every 1s"},
	}}))
	s.Start(context.Background())
	require.Eventually(t, func() bool { return len(runner.Calls()) > 0 }, 5*time.Second, 50*time.Millisecond)

	stopped := atomic.NewBool(false)
	go func() {
		s.Stop()
		stopped.Store(true)
	}()
	time.Sleep(200 * time.Millisecond)
	assert.False(t, stopped.Load())
	close(runner.release)
	assert.Eventually(t, stopped.Load, 5*time.Second, 10*time.Millisecond)
}
