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
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/bal-io/boink/pkg/scaling"
)

// DefaultConfigFile is where the schedule daemon looks for its rules.
const DefaultConfigFile = "/etc/boink/schedule-config.yaml"

const defaultTimezone = "UTC"

// Standard 5 field cron specs, plus descriptors such as @daily or @every 1h.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Config is the schedule daemon configuration.
type Config struct {
	// Workers bounds the deployments reconciled concurrently by a single run.
	Workers   int    `json:"workers"`
	Schedules []Rule `json:"schedules"`
}

// Rule suspends and resumes the deployments of one namespace on a timetable.
type Rule struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Selector  string `json:"selector"`
	Suspend   string `json:"suspend"`
	Resume    string `json:"resume"`
	// Timezone is an IANA location name, UTC when empty.
	Timezone string `json:"timezone"`
}

func (c *Config) GetWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return 1
}

// Validate checks every rule, reporting all the problems found.
func (c *Config) Validate() error {
	var err error
	if c.Workers < 0 {
		err = multierr.Append(err, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	seen := make(map[string]bool, len(c.Schedules))
	for i, r := range c.Schedules {
		if r.Name != "" && seen[r.Name] {
			err = multierr.Append(err, fmt.Errorf("schedules[%d]: duplicate name %q", i, r.Name))
		}
		seen[r.Name] = true
		if _, e := r.jobs(); e != nil {
			err = multierr.Append(err, fmt.Errorf("schedules[%d]: %w", i, e))
		}
	}
	return err
}

func (r Rule) GetTimezone() string {
	if r.Timezone != "" {
		return r.Timezone
	}
	return defaultTimezone
}

// LabelSelector parses the selector of the rule, an empty selector matches everything.
func (r Rule) LabelSelector() (labels.Selector, error) {
	s, err := labels.Parse(r.Selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q, %w", r.Selector, err)
	}
	return s, nil
}

// jobs parses the cron specs of the rule in its time zone.
func (r Rule) jobs() (map[scaling.Action]cron.Schedule, error) {
	if r.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if r.Namespace == "" {
		return nil, fmt.Errorf("rule %q: namespace is required", r.Name)
	}
	if r.Suspend == "" && r.Resume == "" {
		return nil, fmt.Errorf("rule %q: at least one of suspend or resume is required", r.Name)
	}
	if _, err := r.LabelSelector(); err != nil {
		return nil, fmt.Errorf("rule %q: %w", r.Name, err)
	}
	if _, err := time.LoadLocation(r.GetTimezone()); err != nil {
		return nil, fmt.Errorf("rule %q: invalid timezone %q, %w", r.Name, r.Timezone, err)
	}
	jobs := make(map[scaling.Action]cron.Schedule, 2)
	for action, spec := range map[scaling.Action]string{scaling.ActionSuspend: r.Suspend, scaling.ActionResume: r.Resume} {
		if spec == "" {
			continue
		}
		sched, err := cronParser.Parse(fmt.Sprintf("CRON_TZ=%s %s", r.GetTimezone(), spec))
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid %s schedule %q, %w", r.Name, action, spec, err)
		}
		jobs[action] = sched
	}
	return jobs, nil
}

// LoadConfig reads and validates the config file, then watches it. A change
// that reads and validates is handed to onChange, otherwise the failure is
// handed to onErrorReloading.
func LoadConfig(file string, onChange func(*Config), onErrorReloading func(error)) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(file)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration file. %w", err)
	}
	conf, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cf, err := unmarshal(v)
		if err != nil {
			onErrorReloading(err)
			return
		}
		onChange(cf)
	})
	v.WatchConfig()
	return conf, nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("failed unmarshal configuration file. %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration file. %w", err)
	}
	return conf, nil
}
