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

package scaling

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/bal-io/boink/pkg/metrics"
	"github.com/bal-io/boink/pkg/workload"
)

// ErrSkipped marks workloads left untouched because the run stopped before reaching them.
var ErrSkipped = errors.New("workload not processed")

// Outcome is the result of reconciling one workload.
type Outcome struct {
	Namespace string
	Name      string
	Action    Action
	// CurrentReplicas is spec.replicas as discovered, 0 when not declared.
	CurrentReplicas int32
	Decision        Decision
	Applied         bool
	Err             error
}

// Replicas returns spec.replicas after the outcome.
func (o Outcome) Replicas() int32 {
	if o.Applied && o.Decision.MustUpdateSpec {
		return int32(o.Decision.TargetReplicas)
	}
	return o.CurrentReplicas
}

// Failed reports whether the outcome fails the run. A workload deleted
// between discovery and patch is informational only.
func (o Outcome) Failed() bool {
	return o.Err != nil && !workload.IsNotFound(o.Err)
}

// Result is the metrics label of the outcome.
func (o Outcome) Result() string {
	var decodeErr *DecodeError
	switch {
	case o.Err == nil:
		return metrics.ResultApplied
	case errors.Is(o.Err, ErrSkipped):
		return metrics.ResultSkipped
	case errors.As(o.Err, &decodeErr):
		return metrics.ResultDecodeError
	case workload.IsNotFound(o.Err):
		return metrics.ResultNotFound
	case workload.IsRejected(o.Err):
		return metrics.ResultRejected
	default:
		return metrics.ResultFailed
	}
}

// Errors combines the errors of all failed outcomes, nil if none failed.
func Errors(outcomes []Outcome) error {
	var err error
	for _, o := range outcomes {
		if o.Failed() {
			err = multierr.Append(err, fmt.Errorf("deployment %s/%s: %w", o.Namespace, o.Name, o.Err))
		}
	}
	return err
}
