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
	"math"

	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/utils/ptr"
)

// Action is applied to every workload of a reconciliation run.
type Action string

const (
	ActionSuspend Action = "suspend"
	ActionResume  Action = "resume"
)

// ErrReplicasOutOfRange is wrapped by a DecodeError when the remembered
// replicas do not fit spec.replicas.
var ErrReplicasOutOfRange = errors.New("replicas out of range")

// Decision is what has to be applied to a single workload.
type Decision struct {
	// TargetReplicas is the value of spec.replicas, only applied when MustUpdateSpec is set.
	TargetReplicas uint32
	MustUpdateSpec bool
	// RememberedReplicas is the value written to the target replicas annotation.
	RememberedReplicas int32
}

// Decide computes the decision for the deployment and action.
//
// Suspend remembers the current replicas (0 when not declared) and scales to 0,
// even if the workload already is at 0. Resume scales to the remembered
// replicas; without a remembered non-zero count only the annotation is asserted
// so an externally managed zero is left alone.
func Decide(deploy *appsv1.Deployment, action Action) (Decision, error) {
	switch action {
	case ActionSuspend:
		current := ptr.Deref(deploy.Spec.Replicas, 0)
		if current < 0 {
			return Decision{}, fmt.Errorf("deployment %q declares negative replicas %d", deploy.Name, current)
		}
		return Decision{
			TargetReplicas:     0,
			MustUpdateSpec:     true,
			RememberedReplicas: current,
		}, nil
	case ActionResume:
		target, err := DecodeTargetReplicas(deploy.Annotations)
		if err != nil {
			return Decision{}, err
		}
		if target == 0 {
			return Decision{}, nil
		}
		if target > math.MaxInt32 {
			return Decision{}, &DecodeError{Value: deploy.Annotations[TargetReplicasAnnotation], Err: ErrReplicasOutOfRange}
		}
		return Decision{
			TargetReplicas:     target,
			MustUpdateSpec:     true,
			RememberedReplicas: int32(target),
		}, nil
	default:
		return Decision{}, fmt.Errorf("unsupported action %q", action)
	}
}
