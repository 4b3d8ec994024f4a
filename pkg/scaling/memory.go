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
	"fmt"
	"strconv"
)

// TargetReplicasAnnotation stores the replica count a suspended workload is resumed to.
const TargetReplicasAnnotation = "bal.io/target-replicas"

// DecodeError is returned when the target replicas annotation holds something
// other than a non-negative decimal integer.
type DecodeError struct {
	Value string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid %s annotation %q, %v", TargetReplicasAnnotation, e.Value, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodeTargetReplicas returns the remembered replica count, 0 if the annotation is absent.
func DecodeTargetReplicas(annotations map[string]string) (uint32, error) {
	value, ok := annotations[TargetReplicasAnnotation]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, &DecodeError{Value: value, Err: err}
	}
	return uint32(n), nil
}

// EncodeTargetReplicas renders the replica count as the annotation value.
func EncodeTargetReplicas(replicas uint32) string {
	return strconv.FormatUint(uint64(replicas), 10)
}
