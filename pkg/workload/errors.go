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

package workload

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the workload no longer exists.
	ErrNotFound = errors.New("workload not found")
	// ErrConflict means the patch was rejected because of a conflicting change.
	ErrConflict = errors.New("workload patch conflict")
	// ErrInvalid means the patch failed server side validation.
	ErrInvalid = errors.New("workload patch invalid")
	// ErrUnavailable means the repository can not be reached or refused our credentials.
	ErrUnavailable = errors.New("workload repository unavailable")
)

// Wrap attaches one of the sentinels above to a backend error, keeping both in the chain.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", kind, err)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRejected reports whether the repository refused the patch itself.
func IsRejected(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalid)
}

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
