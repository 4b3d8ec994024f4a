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

package util

import (
	"fmt"
	"os"
	"strconv"
)

func lookupEnv[T any](key string, defaultValue T, parse func(string) (T, error)) (T, error) {
	valStr, existing := os.LookupEnv(key)
	if !existing || valStr == "" {
		return defaultValue, nil
	}
	val, err := parse(valStr)
	if err != nil {
		return defaultValue, fmt.Errorf("invalid value for env variable %q, value %q", key, valStr)
	}
	return val, nil
}

// LookupEnvStringOr returns the variable, or defaultValue when it is unset or empty.
func LookupEnvStringOr(key, defaultValue string) string {
	val, _ := lookupEnv(key, defaultValue, func(s string) (string, error) { return s, nil })
	return val
}

// LookupEnvInt returns the variable as an int, defaultValue when it is unset or empty.
func LookupEnvInt(key string, defaultValue int) (int, error) {
	return lookupEnv(key, defaultValue, strconv.Atoi)
}

// LookupEnvBool returns the variable as a bool, defaultValue when it is unset or empty.
func LookupEnvBool(key string, defaultValue bool) (bool, error) {
	return lookupEnv(key, defaultValue, strconv.ParseBool)
}
