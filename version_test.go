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

package boink

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersion_String(t *testing.T) {
	v := Version{
		Version:      "0.3.0",
		BuildDate:    "2024-03-11T08:30:00Z",
		GitCommit:    "9f86d081884c7d65",
		GitTag:       "v0.3.0",
		GitTreeState: "clean",
		GoVersion:    "go1.22.1",
		Compiler:     "gc",
		Platform:     "linux/arm64",
	}
	assert.Equal(t, "Version: 0.3.0, BuildDate: 2024-03-11T08:30:00Z, GitCommit: 9f86d081884c7d65, GitTag: v0.3.0, GitTreeState: clean, GoVersion: go1.22.1, Compiler: gc, Platform: linux/arm64", v.String())
}

func withBuildInfo(t *testing.T, v, commit, tag, treeState string) {
	t.Helper()
	origVersion, origCommit, origTag, origTreeState := version, gitCommit, gitTag, gitTreeState
	t.Cleanup(func() {
		version, gitCommit, gitTag, gitTreeState = origVersion, origCommit, origTag, origTreeState
	})
	version, gitCommit, gitTag, gitTreeState = v, commit, tag, treeState
}

func TestGetVersion(t *testing.T) {
	tests := []struct {
		name      string
		commit    string
		tag       string
		treeState string
		want      string
	}{
		{name: "clean tagged tree", commit: "9f86d081884c7d65", tag: "v0.3.0", treeState: "clean", want: "v0.3.0"},
		{name: "dirty tagged tree", commit: "9f86d081884c7d65", tag: "v0.3.0", treeState: "dirty", want: "dev+9f86d08.dirty"},
		{name: "clean untagged tree", commit: "9f86d081884c7d65", treeState: "clean", want: "dev+9f86d08"},
		{name: "unknown commit", treeState: "clean", want: "dev+unknown"},
		{name: "short commit", commit: "9f86d0", want: "dev+unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withBuildInfo(t, "dev", tt.commit, tt.tag, tt.treeState)
			assert.Equal(t, tt.want, GetVersion().Version)
		})
	}
}

func TestGetVersion_runtime(t *testing.T) {
	v := GetVersion()
	assert.Equal(t, runtime.Version(), v.GoVersion)
	assert.Equal(t, runtime.Compiler, v.Compiler)
	assert.Equal(t, fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH), v.Platform)
}
