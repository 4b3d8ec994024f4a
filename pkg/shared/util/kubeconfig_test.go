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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestK8sRestConfig(t *testing.T) {
	t.Run("invalid KUBECONFIG", func(t *testing.T) {
		t.Setenv("KUBECONFIG", "invalid-kubeconfig")
		config, err := K8sRestConfig("")
		assert.Error(t, err)
		assert.Nil(t, config)
	})

	t.Run("explicit path wins over KUBECONFIG", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config")
		content := `apiVersion: v1
kind: Config
clusters:
- name: test
  cluster:
    server: https://127.0.0.1:6443
contexts:
- name: test
  context:
    cluster: test
    user: test
current-context: test
users:
- name: test
  user:
    token: abc
`
		assert.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		t.Setenv("KUBECONFIG", "invalid-kubeconfig")
		config, err := K8sRestConfig(path)
		assert.NoError(t, err)
		assert.Equal(t, "https://127.0.0.1:6443", config.Host)
	})
}

func TestK8sRestConfig_blank(t *testing.T) {
	t.Setenv("KUBECONFIG", "")
	t.Setenv("HOME", t.TempDir())
	t.Setenv("KUBERNETES_SERVICE_HOST", "")
	t.Setenv("KUBERNETES_SERVICE_PORT", "")

	restConfig, err := K8sRestConfig("")
	assert.Error(t, err)
	assert.Nil(t, restConfig)
}
