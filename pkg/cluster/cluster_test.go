/*
Copyright 2025.

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

package cluster

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	takahev1alpha1 "github.com/fediops/takahe-k8s-operator/api/v1alpha1"
)

func newFakeClient(objs ...client.Object) client.Client {
	return fake.NewClientBuilder().WithScheme(clientgoscheme.Scheme).WithObjects(objs...).Build()
}

func TestNewClusterInfo(t *testing.T) {
	t.Setenv("OPERATOR_NAMESPACE", "takahe-operator-system")

	tests := []struct {
		name      string
		configMap *corev1.ConfigMap
		wantImage string
	}{
		{
			name:      "no operator ConfigMap uses defaults",
			wantImage: takahev1alpha1.DefaultImage,
		},
		{
			name: "operator ConfigMap overrides the default image",
			configMap: &corev1.ConfigMap{
				ObjectMeta: metav1.ObjectMeta{
					Name:      "takahe-operator-config",
					Namespace: "takahe-operator-system",
				},
				Data: map[string]string{
					"config.yaml": "image: registry.example.org/takahe:0.12.0\nimagePullPolicy: Always\n",
				},
			},
			wantImage: "registry.example.org/takahe:0.12.0",
		},
		{
			name: "ConfigMap without the config key uses defaults",
			configMap: &corev1.ConfigMap{
				ObjectMeta: metav1.ObjectMeta{
					Name:      "takahe-operator-config",
					Namespace: "takahe-operator-system",
				},
				Data: map[string]string{"unrelated": "x"},
			},
			wantImage: takahev1alpha1.DefaultImage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var objs []client.Object
			if tt.configMap != nil {
				objs = append(objs, tt.configMap)
			}

			info, err := NewClusterInfo(context.Background(), newFakeClient(objs...), logr.Discard())
			require.NoError(t, err)
			assert.Equal(t, "takahe-operator-system", info.OperatorNamespace)
			assert.Equal(t, tt.wantImage, info.DefaultImage())
		})
	}
}

func TestNewClusterInfoBadConfig(t *testing.T) {
	t.Setenv("OPERATOR_NAMESPACE", "takahe-operator-system")

	configMap := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "takahe-operator-config",
			Namespace: "takahe-operator-system",
		},
		Data: map[string]string{"config.yaml": "image: [not, a, string"},
	}

	_, err := NewClusterInfo(context.Background(), newFakeClient(configMap), logr.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operator config")
}

func TestDefaultImageNil(t *testing.T) {
	var info *ClusterInfo
	assert.Equal(t, takahev1alpha1.DefaultImage, info.DefaultImage())
}
