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

//nolint:testpackage
package e2e

import (
	"testing"

	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	takahev1alpha1 "github.com/fediops/takahe-k8s-operator/api/v1alpha1"
)

func TestValidationSuite(t *testing.T) {
	if testOpts.skipValidation {
		t.Skip("Skipping validation test suite")
	}
	requireTestEnv(t)

	t.Run("should validate CRD", func(t *testing.T) {
		err := validateCRD(testEnv.Ctx, testEnv.Client, "takaheservers.takahe.fediops.dev")
		require.NoError(t, err, "error in validating CRD: takaheservers.takahe.fediops.dev")
	})

	t.Run("should validate operator deployment", func(t *testing.T) {
		deployment, err := GetDeployment(testEnv.Ctx, testEnv.Client, "takahe-operator-controller-manager", testOpts.operatorNS)
		require.NoError(t, err, "Operator deployment not found")
		require.Equal(t, int32(1), deployment.Status.ReadyReplicas, "Operator deployment not ready")
	})

	t.Run("should validate operator pods", func(t *testing.T) {
		podList := &corev1.PodList{}
		err := testEnv.Client.List(testEnv.Ctx, podList, client.InNamespace(testOpts.operatorNS))
		require.NoError(t, err)

		operatorPodFound := false
		for _, pod := range podList.Items {
			if pod.Labels["app.kubernetes.io/name"] == "takahe-k8s-operator" {
				operatorPodFound = true
				require.Equal(t, corev1.PodRunning, pod.Status.Phase)
				break
			}
		}
		require.True(t, operatorPodFound, "Operator pod not found in namespace %s", testOpts.operatorNS)
	})

	t.Run("should block a server with a placeholder domain", func(t *testing.T) {
		require.NoError(t, EnsureNamespace(testEnv.Ctx, testEnv.Client, takaheNS))

		instance := &takahev1alpha1.TakaheServer{
			ObjectMeta: metav1.ObjectMeta{
				Name:      "invalid-domain",
				Namespace: takaheNS,
			},
			Spec: takahev1alpha1.TakaheServerSpec{
				Domain: "example.com",
				Database: &takahev1alpha1.DatabaseSpec{
					SecretName: postgresName,
				},
			},
		}
		require.NoError(t, testEnv.Client.Create(testEnv.Ctx, instance))
		defer func() {
			_ = testEnv.Client.Delete(testEnv.Ctx, instance)
		}()

		PollServerPhase(t, testEnv.Client, instance.Name, instance.Namespace, takahev1alpha1.PhaseBlocked, testTimeout)
	})
}
