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
	"k8s.io/apimachinery/pkg/types"

	takahev1alpha1 "github.com/fediops/takahe-k8s-operator/api/v1alpha1"
)

func TestCreationSuite(t *testing.T) {
	if testOpts.skipCreation {
		t.Skip("Skipping creation test suite")
	}
	requireTestEnv(t)

	instance := &takahev1alpha1.TakaheServer{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "test-takahe",
			Namespace: takaheNS,
		},
		Spec: takahev1alpha1.TakaheServerSpec{
			Domain: "takahe.e2e.test",
			Database: &takahev1alpha1.DatabaseSpec{
				SecretName: postgresName,
			},
		},
	}

	t.Run("should create TakaheServer CR", func(t *testing.T) {
		require.NoError(t, EnsureNamespace(testEnv.Ctx, testEnv.Client, takaheNS))
		require.NoError(t, DeployPostgres(testEnv.Ctx, testEnv.Client))
		PollDeploymentReady(t, testEnv.Client, postgresName, takaheNS, testTimeout)

		require.NoError(t, testEnv.Client.Create(testEnv.Ctx, instance))

		// The server key is generated before anything else rolls.
		keySecret := &corev1.Secret{}
		require.Eventually(t, func() bool {
			err := testEnv.Client.Get(testEnv.Ctx, types.NamespacedName{
				Name:      instance.Name + "-secret-key",
				Namespace: instance.Namespace,
			}, keySecret)
			return err == nil
		}, testTimeout, generalRetryInterval, "server key Secret not created")
		require.Len(t, keySecret.Data[takahev1alpha1.ServerKeyDataKey], takahev1alpha1.ServerKeyLength)

		// Migration gates the workloads; once it passes, both roll out.
		PollDeploymentReady(t, testEnv.Client, instance.Name+"-web", instance.Namespace, testTimeout)
		PollDeploymentReady(t, testEnv.Client, instance.Name+"-background", instance.Namespace, testTimeout)

		service := &corev1.Service{}
		require.NoError(t, testEnv.Client.Get(testEnv.Ctx, types.NamespacedName{
			Name:      instance.Name + "-web",
			Namespace: instance.Namespace,
		}, service))

		PollServerPhase(t, testEnv.Client, instance.Name, instance.Namespace, takahev1alpha1.PhaseActive, testTimeout)
	})
}
