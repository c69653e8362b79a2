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

package e2e

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apiextv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/config"

	takahev1alpha1 "github.com/fediops/takahe-k8s-operator/api/v1alpha1"
)

const (
	takaheNS             = "takahe-e2e"
	postgresName         = "takahe-db"
	postgresPassword     = "e2e-password"
	testTimeout          = 5 * time.Minute
	pollInterval         = 10 * time.Second
	generalRetryInterval = 5 * time.Second
)

// TestEnvironment holds the test environment configuration.
type TestEnvironment struct {
	Client client.Client
	Ctx    context.Context
}

// SetupTestEnv sets up the test environment.
func SetupTestEnv() (*TestEnvironment, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}

	if err = takahev1alpha1.AddToScheme(scheme.Scheme); err != nil {
		return nil, err
	}
	if err = apiextv1.AddToScheme(scheme.Scheme); err != nil {
		return nil, err
	}

	cl, err := client.New(cfg, client.Options{Scheme: scheme.Scheme})
	if err != nil {
		return nil, err
	}

	return &TestEnvironment{
		Client: cl,
		Ctx:    context.Background(),
	}, nil
}

// validateCRD checks if a CustomResourceDefinition is established.
func validateCRD(ctx context.Context, c client.Client, crdName string) error {
	crd := &apiextv1.CustomResourceDefinition{}
	obj := client.ObjectKey{Name: crdName}

	return wait.PollUntilContextTimeout(ctx, generalRetryInterval, testTimeout, true, func(ctx context.Context) (bool, error) {
		if err := c.Get(ctx, obj, crd); err != nil {
			if errors.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}

		for _, condition := range crd.Status.Conditions {
			if condition.Type == apiextv1.Established && condition.Status == apiextv1.ConditionTrue {
				return true, nil
			}
		}
		return false, nil
	})
}

// GetDeployment gets a deployment by name and namespace.
func GetDeployment(ctx context.Context, cl client.Client, name, namespace string) (*appsv1.Deployment, error) {
	deployment := &appsv1.Deployment{}
	err := cl.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, deployment)
	return deployment, err
}

// PollDeploymentReady polls until the deployment has all replicas available.
func PollDeploymentReady(t *testing.T, c client.Client, name, namespace string, timeout time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			require.Failf(t, "timeout", "timeout waiting for deployment %s/%s to be ready", namespace, name)
		case <-ticker.C:
			deployment := &appsv1.Deployment{}
			if err := c.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, deployment); err != nil {
				continue
			}
			if deployment.Status.AvailableReplicas > 0 &&
				deployment.Status.AvailableReplicas == deployment.Status.Replicas {
				return
			}
		}
	}
}

// PollServerPhase polls until the TakaheServer reports the wanted phase.
func PollServerPhase(t *testing.T, c client.Client, name, namespace string, phase takahev1alpha1.ServerPhase, timeout time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last takahev1alpha1.TakaheServerStatus
	for {
		select {
		case <-ctx.Done():
			require.Failf(t, "timeout", "timeout waiting for server %s/%s to reach phase %s, last status: %s %q",
				namespace, name, phase, last.Phase, last.Message)
		case <-ticker.C:
			server := &takahev1alpha1.TakaheServer{}
			if err := c.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, server); err != nil {
				continue
			}
			last = server.Status
			if server.Status.Phase == phase {
				return
			}
		}
	}
}

// PollDeleted polls until the object is gone.
func PollDeleted(t *testing.T, c client.Client, obj client.Object, name, namespace string, timeout time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			require.Failf(t, "timeout", "timeout waiting for %s/%s to be deleted", namespace, name)
		case <-ticker.C:
			err := c.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, obj)
			if errors.IsNotFound(err) {
				return
			}
		}
	}
}

// EnsureNamespace creates the test namespace if it does not exist.
func EnsureNamespace(ctx context.Context, c client.Client, name string) error {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
	if err := c.Create(ctx, ns); err != nil && !errors.IsAlreadyExists(err) {
		return err
	}
	return nil
}

// DeployPostgres creates a throwaway PostgreSQL instance plus the credentials
// Secret a TakaheServer binds to. This is the database the suite runs against.
func DeployPostgres(ctx context.Context, c client.Client) error {
	labels := map[string]string{"app": postgresName}

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      postgresName,
			Namespace: takaheNS,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(1)),
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  "postgres",
						Image: "postgres:16",
						Env: []corev1.EnvVar{
							{Name: "POSTGRES_USER", Value: "takahe"},
							{Name: "POSTGRES_PASSWORD", Value: postgresPassword},
							{Name: "POSTGRES_DB", Value: takahev1alpha1.DatabaseName},
						},
						Ports: []corev1.ContainerPort{{ContainerPort: 5432}},
					}},
				},
			},
		},
	}
	if err := c.Create(ctx, deployment); err != nil && !errors.IsAlreadyExists(err) {
		return fmt.Errorf("failed to create postgres Deployment: %w", err)
	}

	service := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      postgresName,
			Namespace: takaheNS,
			Labels:    labels,
		},
		Spec: corev1.ServiceSpec{
			Selector: labels,
			Ports:    []corev1.ServicePort{{Port: 5432}},
		},
	}
	if err := c.Create(ctx, service); err != nil && !errors.IsAlreadyExists(err) {
		return fmt.Errorf("failed to create postgres Service: %w", err)
	}

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      postgresName,
			Namespace: takaheNS,
		},
		StringData: map[string]string{
			takahev1alpha1.DatabaseSecretUsernameKey: "takahe",
			takahev1alpha1.DatabaseSecretPasswordKey: postgresPassword,
			takahev1alpha1.DatabaseSecretHostKey:     fmt.Sprintf("%s.%s.svc", postgresName, takaheNS),
			takahev1alpha1.DatabaseSecretPortKey:     "5432",
		},
	}
	if err := c.Create(ctx, secret); err != nil && !errors.IsAlreadyExists(err) {
		return fmt.Errorf("failed to create postgres credentials Secret: %w", err)
	}

	return nil
}

// CleanupTestEnv removes the test namespace and everything in it.
func CleanupTestEnv(env *TestEnvironment) {
	if env == nil {
		return
	}
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: takaheNS}}
	_ = env.Client.Delete(env.Ctx, ns)
}
