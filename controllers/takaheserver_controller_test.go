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

package controllers

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	takahev1alpha1 "github.com/fediops/takahe-k8s-operator/api/v1alpha1"
	"github.com/fediops/takahe-k8s-operator/pkg/cluster"
)

// baseInstance returns a minimal valid TakaheServer instance.
func baseInstance() *takahev1alpha1.TakaheServer {
	return &takahev1alpha1.TakaheServer{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "test",
			Namespace: "default",
		},
		Spec: takahev1alpha1.TakaheServerSpec{
			Domain: "social.example.org",
			Database: &takahev1alpha1.DatabaseSpec{
				SecretName: "test-db",
			},
		},
	}
}

func databaseSecret() *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "test-db",
			Namespace: "default",
		},
		Data: map[string][]byte{
			takahev1alpha1.DatabaseSecretUsernameKey: []byte("takahe"),
			takahev1alpha1.DatabaseSecretPasswordKey: []byte("sekrit"),
			takahev1alpha1.DatabaseSecretHostKey:     []byte("db.default.svc"),
			takahev1alpha1.DatabaseSecretPortKey:     []byte("5432"),
		},
	}
}

// setupTestReconciler creates a fake client and reconciler for testing.
func setupTestReconciler(objs ...client.Object) (client.WithWatch, *TakaheServerReconciler) {
	scheme := runtime.NewScheme()
	_ = takahev1alpha1.AddToScheme(scheme)
	_ = appsv1.AddToScheme(scheme)
	_ = corev1.AddToScheme(scheme)
	_ = batchv1.AddToScheme(scheme)
	_ = networkingv1.AddToScheme(scheme)

	fakeClient := fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(objs...).
		WithStatusSubresource(&takahev1alpha1.TakaheServer{}).
		Build()

	reconciler := &TakaheServerReconciler{
		Client:      fakeClient,
		Scheme:      scheme,
		ClusterInfo: &cluster.ClusterInfo{OperatorNamespace: "takahe-operator-system"},
	}
	return fakeClient, reconciler
}

func reconcileOnce(t *testing.T, reconciler *TakaheServerReconciler, instance *takahev1alpha1.TakaheServer) ctrl.Result {
	t.Helper()
	result, err := reconciler.Reconcile(context.Background(), ctrl.Request{
		NamespacedName: types.NamespacedName{Name: instance.Name, Namespace: instance.Namespace},
	})
	require.NoError(t, err, "reconcile should not fail")
	return result
}

func getServer(t *testing.T, c client.Client, instance *takahev1alpha1.TakaheServer) *takahev1alpha1.TakaheServer {
	t.Helper()
	got := &takahev1alpha1.TakaheServer{}
	require.NoError(t, c.Get(context.Background(), types.NamespacedName{Name: instance.Name, Namespace: instance.Namespace}, got))
	return got
}

func secretValue(secret *corev1.Secret, key string) string {
	if v, ok := secret.Data[key]; ok {
		return string(v)
	}
	return secret.StringData[key]
}

func TestReconcileMissingDatabaseBlocks(t *testing.T) {
	instance := baseInstance()
	instance.Spec.Database = nil

	fakeClient, reconciler := setupTestReconciler(instance)
	reconcileOnce(t, reconciler, instance)

	got := getServer(t, fakeClient, instance)
	assert.Equal(t, takahev1alpha1.PhaseBlocked, got.Status.Phase)
	assert.Contains(t, got.Status.Message, "database")
	assert.False(t, IsConditionTrue(&got.Status, ConditionTypeDatabaseReady))

	// No workloads until the database integration exists.
	deployment := &appsv1.Deployment{}
	err := fakeClient.Get(context.Background(), types.NamespacedName{Name: "test-web", Namespace: "default"}, deployment)
	assert.True(t, k8serrors.IsNotFound(err))
}

func TestReconcileAbsentDatabaseSecretBlocks(t *testing.T) {
	instance := baseInstance()

	fakeClient, reconciler := setupTestReconciler(instance)
	reconcileOnce(t, reconciler, instance)

	got := getServer(t, fakeClient, instance)
	assert.Equal(t, takahev1alpha1.PhaseBlocked, got.Status.Phase)
	assert.Contains(t, got.Status.Message, "test-db")
}

func TestReconcileInvalidDomainBlocks(t *testing.T) {
	instance := baseInstance()
	instance.Spec.Domain = "example.com"

	fakeClient, reconciler := setupTestReconciler(instance, databaseSecret())
	reconcileOnce(t, reconciler, instance)

	got := getServer(t, fakeClient, instance)
	assert.Equal(t, takahev1alpha1.PhaseBlocked, got.Status.Phase)
	assert.Contains(t, got.Status.Message, "Invalid configuration")
	assert.False(t, IsConditionTrue(&got.Status, ConditionTypeValidationSucceeded))

	deployment := &appsv1.Deployment{}
	err := fakeClient.Get(context.Background(), types.NamespacedName{Name: "test-web", Namespace: "default"}, deployment)
	assert.True(t, k8serrors.IsNotFound(err))
}

func TestReconcileFullRollout(t *testing.T) {
	instance := baseInstance()
	ctx := context.Background()

	fakeClient, reconciler := setupTestReconciler(instance, databaseSecret())

	// First pass: the server key is generated and the migration Job is
	// created; workloads wait for the schema.
	result := reconcileOnce(t, reconciler, instance)
	assert.NotZero(t, result.RequeueAfter)

	got := getServer(t, fakeClient, instance)
	assert.Equal(t, takahev1alpha1.PhaseWaiting, got.Status.Phase)
	assert.Contains(t, got.Status.Message, "Migrating")

	keySecret := &corev1.Secret{}
	require.NoError(t, fakeClient.Get(ctx, types.NamespacedName{Name: "test-secret-key", Namespace: "default"}, keySecret))
	key := secretValue(keySecret, takahev1alpha1.ServerKeyDataKey)
	assert.Len(t, key, takahev1alpha1.ServerKeyLength)
	assert.Regexp(t, regexp.MustCompile(`^[A-Z0-9]+$`), key)

	jobName := migrationJobName(instance, takahev1alpha1.DefaultImage)
	job := &batchv1.Job{}
	require.NoError(t, fakeClient.Get(ctx, types.NamespacedName{Name: jobName, Namespace: "default"}, job))

	deployment := &appsv1.Deployment{}
	err := fakeClient.Get(ctx, types.NamespacedName{Name: "test-web", Namespace: "default"}, deployment)
	assert.True(t, k8serrors.IsNotFound(err), "workloads must wait for the migration")

	// Migration succeeds: workloads roll out.
	job.Status.Succeeded = 1
	require.NoError(t, fakeClient.Status().Update(ctx, job))

	reconcileOnce(t, reconciler, instance)

	got = getServer(t, fakeClient, instance)
	assert.Equal(t, takahev1alpha1.PhaseWaiting, got.Status.Phase)
	assert.Equal(t, takahev1alpha1.DefaultImage, got.Status.MigratedImage)

	web := &appsv1.Deployment{}
	require.NoError(t, fakeClient.Get(ctx, types.NamespacedName{Name: "test-web", Namespace: "default"}, web))
	background := &appsv1.Deployment{}
	require.NoError(t, fakeClient.Get(ctx, types.NamespacedName{Name: "test-background", Namespace: "default"}, background))
	assert.Equal(t, int32(1), *background.Spec.Replicas, "background worker must not scale out")

	service := &corev1.Service{}
	require.NoError(t, fakeClient.Get(ctx, types.NamespacedName{Name: "test-web", Namespace: "default"}, service))

	policy := &networkingv1.NetworkPolicy{}
	require.NoError(t, fakeClient.Get(ctx, types.NamespacedName{Name: "test-network-policy", Namespace: "default"}, policy))

	// Workloads become available: the server reports Active.
	web.Status.AvailableReplicas = 1
	require.NoError(t, fakeClient.Status().Update(ctx, web))
	background.Status.AvailableReplicas = 1
	require.NoError(t, fakeClient.Status().Update(ctx, background))

	reconcileOnce(t, reconciler, instance)

	got = getServer(t, fakeClient, instance)
	assert.Equal(t, takahev1alpha1.PhaseActive, got.Status.Phase)
	assert.Equal(t, "0.11.0", got.Status.Version)
	assert.Equal(t, "http://test-web.default.svc.cluster.local:8001", got.Status.ServiceURL)
	assert.Equal(t, int32(1), got.Status.AvailableWebReplicas)
	assert.True(t, IsConditionTrue(&got.Status, ConditionTypeMigrationComplete))
	assert.True(t, IsConditionTrue(&got.Status, ConditionTypeDeploymentReady))

	// Running the whole pass again changes nothing.
	reconcileOnce(t, reconciler, instance)

	again := getServer(t, fakeClient, instance)
	assert.Equal(t, takahev1alpha1.PhaseActive, again.Status.Phase)

	afterKey := &corev1.Secret{}
	require.NoError(t, fakeClient.Get(ctx, types.NamespacedName{Name: "test-secret-key", Namespace: "default"}, afterKey))
	assert.Equal(t, key, secretValue(afterKey, takahev1alpha1.ServerKeyDataKey), "key must be stable across reconciliations")
}

func TestReconcileKeyRotation(t *testing.T) {
	instance := baseInstance()
	ctx := context.Background()

	fakeClient, reconciler := setupTestReconciler(instance, databaseSecret())
	reconcileOnce(t, reconciler, instance)

	keySecret := &corev1.Secret{}
	require.NoError(t, fakeClient.Get(ctx, types.NamespacedName{Name: "test-secret-key", Namespace: "default"}, keySecret))
	before := secretValue(keySecret, takahev1alpha1.ServerKeyDataKey)

	got := getServer(t, fakeClient, instance)
	got.Annotations = map[string]string{takahev1alpha1.RotateServerKeyAnnotation: "2025-01-01"}
	require.NoError(t, fakeClient.Update(ctx, got))

	reconcileOnce(t, reconciler, instance)

	require.NoError(t, fakeClient.Get(ctx, types.NamespacedName{Name: "test-secret-key", Namespace: "default"}, keySecret))
	after := secretValue(keySecret, takahev1alpha1.ServerKeyDataKey)
	assert.NotEqual(t, before, after, "rotation must generate a fresh key")
	assert.Len(t, after, takahev1alpha1.ServerKeyLength)

	got = getServer(t, fakeClient, instance)
	assert.Equal(t, "2025-01-01", got.Status.LastKeyRotation)

	// The same annotation value does not rotate twice.
	reconcileOnce(t, reconciler, instance)
	require.NoError(t, fakeClient.Get(ctx, types.NamespacedName{Name: "test-secret-key", Namespace: "default"}, keySecret))
	assert.Equal(t, after, secretValue(keySecret, takahev1alpha1.ServerKeyDataKey))

	// Even when the status write is lost, the honored value on the Secret
	// prevents a second rotation for the same request.
	got = getServer(t, fakeClient, instance)
	got.Status.LastKeyRotation = ""
	require.NoError(t, fakeClient.Status().Update(ctx, got))

	reconcileOnce(t, reconciler, instance)
	require.NoError(t, fakeClient.Get(ctx, types.NamespacedName{Name: "test-secret-key", Namespace: "default"}, keySecret))
	assert.Equal(t, after, secretValue(keySecret, takahev1alpha1.ServerKeyDataKey))

	got = getServer(t, fakeClient, instance)
	assert.Equal(t, "2025-01-01", got.Status.LastKeyRotation)
}

func TestReconcileUserProvidedKeyNotReady(t *testing.T) {
	instance := baseInstance()
	instance.Spec.SecretKey = &takahev1alpha1.SecretKeyRef{Name: "my-key", Key: "value"}

	fakeClient, reconciler := setupTestReconciler(instance, databaseSecret())
	reconcileOnce(t, reconciler, instance)

	// The spec is valid; the server waits for the referenced Secret.
	got := getServer(t, fakeClient, instance)
	assert.Equal(t, takahev1alpha1.PhaseBlocked, got.Status.Phase)
	assert.Contains(t, got.Status.Message, "Waiting for secret key")
	assert.NotContains(t, got.Status.Message, "Invalid configuration")
	assert.True(t, IsConditionTrue(&got.Status, ConditionTypeValidationSucceeded))

	keyCond := GetCondition(&got.Status, ConditionTypeSecretKeyReady)
	require.NotNil(t, keyCond)
	assert.Equal(t, metav1.ConditionFalse, keyCond.Status)
	assert.Equal(t, ReasonSecretKeyPending, keyCond.Reason)

	// The operator never generates a Secret when the user named one.
	generated := &corev1.Secret{}
	err := fakeClient.Get(context.Background(), types.NamespacedName{Name: "test-secret-key", Namespace: "default"}, generated)
	assert.True(t, k8serrors.IsNotFound(err))
}

func TestReconcileSuperuserBootstrap(t *testing.T) {
	instance := baseInstance()
	instance.Spec.Admin = &takahev1alpha1.AdminSpec{
		Username: "admin",
		Email:    "admin@social.example.org",
	}
	// Schema already migrated for the deployed image.
	instance.Status.MigratedImage = takahev1alpha1.DefaultImage
	ctx := context.Background()

	fakeClient, reconciler := setupTestReconciler(instance, databaseSecret())
	reconcileOnce(t, reconciler, instance)

	adminSecret := &corev1.Secret{}
	require.NoError(t, fakeClient.Get(ctx, types.NamespacedName{Name: "test-admin", Namespace: "default"}, adminSecret))
	assert.Equal(t, "admin", secretValue(adminSecret, "username"))
	assert.NotEmpty(t, secretValue(adminSecret, "password"))

	job := &batchv1.Job{}
	require.NoError(t, fakeClient.Get(ctx, types.NamespacedName{Name: "test-superuser", Namespace: "default"}, job))

	got := getServer(t, fakeClient, instance)
	assert.True(t, got.Status.AdminBootstrapped)

	// The bootstrap runs once; later passes leave the Job alone.
	reconcileOnce(t, reconciler, instance)
	got = getServer(t, fakeClient, instance)
	assert.True(t, got.Status.AdminBootstrapped)
}

func TestReconcileIngressPending(t *testing.T) {
	instance := baseInstance()
	instance.Spec.Ingress = &takahev1alpha1.IngressSpec{Enabled: true, ClassName: "nginx"}
	instance.Status.MigratedImage = takahev1alpha1.DefaultImage
	ctx := context.Background()

	fakeClient, reconciler := setupTestReconciler(instance, databaseSecret())
	reconcileOnce(t, reconciler, instance)

	ingress := &networkingv1.Ingress{}
	require.NoError(t, fakeClient.Get(ctx, types.NamespacedName{Name: "test", Namespace: "default"}, ingress))
	require.Len(t, ingress.Spec.Rules, 1)
	assert.Equal(t, "social.example.org", ingress.Spec.Rules[0].Host)
	require.NotNil(t, ingress.Spec.IngressClassName)
	assert.Equal(t, "nginx", *ingress.Spec.IngressClassName)

	got := getServer(t, fakeClient, instance)
	assert.Equal(t, takahev1alpha1.PhaseWaiting, got.Status.Phase)
	assert.Empty(t, got.Status.IngressURL, "no URL until the ingress has an address")
}

func TestGenerateServerKey(t *testing.T) {
	key, err := GenerateServerKey(takahev1alpha1.ServerKeyLength)
	require.NoError(t, err)
	assert.Len(t, key, takahev1alpha1.ServerKeyLength)
	assert.Regexp(t, regexp.MustCompile(`^[A-Z0-9]+$`), key)

	other, err := GenerateServerKey(takahev1alpha1.ServerKeyLength)
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}
