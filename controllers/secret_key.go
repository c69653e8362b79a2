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
	"crypto/rand"
	"fmt"
	"math/big"

	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"

	takahev1alpha1 "github.com/fediops/takahe-k8s-operator/api/v1alpha1"
	"github.com/fediops/takahe-k8s-operator/pkg/desired"
	"github.com/fediops/takahe-k8s-operator/pkg/metrics"
)

// serverKeyCharset matches what the charm's key generator used: uppercase
// letters and digits.
const serverKeyCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateServerKey returns a cryptographically random key of the given
// length, suitable for the Takahē server secret key.
func GenerateServerKey(length int) (string, error) {
	key := make([]byte, length)
	max := big.NewInt(int64(len(serverKeyCharset)))
	for i := range key {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate server key: %w", err)
		}
		key[i] = serverKeyCharset[n.Int64()]
	}
	return string(key), nil
}

// reconcileServerKey ensures the server secret key exists and handles rotation
// requests. It returns nil (without error) while a user-referenced Secret does
// not exist yet.
func (r *TakaheServerReconciler) reconcileServerKey(ctx context.Context, instance *takahev1alpha1.TakaheServer) (*desired.ServerKey, error) {
	logger := log.FromContext(ctx)

	// A user-referenced Secret is owned and rotated externally.
	if instance.Spec.SecretKey != nil {
		secret := &corev1.Secret{}
		err := r.Get(ctx, types.NamespacedName{Name: instance.Spec.SecretKey.Name, Namespace: instance.Namespace}, secret)
		if err != nil {
			if k8serrors.IsNotFound(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to get secret key Secret %q: %w", instance.Spec.SecretKey.Name, err)
		}
		if _, ok := secret.Data[instance.Spec.SecretKey.Key]; !ok {
			return nil, nil
		}
		return &desired.ServerKey{
			SecretName: secret.Name,
			DataKey:    instance.Spec.SecretKey.Key,
			Revision:   secret.ResourceVersion,
		}, nil
	}

	name := generatedKeySecretName(instance)
	secret := &corev1.Secret{}
	err := r.Get(ctx, types.NamespacedName{Name: name, Namespace: instance.Namespace}, secret)
	if err != nil {
		if !k8serrors.IsNotFound(err) {
			return nil, fmt.Errorf("failed to get server key Secret: %w", err)
		}

		key, genErr := GenerateServerKey(takahev1alpha1.ServerKeyLength)
		if genErr != nil {
			return nil, genErr
		}
		secret = &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{
				Name:      name,
				Namespace: instance.Namespace,
				Labels:    workloadLabels(instance, takahev1alpha1.WebContainerName),
			},
			StringData: map[string]string{takahev1alpha1.ServerKeyDataKey: key},
		}
		if ownErr := ctrl.SetControllerReference(instance, secret, r.Scheme); ownErr != nil {
			return nil, fmt.Errorf("failed to set owner reference on server key Secret: %w", ownErr)
		}
		if createErr := r.Create(ctx, secret); createErr != nil {
			return nil, fmt.Errorf("failed to create server key Secret: %w", createErr)
		}
		logger.Info("created server secret key", "secret", name)
	}

	// A changed rotate annotation regenerates the key; the new resource
	// version rolls the workloads. Rotation invalidates sessions only.
	// The honored value lives on the Secret and changes in the same update
	// as the key, so a lost status write cannot rotate twice for one
	// request.
	rotation := instance.Annotations[takahev1alpha1.RotateServerKeyAnnotation]
	if rotation != "" && rotation != secret.Annotations[takahev1alpha1.RotateServerKeyAnnotation] {
		key, genErr := GenerateServerKey(takahev1alpha1.ServerKeyLength)
		if genErr != nil {
			return nil, genErr
		}
		if secret.Data == nil {
			secret.Data = map[string][]byte{}
		}
		secret.Data[takahev1alpha1.ServerKeyDataKey] = []byte(key)
		// StringData would shadow Data if the Secret was created this pass.
		secret.StringData = nil
		if secret.Annotations == nil {
			secret.Annotations = map[string]string{}
		}
		secret.Annotations[takahev1alpha1.RotateServerKeyAnnotation] = rotation
		if updateErr := r.Update(ctx, secret); updateErr != nil {
			return nil, fmt.Errorf("failed to rotate server key Secret: %w", updateErr)
		}
		metrics.RecordKeyRotation()
		logger.Info("rotated server secret key", "secret", name, "rotation", rotation)
	}
	instance.Status.LastKeyRotation = secret.Annotations[takahev1alpha1.RotateServerKeyAnnotation]

	return &desired.ServerKey{
		SecretName: name,
		DataKey:    takahev1alpha1.ServerKeyDataKey,
		Revision:   secret.ResourceVersion,
	}, nil
}

// reconcileAdminSecret ensures the superuser password Secret exists when admin
// bootstrap is requested.
func (r *TakaheServerReconciler) reconcileAdminSecret(ctx context.Context, instance *takahev1alpha1.TakaheServer) error {
	if instance.Spec.Admin == nil {
		return nil
	}

	name := adminSecretName(instance)
	secret := &corev1.Secret{}
	err := r.Get(ctx, types.NamespacedName{Name: name, Namespace: instance.Namespace}, secret)
	if err == nil {
		return nil
	}
	if !k8serrors.IsNotFound(err) {
		return fmt.Errorf("failed to get admin Secret: %w", err)
	}

	password, err := GenerateServerKey(32)
	if err != nil {
		return err
	}
	secret = &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: instance.Namespace,
			Labels:    workloadLabels(instance, "superuser"),
		},
		StringData: map[string]string{
			"username": instance.Spec.Admin.Username,
			"password": password,
		},
	}
	if ownErr := ctrl.SetControllerReference(instance, secret, r.Scheme); ownErr != nil {
		return fmt.Errorf("failed to set owner reference on admin Secret: %w", ownErr)
	}
	if createErr := r.Create(ctx, secret); createErr != nil {
		return fmt.Errorf("failed to create admin Secret: %w", createErr)
	}
	return nil
}
