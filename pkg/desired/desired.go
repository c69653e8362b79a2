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

// Package desired computes the desired workload specification for a
// TakaheServer. Compute is a pure function of the spec and the resolved
// integration snapshots; identical inputs always produce an identical result,
// and no state is carried between reconciliations.
package desired

import (
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"

	takahev1alpha1 "github.com/fediops/takahe-k8s-operator/api/v1alpha1"
	"github.com/fediops/takahe-k8s-operator/pkg/relation"
)

// KeyNotReadyError reports that the server secret key Secret has not yet been
// created. Like a missing relation it is an expected waiting condition that
// resolves outside the operator, not invalid configuration.
type KeyNotReadyError struct {
	Reason string
}

func (e *KeyNotReadyError) Error() string {
	return "secret key not ready: " + e.Reason
}

// ServerKey identifies the Secret holding the Takahē server secret key.
// Revision changes when the key is rotated so that the workloads roll.
type ServerKey struct {
	SecretName string
	DataKey    string
	Revision   string
}

// Inputs is the read-only snapshot a desired state is computed from.
type Inputs struct {
	Server *takahev1alpha1.TakaheServer
	// Image is the resolved container image (spec.image or operator default).
	Image string
	// Database is the resolved database integration, nil when not yet usable.
	Database *relation.Database
	// Key is the server secret key reference, nil when not yet created.
	Key *ServerKey
}

// State is the desired workload specification. It is ephemeral: recomputed on
// every reconciliation and never persisted.
type State struct {
	Image   string
	Version string
	Port    int32

	WebCommand        []string
	BackgroundCommand []string

	// Env is shared by both workloads and the management Jobs.
	Env []corev1.EnvVar

	// KeyRevision is stamped into the pod template so key rotation restarts
	// the workloads.
	KeyRevision string

	// UseLocalMedia is true when media lives on an operator-managed PVC.
	UseLocalMedia  bool
	MediaMountPath string
}

// Compute validates the configuration and derives the desired workload
// specification. It returns a ValidationError for bad configuration, a
// relation.MissingRelationError while the database integration has not yet
// produced usable connection data, and a KeyNotReadyError while the server
// secret key Secret does not exist.
func Compute(in Inputs) (*State, error) {
	if err := ValidateSpec(&in.Server.Spec); err != nil {
		return nil, err
	}

	if in.Database == nil {
		return nil, &relation.MissingRelationError{
			Relation: relation.DatabaseRelationName,
			Reason:   "waiting for database relation",
		}
	}

	if in.Key == nil {
		reason := "server key Secret not created yet"
		if ref := in.Server.Spec.SecretKey; ref != nil {
			reason = fmt.Sprintf("Secret %q does not exist or has no %q key", ref.Name, ref.Key)
		}
		return nil, &KeyNotReadyError{Reason: reason}
	}

	if in.Image == "" {
		return nil, &ValidationError{Field: "image", Message: "no image resolved"}
	}

	spec := &in.Server.Spec

	mediaBackend := spec.MediaBackend
	if mediaBackend == "" {
		mediaBackend = takahev1alpha1.DefaultMediaBackend
	}

	mountPath := takahev1alpha1.DefaultMediaMountPath
	if spec.Storage != nil && spec.Storage.MountPath != "" {
		mountPath = spec.Storage.MountPath
	}

	state := &State{
		Image:   in.Image,
		Version: versionFromImage(in.Image),
		Port:    takahev1alpha1.DefaultServerPort,
		WebCommand: []string{
			"gunicorn", "takahe.wsgi:application",
			"-b", fmt.Sprintf("0.0.0.0:%d", takahev1alpha1.DefaultServerPort),
			"--access-logfile", "-",
			"--error-logfile", "-",
		},
		BackgroundCommand: []string{"python3", "manage.py", "runstator"},
		KeyRevision:       in.Key.Revision,
		UseLocalMedia:     mediaBackend == takahev1alpha1.DefaultMediaBackend,
		MediaMountPath:    mountPath,
	}

	state.Env = buildEnv(spec, in.Database, in.Key, mediaBackend, mountPath)

	return state, nil
}

// buildEnv assembles the TAKAHE_* environment both workloads run with. The
// secret key is injected from its Secret rather than copied into the spec.
func buildEnv(spec *takahev1alpha1.TakaheServerSpec, db *relation.Database, key *ServerKey, mediaBackend, mountPath string) []corev1.EnvVar {
	env := []corev1.EnvVar{
		{Name: "TAKAHE_DATABASE_SERVER", Value: db.DSN()},
		{
			Name: "TAKAHE_SECRET_KEY",
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: key.SecretName},
					Key:                  key.DataKey,
				},
			},
		},
		{Name: "TAKAHE_MAIN_DOMAIN", Value: spec.Domain},
		{Name: "TAKAHE_MEDIA_BACKEND", Value: mediaBackend},
		{Name: "TAKAHE_EMAIL_FROM", Value: "takahe@" + spec.Domain},
		{Name: "TAKAHE_AUTO_ADMIN_EMAIL", Value: "takahe@" + spec.Domain},
		{Name: "TAKAHE_USE_PROXY_HEADERS", Value: "True"},
	}

	if mediaBackend == takahev1alpha1.DefaultMediaBackend {
		env = append(env,
			corev1.EnvVar{Name: "TAKAHE_MEDIA_ROOT", Value: mountPath},
			// Must be https and must end with a slash.
			corev1.EnvVar{Name: "TAKAHE_MEDIA_URL", Value: "https://" + spec.Domain + "/media/"},
		)
	}

	if spec.PodOverrides != nil {
		env = append(env, spec.PodOverrides.Env...)
	}

	return env
}

// versionFromImage derives the workload version from the image tag.
func versionFromImage(image string) string {
	// Strip any digest first: repo:tag@sha256:... carries both.
	if at := strings.Index(image, "@"); at != -1 {
		image = image[:at]
	}
	colon := strings.LastIndex(image, ":")
	if colon == -1 || strings.Contains(image[colon:], "/") {
		return "unknown"
	}
	tag := image[colon+1:]
	if tag == "" || tag == "latest" {
		return "unknown"
	}
	return tag
}
