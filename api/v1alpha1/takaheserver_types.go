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

package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// DatabaseSpec binds the server to a PostgreSQL database. The credentials
// Secret is published by a database operator in the same namespace and carries
// the username, password, host and port keys.
type DatabaseSpec struct {
	// SecretName is the name of the credentials Secret.
	// +kubebuilder:validation:MinLength=1
	SecretName string `json:"secretName"`
}

// SecretKeyRef references a specific key in a Kubernetes Secret.
type SecretKeyRef struct {
	// Name is the name of the Secret.
	// +kubebuilder:validation:MinLength=1
	Name string `json:"name"`
	// Key is the key within the Secret.
	// +kubebuilder:validation:MinLength=1
	Key string `json:"key"`
}

// IngressSpec configures external exposure of the web service.
type IngressSpec struct {
	// Enabled creates an Ingress routing the server domain to the web service.
	// +optional
	Enabled bool `json:"enabled,omitempty"`
	// ClassName selects the ingress controller.
	// +optional
	ClassName string `json:"className,omitempty"`
	// TLSSecretName references a TLS Secret for the server domain.
	// +optional
	TLSSecretName string `json:"tlsSecretName,omitempty"`
}

// StorageSpec configures the PVC backing local media storage.
type StorageSpec struct {
	// Size is the size of the PVC.
	// +optional
	Size *resource.Quantity `json:"size,omitempty"`
	// StorageClassName selects a StorageClass for the PVC.
	// +optional
	StorageClassName *string `json:"storageClassName,omitempty"`
	// MountPath is the container mount path for local media.
	// +optional
	MountPath string `json:"mountPath,omitempty"`
}

// AdminSpec bootstraps an initial superuser account. The generated initial
// password is written to an operator-owned Secret named <server>-admin.
type AdminSpec struct {
	// Username is the superuser account name.
	// +kubebuilder:validation:MinLength=1
	Username string `json:"username"`
	// Email is the superuser email address.
	// +kubebuilder:validation:MinLength=3
	Email string `json:"email"`
}

// PodOverrides allows low-level customization of the workload Pod templates.
type PodOverrides struct {
	// Env specifies additional environment variables for both workloads.
	// +optional
	Env []corev1.EnvVar `json:"env,omitempty"`
	// Resources specifies CPU/memory requests and limits.
	// +optional
	Resources *corev1.ResourceRequirements `json:"resources,omitempty"`
	// Volumes adds additional volumes to the Pods.
	// +optional
	Volumes []corev1.Volume `json:"volumes,omitempty"`
	// VolumeMounts adds additional volume mounts to the containers.
	// +optional
	VolumeMounts []corev1.VolumeMount `json:"volumeMounts,omitempty"`
}

// TakaheServerSpec defines the desired state of TakaheServer.
type TakaheServerSpec struct {
	// Domain is the main domain the instance serves (TAKAHE_MAIN_DOMAIN).
	// +kubebuilder:validation:MinLength=1
	Domain string `json:"domain"`

	// MediaBackend selects where media is stored: local://, s3://<bucket> or
	// gcs://<bucket> (TAKAHE_MEDIA_BACKEND).
	// +kubebuilder:default:="local://"
	// +optional
	MediaBackend string `json:"mediaBackend,omitempty"`

	// Image is the Takahē container image to deploy. Defaults to the
	// operator's configured image when empty.
	// +optional
	Image string `json:"image,omitempty"`

	// Replicas is the web Deployment replica count. The background worker
	// always runs a single replica.
	// +kubebuilder:default:=1
	// +optional
	Replicas *int32 `json:"replicas,omitempty"`

	// Database binds the server to a PostgreSQL credentials Secret. Until the
	// Secret exists and carries complete connection data the server stays in
	// the Blocked phase.
	// +optional
	Database *DatabaseSpec `json:"database,omitempty"`

	// SecretKey references an existing Secret holding the server secret key.
	// When unset the operator generates a key and stores it in an owned
	// Secret named <server>-secret-key.
	// +optional
	SecretKey *SecretKeyRef `json:"secretKey,omitempty"`

	// Ingress configures external exposure of the web service.
	// +optional
	Ingress *IngressSpec `json:"ingress,omitempty"`

	// Storage configures the PVC for local media. Only used with the
	// local:// media backend.
	// +optional
	Storage *StorageSpec `json:"storage,omitempty"`

	// Admin bootstraps an initial superuser account.
	// +optional
	Admin *AdminSpec `json:"admin,omitempty"`

	// PodOverrides provides low-level Pod template customization.
	// +optional
	PodOverrides *PodOverrides `json:"podOverrides,omitempty"`
}

// ServerPhase is the coarse status surfaced for a TakaheServer.
// +kubebuilder:validation:Enum=Waiting;Blocked;Active;Error
type ServerPhase string

const (
	// PhaseWaiting means a dependency is expected to become ready on its own.
	PhaseWaiting ServerPhase = "Waiting"
	// PhaseBlocked means user action is required (bad configuration or a
	// missing required integration).
	PhaseBlocked ServerPhase = "Blocked"
	// PhaseActive means the server is fully converged and available.
	PhaseActive ServerPhase = "Active"
	// PhaseError means the last reconciliation hit a transient platform
	// failure and will be retried.
	PhaseError ServerPhase = "Error"
)

// TakaheServerStatus defines the observed state of TakaheServer.
type TakaheServerStatus struct {
	// Phase is the coarse status of the server.
	Phase ServerPhase `json:"phase,omitempty"`
	// Message is a human-readable explanation of the phase.
	Message string `json:"message,omitempty"`
	// Conditions represent the latest available observations of the server's
	// current state.
	Conditions []metav1.Condition `json:"conditions,omitempty"`
	// ObservedGeneration is the spec generation last acted on.
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`
	// AvailableWebReplicas is the number of available web replicas.
	AvailableWebReplicas int32 `json:"availableWebReplicas,omitempty"`
	// Version is the Takahē version derived from the deployed image tag.
	Version string `json:"version,omitempty"`
	// MigratedImage is the image the database schema was last migrated for.
	MigratedImage string `json:"migratedImage,omitempty"`
	// AdminBootstrapped records that the superuser Job has been created.
	AdminBootstrapped bool `json:"adminBootstrapped,omitempty"`
	// LastKeyRotation is the rotate-secret-key annotation value last applied.
	LastKeyRotation string `json:"lastKeyRotation,omitempty"`
	// ServiceURL is the internal Kubernetes service URL.
	ServiceURL string `json:"serviceURL,omitempty"`
	// IngressURL is the external URL when ingress is enabled.
	// +optional
	IngressURL string `json:"ingressURL,omitempty"`
}

//+kubebuilder:object:root=true
//+kubebuilder:resource:shortName=takahe
//+kubebuilder:subresource:status
//+kubebuilder:printcolumn:name="Phase",type="string",JSONPath=".status.phase"
//+kubebuilder:printcolumn:name="Domain",type="string",JSONPath=".spec.domain"
//+kubebuilder:printcolumn:name="Version",type="string",JSONPath=".status.version",priority=1
//+kubebuilder:printcolumn:name="Available",type="integer",JSONPath=".status.availableWebReplicas"
//+kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// TakaheServer is the Schema for the takaheservers API.
type TakaheServer struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   TakaheServerSpec   `json:"spec"`
	Status TakaheServerStatus `json:"status,omitempty"`
}

//+kubebuilder:object:root=true

// TakaheServerList contains a list of TakaheServer.
type TakaheServerList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []TakaheServer `json:"items"`
}

func init() { //nolint:gochecknoinits
	SchemeBuilder.Register(&TakaheServer{}, &TakaheServerList{})
}
