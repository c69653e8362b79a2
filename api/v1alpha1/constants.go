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

import "k8s.io/apimachinery/pkg/api/resource"

const (
	// WebContainerName is the name of the gunicorn web server container.
	WebContainerName = "takahe-web"
	// BackgroundContainerName is the name of the stator background worker container.
	BackgroundContainerName = "takahe-background"

	// DefaultServerPort is the port the Takahē web server listens on.
	DefaultServerPort int32 = 8001
	// DefaultServicePortName is the name of the Service port.
	DefaultServicePortName = "http"

	// DefaultImage is the Takahē image deployed when spec.image is empty and
	// no override is configured for the operator.
	DefaultImage = "jointakahe/takahe:0.11.0"

	// DefaultMediaBackend stores media on the pod-local volume.
	DefaultMediaBackend = "local://"
	// DefaultMediaMountPath is the container mount path for local media storage.
	DefaultMediaMountPath = "/takahe/media"

	// DatabaseName is the PostgreSQL database Takahē connects to.
	DatabaseName = "takahe"

	// LabelKey labels every object the operator manages; the value is the
	// owning TakaheServer name.
	LabelKey = "app"
	// ComponentLabelKey distinguishes the web and background workloads.
	ComponentLabelKey = "app.kubernetes.io/component"

	// ServerKeyDataKey is the Secret data key holding the server secret key.
	ServerKeyDataKey = "takahe-secret-key"
	// ServerKeyLength is the length of generated server secret keys.
	ServerKeyLength = 128

	// RotateServerKeyAnnotation requests a server key rotation. Changing the
	// annotation value regenerates the key on the next reconciliation.
	RotateServerKeyAnnotation = "takahe.fediops.dev/rotate-secret-key"
)

var (
	// DefaultMediaStorageSize is the PVC size for local media when unset.
	DefaultMediaStorageSize = resource.MustParse("10Gi")
)

// Database credential Secret keys, as published by the PostgreSQL operator
// the server is bound to.
const (
	DatabaseSecretUsernameKey = "username"
	DatabaseSecretPasswordKey = "password"
	DatabaseSecretHostKey     = "host"
	DatabaseSecretPortKey     = "port"
)
