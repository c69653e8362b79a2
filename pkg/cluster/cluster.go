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

// Package cluster resolves operator-level facts once at startup: the namespace
// the manager runs in and the operator ConfigMap.
package cluster

import (
	"context"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	takahev1alpha1 "github.com/fediops/takahe-k8s-operator/api/v1alpha1"
)

const (
	// operatorConfigMapName holds operator-level settings, deployed alongside
	// the manager.
	operatorConfigMapName = "takahe-operator-config"
	operatorConfigKey     = "config.yaml"
)

// OperatorConfig are the operator-level settings read at startup.
type OperatorConfig struct {
	// Image overrides the default Takahē image for servers that do not set
	// spec.image.
	Image string `yaml:"image"`
	// ImagePullPolicy applies to the workload containers.
	ImagePullPolicy string `yaml:"imagePullPolicy"`
}

// ClusterInfo carries cluster-scoped facts resolved once at startup.
type ClusterInfo struct {
	OperatorNamespace string
	Config            OperatorConfig
}

// DefaultImage returns the image to deploy when a server spec leaves it unset.
func (c *ClusterInfo) DefaultImage() string {
	if c != nil && c.Config.Image != "" {
		return c.Config.Image
	}
	return takahev1alpha1.DefaultImage
}

// NewClusterInfo resolves the operator namespace and loads the operator
// ConfigMap. A missing ConfigMap is not an error; defaults apply.
func NewClusterInfo(ctx context.Context, c client.Client, logger logr.Logger) (*ClusterInfo, error) {
	clusterInfo := &ClusterInfo{}
	var err error

	clusterInfo.OperatorNamespace, err = GetOperatorNamespace()
	if err != nil {
		return clusterInfo, fmt.Errorf("failed to find operator namespace: %w", err)
	}

	configMap := &corev1.ConfigMap{}
	if err = c.Get(ctx, types.NamespacedName{
		Name:      operatorConfigMapName,
		Namespace: clusterInfo.OperatorNamespace,
	}, configMap); err != nil {
		if k8serrors.IsNotFound(err) {
			logger.Info("no operator ConfigMap, using defaults", "namespace", clusterInfo.OperatorNamespace)
			return clusterInfo, nil
		}
		return clusterInfo, fmt.Errorf("failed to get operator ConfigMap: %w", err)
	}

	if raw, ok := configMap.Data[operatorConfigKey]; ok {
		if unmarshalErr := yaml.Unmarshal([]byte(raw), &clusterInfo.Config); unmarshalErr != nil {
			return clusterInfo, fmt.Errorf("failed to parse operator config: %w", unmarshalErr)
		}
		logger.Info("loaded operator config", "image", clusterInfo.Config.Image)
	}

	return clusterInfo, nil
}

// GetOperatorNamespace returns the namespace the operator runs in.
func GetOperatorNamespace() (string, error) {
	operatorNS, exist := os.LookupEnv("OPERATOR_NAMESPACE")
	if exist && operatorNS != "" {
		return operatorNS, nil
	}
	data, err := os.ReadFile("/var/run/secrets/kubernetes.io/serviceaccount/namespace")
	return string(data), err
}
