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
	"crypto/sha256"
	"encoding/hex"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	takahev1alpha1 "github.com/fediops/takahe-k8s-operator/api/v1alpha1"
	"github.com/fediops/takahe-k8s-operator/pkg/desired"
)

const (
	mediaVolumeName = "takahe-media"

	// keyRevisionAnnotation is stamped into the pod templates so that a
	// rotated server key rolls the workloads.
	keyRevisionAnnotation = "takahe.fediops.dev/key-revision"
)

// Derived object names. Everything the operator creates for a server hangs off
// the server name.
func webDeploymentName(instance *takahev1alpha1.TakaheServer) string { return instance.Name + "-web" }

func backgroundDeploymentName(instance *takahev1alpha1.TakaheServer) string {
	return instance.Name + "-background"
}

func serviceName(instance *takahev1alpha1.TakaheServer) string { return instance.Name + "-web" }

func mediaPVCName(instance *takahev1alpha1.TakaheServer) string { return instance.Name + "-media" }

func generatedKeySecretName(instance *takahev1alpha1.TakaheServer) string {
	return instance.Name + "-secret-key"
}

func adminSecretName(instance *takahev1alpha1.TakaheServer) string { return instance.Name + "-admin" }

func migrationJobName(instance *takahev1alpha1.TakaheServer, image string) string {
	return instance.Name + "-migrate-" + shortHash(image)
}

func superuserJobName(instance *takahev1alpha1.TakaheServer) string {
	return instance.Name + "-superuser"
}

// shortHash returns the first 8 hex characters of the SHA256 of s, used to
// give Jobs image-specific names.
func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}

func workloadLabels(instance *takahev1alpha1.TakaheServer, component string) map[string]string {
	return map[string]string{
		takahev1alpha1.LabelKey:          instance.Name,
		takahev1alpha1.ComponentLabelKey: component,
	}
}

// buildWorkloadContainer creates the container specification shared by the web
// and background workloads.
func buildWorkloadContainer(instance *takahev1alpha1.TakaheServer, st *desired.State, name string, command []string) corev1.Container {
	container := corev1.Container{
		Name:            name,
		Image:           st.Image,
		Command:         command,
		Env:             st.Env,
		ImagePullPolicy: corev1.PullIfNotPresent,
	}

	if instance.Spec.PodOverrides != nil && instance.Spec.PodOverrides.Resources != nil {
		container.Resources = *instance.Spec.PodOverrides.Resources
	}

	if st.UseLocalMedia {
		container.VolumeMounts = append(container.VolumeMounts, corev1.VolumeMount{
			Name:      mediaVolumeName,
			MountPath: st.MediaMountPath,
		})
	}

	if instance.Spec.PodOverrides != nil {
		container.VolumeMounts = append(container.VolumeMounts, instance.Spec.PodOverrides.VolumeMounts...)
	}

	return container
}

// buildPodSpec wraps a container with the volumes the workloads share.
func buildPodSpec(instance *takahev1alpha1.TakaheServer, st *desired.State, container corev1.Container) corev1.PodSpec {
	podSpec := corev1.PodSpec{
		Containers: []corev1.Container{container},
	}

	if st.UseLocalMedia {
		podSpec.Volumes = append(podSpec.Volumes, corev1.Volume{
			Name: mediaVolumeName,
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
					ClaimName: mediaPVCName(instance),
				},
			},
		})
	}

	if instance.Spec.PodOverrides != nil {
		podSpec.Volumes = append(podSpec.Volumes, instance.Spec.PodOverrides.Volumes...)
	}

	return podSpec
}

func buildDeployment(instance *takahev1alpha1.TakaheServer, st *desired.State, name, component string, command []string, replicas int32) *appsv1.Deployment {
	container := buildWorkloadContainer(instance, st, component, command)
	if component == takahev1alpha1.WebContainerName {
		container.Ports = []corev1.ContainerPort{{ContainerPort: st.Port}}
	}

	labels := workloadLabels(instance, component)

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: instance.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(replicas),
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels:      labels,
					Annotations: map[string]string{keyRevisionAnnotation: st.KeyRevision},
				},
				Spec: buildPodSpec(instance, st, container),
			},
		},
	}
}

// BuildWebDeployment creates the gunicorn web server Deployment.
func BuildWebDeployment(instance *takahev1alpha1.TakaheServer, st *desired.State) *appsv1.Deployment {
	replicas := int32(1)
	if instance.Spec.Replicas != nil {
		replicas = *instance.Spec.Replicas
	}
	return buildDeployment(instance, st, webDeploymentName(instance), takahev1alpha1.WebContainerName, st.WebCommand, replicas)
}

// BuildBackgroundDeployment creates the stator background worker Deployment.
// The stator must not run concurrently, so it is pinned to one replica.
func BuildBackgroundDeployment(instance *takahev1alpha1.TakaheServer, st *desired.State) *appsv1.Deployment {
	return buildDeployment(instance, st, backgroundDeploymentName(instance), takahev1alpha1.BackgroundContainerName, st.BackgroundCommand, 1)
}

// BuildService creates the ClusterIP Service in front of the web workload.
func BuildService(instance *takahev1alpha1.TakaheServer, st *desired.State) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      serviceName(instance),
			Namespace: instance.Namespace,
			Labels:    workloadLabels(instance, takahev1alpha1.WebContainerName),
		},
		Spec: corev1.ServiceSpec{
			Selector: workloadLabels(instance, takahev1alpha1.WebContainerName),
			Ports: []corev1.ServicePort{{
				Name:       takahev1alpha1.DefaultServicePortName,
				Port:       st.Port,
				TargetPort: intstr.IntOrString{IntVal: st.Port},
			}},
			Type: corev1.ServiceTypeClusterIP,
		},
	}
}

// BuildIngress creates the Ingress routing the server domain to the web
// Service.
func BuildIngress(instance *takahev1alpha1.TakaheServer, st *desired.State) *networkingv1.Ingress {
	pathType := networkingv1.PathTypePrefix

	ingress := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:      instance.Name,
			Namespace: instance.Namespace,
			Labels:    workloadLabels(instance, takahev1alpha1.WebContainerName),
		},
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{{
				Host: instance.Spec.Domain,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     "/",
							PathType: &pathType,
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: serviceName(instance),
									Port: networkingv1.ServiceBackendPort{Number: st.Port},
								},
							},
						}},
					},
				},
			}},
		},
	}

	if instance.Spec.Ingress.ClassName != "" {
		ingress.Spec.IngressClassName = ptr.To(instance.Spec.Ingress.ClassName)
	}
	if instance.Spec.Ingress.TLSSecretName != "" {
		ingress.Spec.TLS = []networkingv1.IngressTLS{{
			Hosts:      []string{instance.Spec.Domain},
			SecretName: instance.Spec.Ingress.TLSSecretName,
		}}
	}

	return ingress
}

// BuildMediaPVC creates the PVC backing local media storage.
func BuildMediaPVC(instance *takahev1alpha1.TakaheServer) *corev1.PersistentVolumeClaim {
	size := takahev1alpha1.DefaultMediaStorageSize
	var storageClassName *string
	if instance.Spec.Storage != nil {
		if instance.Spec.Storage.Size != nil {
			size = *instance.Spec.Storage.Size
		}
		storageClassName = instance.Spec.Storage.StorageClassName
	}

	return &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      mediaPVCName(instance),
			Namespace: instance.Namespace,
			Labels:    workloadLabels(instance, takahev1alpha1.WebContainerName),
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes:      []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			StorageClassName: storageClassName,
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: size,
				},
			},
		},
	}
}

// BuildNetworkPolicy restricts ingress traffic to the web port, allowing the
// ingress controller namespace and the operator namespace through.
func BuildNetworkPolicy(instance *takahev1alpha1.TakaheServer, st *desired.State, operatorNamespace string) *networkingv1.NetworkPolicy {
	return &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      instance.Name + "-network-policy",
			Namespace: instance.Namespace,
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{
				MatchLabels: workloadLabels(instance, takahev1alpha1.WebContainerName),
			},
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress},
			Ingress: []networkingv1.NetworkPolicyIngressRule{
				{
					From: []networkingv1.NetworkPolicyPeer{
						{
							PodSelector:       &metav1.LabelSelector{},
							NamespaceSelector: &metav1.LabelSelector{}, // any namespace; the ingress controller location is not known
						},
					},
					Ports: []networkingv1.NetworkPolicyPort{{
						Protocol: (*corev1.Protocol)(ptr.To("TCP")),
						Port:     &intstr.IntOrString{IntVal: st.Port},
					}},
				},
				{
					From: []networkingv1.NetworkPolicyPeer{
						{
							PodSelector: &metav1.LabelSelector{},
							NamespaceSelector: &metav1.LabelSelector{
								MatchLabels: map[string]string{
									"kubernetes.io/metadata.name": operatorNamespace,
								},
							},
						},
					},
					Ports: []networkingv1.NetworkPolicyPort{{
						Protocol: (*corev1.Protocol)(ptr.To("TCP")),
						Port:     &intstr.IntOrString{IntVal: st.Port},
					}},
				},
			},
		},
	}
}

// BuildMigrationJob creates the Job that runs `manage.py migrate` for the
// given desired state. The Job name is derived from the image so that every
// upgrade gets its own migration run.
func BuildMigrationJob(instance *takahev1alpha1.TakaheServer, st *desired.State) *batchv1.Job {
	container := buildWorkloadContainer(instance, st, "migrate", []string{"python3", "manage.py", "migrate"})
	podSpec := buildPodSpec(instance, st, container)
	podSpec.RestartPolicy = corev1.RestartPolicyNever

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      migrationJobName(instance, st.Image),
			Namespace: instance.Namespace,
			Labels:    workloadLabels(instance, "migrate"),
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: ptr.To(int32(4)),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: workloadLabels(instance, "migrate")},
				Spec:       podSpec,
			},
		},
	}
}

// BuildSuperuserJob creates the one-shot Job that bootstraps the initial
// superuser. The generated password is injected from the admin Secret.
func BuildSuperuserJob(instance *takahev1alpha1.TakaheServer, st *desired.State) *batchv1.Job {
	container := buildWorkloadContainer(instance, st, "superuser", []string{"python3", "manage.py", "createsuperuser", "--no-input"})
	container.Env = append(container.Env,
		corev1.EnvVar{Name: "DJANGO_SUPERUSER_USERNAME", Value: instance.Spec.Admin.Username},
		corev1.EnvVar{Name: "DJANGO_SUPERUSER_EMAIL", Value: instance.Spec.Admin.Email},
		corev1.EnvVar{
			Name: "DJANGO_SUPERUSER_PASSWORD",
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: adminSecretName(instance)},
					Key:                  "password",
				},
			},
		},
	)

	podSpec := buildPodSpec(instance, st, container)
	podSpec.RestartPolicy = corev1.RestartPolicyNever

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      superuserJobName(instance),
			Namespace: instance.Namespace,
			Labels:    workloadLabels(instance, "superuser"),
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: ptr.To(int32(4)),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: workloadLabels(instance, "superuser")},
				Spec:       podSpec,
			},
		},
	}
}
