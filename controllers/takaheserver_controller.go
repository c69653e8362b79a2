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

// Package controllers reconciles TakaheServer resources. Every event runs the
// same pipeline: snapshot configuration and integrations, compute the desired
// workload specification, converge the cluster, derive a status. No state is
// carried between runs beyond what the cluster itself records.
package controllers

import (
	"context"
	"errors"
	"fmt"
	"time"

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
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/log"

	takahev1alpha1 "github.com/fediops/takahe-k8s-operator/api/v1alpha1"
	"github.com/fediops/takahe-k8s-operator/pkg/cluster"
	"github.com/fediops/takahe-k8s-operator/pkg/desired"
	"github.com/fediops/takahe-k8s-operator/pkg/metrics"
	"github.com/fediops/takahe-k8s-operator/pkg/relation"
)

// TakaheServerReconciler reconciles a TakaheServer object.
type TakaheServerReconciler struct {
	client.Client
	Scheme      *runtime.Scheme
	ClusterInfo *cluster.ClusterInfo
}

//+kubebuilder:rbac:groups=takahe.fediops.dev,resources=takaheservers,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups=takahe.fediops.dev,resources=takaheservers/status,verbs=get;update;patch
//+kubebuilder:rbac:groups=apps,resources=deployments,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups=batch,resources=jobs,verbs=get;list;watch;create;delete
//+kubebuilder:rbac:groups=networking.k8s.io,resources=ingresses;networkpolicies,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups="",resources=services;persistentvolumeclaims,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups="",resources=secrets;configmaps,verbs=get;list;watch;create;update

// Reconcile runs one full pass of the compute/converge/derive pipeline for a
// single TakaheServer.
func (r *TakaheServerReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	start := time.Now()

	instance := &takahev1alpha1.TakaheServer{}
	if err := r.Get(ctx, req.NamespacedName, instance); err != nil {
		if k8serrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, fmt.Errorf("failed to get TakaheServer: %w", err)
	}

	// Owned objects are garbage collected through owner references; nothing
	// else to tear down.
	if !instance.GetDeletionTimestamp().IsZero() {
		return ctrl.Result{}, nil
	}

	st, rollout, computeErr := r.reconcileServer(ctx, instance)

	phase, message := derivePhase(computeErr, rollout)
	r.setStatus(instance, st, rollout, computeErr, phase, message)

	if err := r.Status().Update(ctx, instance); err != nil {
		return ctrl.Result{}, fmt.Errorf("failed to update status: %w", err)
	}

	metrics.ObserveReconcile(string(phase), time.Since(start))
	logger.V(1).Info("reconciled", "phase", phase, "message", message)

	// Transient platform failures are retried with backoff; everything else
	// waits for the next event (watches cover integration and workload
	// changes).
	if phase == takahev1alpha1.PhaseError {
		return ctrl.Result{}, computeErr
	}
	if phase == takahev1alpha1.PhaseWaiting {
		return ctrl.Result{RequeueAfter: 30 * time.Second}, nil
	}
	return ctrl.Result{}, nil
}

// reconcileServer snapshots the inputs, computes the desired state and
// converges the cluster. The returned error carries the taxonomy the status
// derivation maps to phases: ValidationError, MissingRelationError or a
// transient platform failure.
func (r *TakaheServerReconciler) reconcileServer(ctx context.Context, instance *takahev1alpha1.TakaheServer) (*desired.State, rolloutState, error) {
	var rollout rolloutState

	db, dbErr := relation.ResolveDatabase(ctx, r.Client, instance.Namespace, instance.Spec.Database)
	var missing *relation.MissingRelationError
	if dbErr != nil && !errors.As(dbErr, &missing) {
		return nil, rollout, dbErr
	}

	key, keyErr := r.reconcileServerKey(ctx, instance)
	if keyErr != nil {
		return nil, rollout, keyErr
	}

	image := instance.Spec.Image
	if image == "" {
		image = r.ClusterInfo.DefaultImage()
	}

	st, err := desired.Compute(desired.Inputs{
		Server:   instance,
		Image:    image,
		Database: db,
		Key:      key,
	})
	if err != nil {
		// Prefer the resolver's reason over the generic missing-relation
		// message.
		if db == nil && dbErr != nil && errors.As(err, &missing) {
			return nil, rollout, dbErr
		}
		return nil, rollout, err
	}

	if err := r.converge(ctx, instance, st, &rollout); err != nil {
		return st, rollout, err
	}

	return st, rollout, nil
}

// converge issues the minimal set of changes to match the desired state. Each
// apply is idempotent; running the whole pass twice changes nothing the second
// time.
func (r *TakaheServerReconciler) converge(ctx context.Context, instance *takahev1alpha1.TakaheServer, st *desired.State, rollout *rolloutState) error {
	if st.UseLocalMedia {
		if err := r.ensureMediaPVC(ctx, instance); err != nil {
			return err
		}
	}

	if err := r.reconcileMigration(ctx, instance, st, rollout); err != nil {
		return err
	}

	// Workloads are only rolled once the schema matches the target image,
	// mirroring the migrate-then-restart order of the original operator.
	if !rollout.Migrated {
		return nil
	}

	web, err := r.applyDeployment(ctx, instance, BuildWebDeployment(instance, st))
	if err != nil {
		return fmt.Errorf("failed to apply web Deployment: %w", err)
	}
	rollout.WebAvailable = web.Status.AvailableReplicas
	rollout.WebDesired = 1
	if web.Spec.Replicas != nil {
		rollout.WebDesired = *web.Spec.Replicas
	}

	background, err := r.applyDeployment(ctx, instance, BuildBackgroundDeployment(instance, st))
	if err != nil {
		return fmt.Errorf("failed to apply background Deployment: %w", err)
	}
	rollout.BackgroundAvailable = background.Status.AvailableReplicas

	if err := r.applyService(ctx, instance, BuildService(instance, st)); err != nil {
		return fmt.Errorf("failed to apply Service: %w", err)
	}

	if err := r.applyNetworkPolicy(ctx, instance, BuildNetworkPolicy(instance, st, r.ClusterInfo.OperatorNamespace)); err != nil {
		return fmt.Errorf("failed to apply NetworkPolicy: %w", err)
	}

	if instance.Spec.Ingress != nil && instance.Spec.Ingress.Enabled {
		rollout.IngressEnabled = true
		ready, err := r.applyIngress(ctx, instance, BuildIngress(instance, st))
		if err != nil {
			return fmt.Errorf("failed to apply Ingress: %w", err)
		}
		rollout.IngressReady = ready
	}

	if err := r.reconcileSuperuser(ctx, instance, st); err != nil {
		return err
	}

	return nil
}

// reconcileMigration creates the schema migration Job for the target image and
// tracks its outcome. The previous schema stays in service until the Job
// succeeds.
func (r *TakaheServerReconciler) reconcileMigration(ctx context.Context, instance *takahev1alpha1.TakaheServer, st *desired.State, rollout *rolloutState) error {
	logger := log.FromContext(ctx)

	if instance.Status.MigratedImage == st.Image {
		rollout.Migrated = true
		return nil
	}

	job := &batchv1.Job{}
	name := migrationJobName(instance, st.Image)
	err := r.Get(ctx, types.NamespacedName{Name: name, Namespace: instance.Namespace}, job)
	if err != nil {
		if !k8serrors.IsNotFound(err) {
			return fmt.Errorf("failed to get migration Job: %w", err)
		}

		job = BuildMigrationJob(instance, st)
		if ownErr := ctrl.SetControllerReference(instance, job, r.Scheme); ownErr != nil {
			return fmt.Errorf("failed to set owner reference on migration Job: %w", ownErr)
		}
		if createErr := r.Create(ctx, job); createErr != nil {
			return fmt.Errorf("failed to create migration Job: %w", createErr)
		}
		metrics.RecordMigrationJob()
		logger.Info("created migration Job", "job", name, "image", st.Image)
		rollout.Migrating = true
		return nil
	}

	switch {
	case job.Status.Succeeded > 0:
		instance.Status.MigratedImage = st.Image
		rollout.Migrated = true
	case jobFailed(job):
		rollout.MigrationFailed = true
	default:
		rollout.Migrating = true
	}
	return nil
}

// reconcileSuperuser bootstraps the initial admin account once, after the
// schema exists.
func (r *TakaheServerReconciler) reconcileSuperuser(ctx context.Context, instance *takahev1alpha1.TakaheServer, st *desired.State) error {
	if instance.Spec.Admin == nil || instance.Status.AdminBootstrapped {
		return nil
	}

	if err := r.reconcileAdminSecret(ctx, instance); err != nil {
		return err
	}

	job := BuildSuperuserJob(instance, st)
	if err := ctrl.SetControllerReference(instance, job, r.Scheme); err != nil {
		return fmt.Errorf("failed to set owner reference on superuser Job: %w", err)
	}
	if err := r.Create(ctx, job); err != nil {
		if !k8serrors.IsAlreadyExists(err) {
			return fmt.Errorf("failed to create superuser Job: %w", err)
		}
	}
	instance.Status.AdminBootstrapped = true
	return nil
}

func jobFailed(job *batchv1.Job) bool {
	for _, cond := range job.Status.Conditions {
		if cond.Type == batchv1.JobFailed && cond.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

func (r *TakaheServerReconciler) ensureMediaPVC(ctx context.Context, instance *takahev1alpha1.TakaheServer) error {
	pvc := &corev1.PersistentVolumeClaim{}
	err := r.Get(ctx, types.NamespacedName{Name: mediaPVCName(instance), Namespace: instance.Namespace}, pvc)
	if err == nil {
		return nil
	}
	if !k8serrors.IsNotFound(err) {
		return fmt.Errorf("failed to get media PVC: %w", err)
	}

	pvc = BuildMediaPVC(instance)
	if ownErr := ctrl.SetControllerReference(instance, pvc, r.Scheme); ownErr != nil {
		return fmt.Errorf("failed to set owner reference on media PVC: %w", ownErr)
	}
	if createErr := r.Create(ctx, pvc); createErr != nil {
		return fmt.Errorf("failed to create media PVC: %w", createErr)
	}
	return nil
}

func (r *TakaheServerReconciler) applyDeployment(ctx context.Context, instance *takahev1alpha1.TakaheServer, want *appsv1.Deployment) (*appsv1.Deployment, error) {
	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: want.Name, Namespace: want.Namespace},
	}
	_, err := controllerutil.CreateOrUpdate(ctx, r.Client, deployment, func() error {
		deployment.Labels = want.Labels
		deployment.Spec = want.Spec
		return ctrl.SetControllerReference(instance, deployment, r.Scheme)
	})
	return deployment, err
}

func (r *TakaheServerReconciler) applyService(ctx context.Context, instance *takahev1alpha1.TakaheServer, want *corev1.Service) error {
	service := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: want.Name, Namespace: want.Namespace},
	}
	_, err := controllerutil.CreateOrUpdate(ctx, r.Client, service, func() error {
		clusterIP := service.Spec.ClusterIP
		service.Labels = want.Labels
		service.Spec = want.Spec
		service.Spec.ClusterIP = clusterIP
		return ctrl.SetControllerReference(instance, service, r.Scheme)
	})
	return err
}

func (r *TakaheServerReconciler) applyNetworkPolicy(ctx context.Context, instance *takahev1alpha1.TakaheServer, want *networkingv1.NetworkPolicy) error {
	policy := &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{Name: want.Name, Namespace: want.Namespace},
	}
	_, err := controllerutil.CreateOrUpdate(ctx, r.Client, policy, func() error {
		policy.Labels = want.Labels
		policy.Spec = want.Spec
		return ctrl.SetControllerReference(instance, policy, r.Scheme)
	})
	return err
}

func (r *TakaheServerReconciler) applyIngress(ctx context.Context, instance *takahev1alpha1.TakaheServer, want *networkingv1.Ingress) (bool, error) {
	ingress := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{Name: want.Name, Namespace: want.Namespace},
	}
	_, err := controllerutil.CreateOrUpdate(ctx, r.Client, ingress, func() error {
		ingress.Labels = want.Labels
		ingress.Spec = want.Spec
		return ctrl.SetControllerReference(instance, ingress, r.Scheme)
	})
	if err != nil {
		return false, err
	}
	return len(ingress.Status.LoadBalancer.Ingress) > 0, nil
}

// setStatus overwrites the observable status from this run's outcome.
func (r *TakaheServerReconciler) setStatus(instance *takahev1alpha1.TakaheServer, st *desired.State, rollout rolloutState, computeErr error, phase takahev1alpha1.ServerPhase, message string) {
	instance.Status.Phase = phase
	instance.Status.Message = message
	instance.Status.ObservedGeneration = instance.Generation
	instance.Status.AvailableWebReplicas = rollout.WebAvailable

	var validationErr *desired.ValidationError
	var missingErr *relation.MissingRelationError
	var keyErr *desired.KeyNotReadyError

	SetValidationCondition(&instance.Status, !errors.As(computeErr, &validationErr), errAsMessage(computeErr))
	SetDatabaseReadyCondition(&instance.Status, !errors.As(computeErr, &missingErr), errAsMessage(computeErr))
	if errors.As(computeErr, &keyErr) {
		SetSecretKeyCondition(&instance.Status, false, keyErr.Reason)
	}

	if st != nil {
		instance.Status.Version = st.Version
		instance.Status.ServiceURL = fmt.Sprintf("http://%s.%s.svc.cluster.local:%d", serviceName(instance), instance.Namespace, st.Port)
		SetSecretKeyCondition(&instance.Status, true, "")
		SetMigrationCondition(&instance.Status, rollout)
		SetDeploymentReadyCondition(&instance.Status, rollout)
	}

	if rollout.IngressReady {
		instance.Status.IngressURL = "https://" + instance.Spec.Domain
	}
}

func errAsMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// secretToServers enqueues every TakaheServer in the Secret's namespace that
// references it, covering database credential and secret key changes coming
// from outside the operator.
func (r *TakaheServerReconciler) secretToServers(ctx context.Context, obj client.Object) []ctrl.Request {
	servers := &takahev1alpha1.TakaheServerList{}
	if err := r.List(ctx, servers, client.InNamespace(obj.GetNamespace())); err != nil {
		return nil
	}

	var requests []ctrl.Request
	for i := range servers.Items {
		server := &servers.Items[i]
		if serverReferencesSecret(server, obj.GetName()) {
			requests = append(requests, ctrl.Request{
				NamespacedName: types.NamespacedName{Name: server.Name, Namespace: server.Namespace},
			})
		}
	}
	return requests
}

func serverReferencesSecret(server *takahev1alpha1.TakaheServer, secretName string) bool {
	if server.Spec.Database != nil && server.Spec.Database.SecretName == secretName {
		return true
	}
	if server.Spec.SecretKey != nil && server.Spec.SecretKey.Name == secretName {
		return true
	}
	return false
}

// SetupWithManager sets up the controller with the Manager.
func (r *TakaheServerReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&takahev1alpha1.TakaheServer{}).
		Owns(&appsv1.Deployment{}).
		Owns(&corev1.Service{}).
		Owns(&corev1.Secret{}).
		Owns(&batchv1.Job{}).
		Owns(&networkingv1.Ingress{}).
		Owns(&networkingv1.NetworkPolicy{}).
		Owns(&corev1.PersistentVolumeClaim{}).
		Watches(&corev1.Secret{}, handler.EnqueueRequestsFromMapFunc(r.secretToServers)).
		Complete(r)
}
