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
	"errors"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	takahev1alpha1 "github.com/fediops/takahe-k8s-operator/api/v1alpha1"
	"github.com/fediops/takahe-k8s-operator/pkg/desired"
	"github.com/fediops/takahe-k8s-operator/pkg/relation"
)

// rolloutState summarizes what a reconciliation observed about the workloads.
// It feeds the phase derivation together with the computation error, so that
// the status is always a function of the most recent run and nothing else.
type rolloutState struct {
	Migrated        bool
	Migrating       bool
	MigrationFailed bool

	WebAvailable int32
	WebDesired   int32

	BackgroundAvailable int32

	IngressEnabled bool
	IngressReady   bool
}

// derivePhase maps a reconciliation outcome to the coarse server phase.
// Invalid configuration and a missing required integration block on the user;
// in-progress rollouts and migrations resolve on their own; anything else is a
// transient platform failure retried on the next event.
func derivePhase(err error, st rolloutState) (takahev1alpha1.ServerPhase, string) {
	var validationErr *desired.ValidationError
	var missingErr *relation.MissingRelationError
	var keyErr *desired.KeyNotReadyError

	switch {
	case err == nil:
	case errors.As(err, &validationErr):
		return takahev1alpha1.PhaseBlocked, "Invalid configuration: " + validationErr.Error()
	case errors.As(err, &missingErr):
		return takahev1alpha1.PhaseBlocked, fmt.Sprintf("Waiting for %s relation: %s", missingErr.Relation, missingErr.Reason)
	case errors.As(err, &keyErr):
		return takahev1alpha1.PhaseBlocked, "Waiting for secret key: " + keyErr.Reason
	default:
		return takahev1alpha1.PhaseError, "Reconciliation failed: " + err.Error()
	}

	if st.MigrationFailed {
		return takahev1alpha1.PhaseBlocked, "Database migration failed; see the migration Job logs"
	}
	if st.Migrating || !st.Migrated {
		return takahev1alpha1.PhaseWaiting, "Migrating database tables"
	}
	if st.WebAvailable < st.WebDesired {
		return takahev1alpha1.PhaseWaiting, fmt.Sprintf("Waiting for web workload (%d/%d available)", st.WebAvailable, st.WebDesired)
	}
	if st.BackgroundAvailable < 1 {
		return takahev1alpha1.PhaseWaiting, "Waiting for background workload"
	}
	if st.IngressEnabled && !st.IngressReady {
		return takahev1alpha1.PhaseWaiting, "Waiting for ingress"
	}
	return takahev1alpha1.PhaseActive, "Takahē is running"
}

// SetValidationCondition sets the validation condition.
func SetValidationCondition(status *takahev1alpha1.TakaheServerStatus, valid bool, message string) {
	condition := metav1.Condition{
		Type:               ConditionTypeValidationSucceeded,
		Status:             metav1.ConditionTrue,
		Reason:             ReasonValidationSucceeded,
		Message:            "Configuration is valid",
		LastTransitionTime: metav1.NewTime(metav1.Now().UTC()),
	}

	if !valid {
		condition.Status = metav1.ConditionFalse
		condition.Reason = ReasonValidationFailed
		condition.Message = message
	}

	SetCondition(status, condition)
}

// SetDatabaseReadyCondition sets the database integration condition.
func SetDatabaseReadyCondition(status *takahev1alpha1.TakaheServerStatus, ready bool, message string) {
	condition := metav1.Condition{
		Type:               ConditionTypeDatabaseReady,
		Status:             metav1.ConditionTrue,
		Reason:             ReasonDatabaseReady,
		Message:            "Database connection data resolved",
		LastTransitionTime: metav1.NewTime(metav1.Now().UTC()),
	}

	if !ready {
		condition.Status = metav1.ConditionFalse
		condition.Reason = ReasonDatabaseMissing
		condition.Message = message
	}

	SetCondition(status, condition)
}

// SetSecretKeyCondition sets the server secret key condition.
func SetSecretKeyCondition(status *takahev1alpha1.TakaheServerStatus, ready bool, message string) {
	condition := metav1.Condition{
		Type:               ConditionTypeSecretKeyReady,
		Status:             metav1.ConditionTrue,
		Reason:             ReasonSecretKeyReady,
		Message:            "Server secret key is available",
		LastTransitionTime: metav1.NewTime(metav1.Now().UTC()),
	}

	if !ready {
		condition.Status = metav1.ConditionFalse
		condition.Reason = ReasonSecretKeyPending
		condition.Message = message
	}

	SetCondition(status, condition)
}

// SetMigrationCondition sets the schema migration condition.
func SetMigrationCondition(status *takahev1alpha1.TakaheServerStatus, st rolloutState) {
	condition := metav1.Condition{
		Type:               ConditionTypeMigrationComplete,
		Status:             metav1.ConditionTrue,
		Reason:             ReasonMigrationComplete,
		Message:            "Database schema is up to date",
		LastTransitionTime: metav1.NewTime(metav1.Now().UTC()),
	}

	switch {
	case st.MigrationFailed:
		condition.Status = metav1.ConditionFalse
		condition.Reason = ReasonMigrationFailed
		condition.Message = "Database migration Job failed"
	case !st.Migrated:
		condition.Status = metav1.ConditionFalse
		condition.Reason = ReasonMigrationRunning
		condition.Message = "Database migration in progress"
	}

	SetCondition(status, condition)
}

// SetDeploymentReadyCondition sets the workload availability condition.
func SetDeploymentReadyCondition(status *takahev1alpha1.TakaheServerStatus, st rolloutState) {
	condition := metav1.Condition{
		Type:               ConditionTypeDeploymentReady,
		Status:             metav1.ConditionTrue,
		Reason:             ReasonDeploymentReady,
		Message:            "Web and background workloads are available",
		LastTransitionTime: metav1.NewTime(metav1.Now().UTC()),
	}

	if st.WebAvailable < st.WebDesired || st.BackgroundAvailable < 1 {
		condition.Status = metav1.ConditionFalse
		condition.Reason = ReasonDeploymentPending
		condition.Message = fmt.Sprintf("web %d/%d available, background %d/1 available",
			st.WebAvailable, st.WebDesired, st.BackgroundAvailable)
	}

	SetCondition(status, condition)
}

// SetCondition sets a condition in the status.
func SetCondition(status *takahev1alpha1.TakaheServerStatus, condition metav1.Condition) {
	if status.Conditions == nil {
		status.Conditions = make([]metav1.Condition, 0)
	}

	for i := range status.Conditions {
		if status.Conditions[i].Type == condition.Type {
			status.Conditions[i] = condition
			return
		}
	}

	status.Conditions = append(status.Conditions, condition)
}

// GetCondition returns a condition by type.
func GetCondition(status *takahev1alpha1.TakaheServerStatus, conditionType string) *metav1.Condition {
	if status == nil || status.Conditions == nil {
		return nil
	}
	for i := range status.Conditions {
		if status.Conditions[i].Type == conditionType {
			return &status.Conditions[i]
		}
	}
	return nil
}

// IsConditionTrue returns true if the condition is true.
func IsConditionTrue(status *takahev1alpha1.TakaheServerStatus, conditionType string) bool {
	condition := GetCondition(status, conditionType)
	return condition != nil && condition.Status == metav1.ConditionTrue
}
