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

// Condition types.
const (
	// ConditionTypeValidationSucceeded indicates the spec passed validation.
	ConditionTypeValidationSucceeded = "ValidationSucceeded"

	// ConditionTypeDatabaseReady indicates the database integration produced
	// usable connection data.
	ConditionTypeDatabaseReady = "DatabaseReady"

	// ConditionTypeSecretKeyReady indicates the server secret key exists.
	ConditionTypeSecretKeyReady = "SecretKeyReady"

	// ConditionTypeMigrationComplete indicates the database schema matches the
	// deployed image.
	ConditionTypeMigrationComplete = "MigrationComplete"

	// ConditionTypeDeploymentReady indicates both workloads are available.
	ConditionTypeDeploymentReady = "DeploymentReady"
)

// Condition reasons.
const (
	// ReasonValidationSucceeded indicates validation passed.
	ReasonValidationSucceeded = "ValidationSucceeded"
	// ReasonValidationFailed indicates validation failed.
	ReasonValidationFailed = "ValidationFailed"

	// ReasonDatabaseReady indicates the database integration is usable.
	ReasonDatabaseReady = "DatabaseReady"
	// ReasonDatabaseMissing indicates the database integration is absent or
	// has not produced connection data yet.
	ReasonDatabaseMissing = "DatabaseMissing"

	// ReasonSecretKeyReady indicates the server secret key exists.
	ReasonSecretKeyReady = "SecretKeyReady"
	// ReasonSecretKeyPending indicates the server secret key is being created.
	ReasonSecretKeyPending = "SecretKeyPending"

	// ReasonMigrationComplete indicates the schema migration finished.
	ReasonMigrationComplete = "MigrationComplete"
	// ReasonMigrationRunning indicates the schema migration Job is running.
	ReasonMigrationRunning = "MigrationRunning"
	// ReasonMigrationFailed indicates the schema migration Job failed.
	ReasonMigrationFailed = "MigrationFailed"

	// ReasonDeploymentReady indicates both workloads are available.
	ReasonDeploymentReady = "DeploymentReady"
	// ReasonDeploymentPending indicates a workload is still rolling out.
	ReasonDeploymentPending = "DeploymentPending"
)
