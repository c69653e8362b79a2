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

// Package relation resolves the external integrations a TakaheServer consumes.
// Each integration is read as a snapshot at the start of a reconciliation and
// passed into the desired-state computation, never read again mid-run.
package relation

import (
	"context"
	"fmt"
	"net/url"

	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	takahev1alpha1 "github.com/fediops/takahe-k8s-operator/api/v1alpha1"
)

// DatabaseRelationName identifies the PostgreSQL integration in status messages.
const DatabaseRelationName = "database"

// MissingRelationError reports that a required integration has not yet
// produced usable connection data. It is an expected waiting condition, not a
// fatal error.
type MissingRelationError struct {
	Relation string
	Reason   string
}

func (e *MissingRelationError) Error() string {
	return fmt.Sprintf("missing %s relation: %s", e.Relation, e.Reason)
}

// Database is the resolved connection data for the PostgreSQL integration.
type Database struct {
	Username string
	Password string
	Host     string
	Port     string
}

// DSN returns the PostgreSQL connection string Takahē is configured with.
// Credentials go through userinfo escaping, not query escaping.
func (d Database) DSN() string {
	host := d.Host
	if d.Port != "" {
		host = d.Host + ":" + d.Port
	}
	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(d.Username, d.Password),
		Host:     host,
		Path:     "/" + takahev1alpha1.DatabaseName,
		RawQuery: "connect_timeout=10",
	}
	return u.String()
}

// ResolveDatabase reads the credentials Secret the server is bound to and
// returns the connection data. A nil spec, an absent Secret or incomplete
// Secret data all yield a MissingRelationError.
func ResolveDatabase(ctx context.Context, c client.Client, namespace string, spec *takahev1alpha1.DatabaseSpec) (*Database, error) {
	if spec == nil || spec.SecretName == "" {
		return nil, &MissingRelationError{
			Relation: DatabaseRelationName,
			Reason:   "no database integration configured",
		}
	}

	secret := &corev1.Secret{}
	if err := c.Get(ctx, types.NamespacedName{Name: spec.SecretName, Namespace: namespace}, secret); err != nil {
		if k8serrors.IsNotFound(err) {
			return nil, &MissingRelationError{
				Relation: DatabaseRelationName,
				Reason:   fmt.Sprintf("credentials Secret %q not found", spec.SecretName),
			}
		}
		return nil, fmt.Errorf("failed to get database credentials Secret %q: %w", spec.SecretName, err)
	}

	db := &Database{
		Username: string(secret.Data[takahev1alpha1.DatabaseSecretUsernameKey]),
		Password: string(secret.Data[takahev1alpha1.DatabaseSecretPasswordKey]),
		Host:     string(secret.Data[takahev1alpha1.DatabaseSecretHostKey]),
		Port:     string(secret.Data[takahev1alpha1.DatabaseSecretPortKey]),
	}

	for key, value := range map[string]string{
		takahev1alpha1.DatabaseSecretUsernameKey: db.Username,
		takahev1alpha1.DatabaseSecretPasswordKey: db.Password,
		takahev1alpha1.DatabaseSecretHostKey:     db.Host,
	} {
		if value == "" {
			return nil, &MissingRelationError{
				Relation: DatabaseRelationName,
				Reason:   fmt.Sprintf("credentials Secret %q has no %q data yet", spec.SecretName, key),
			}
		}
	}

	return db, nil
}
