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

package desired

import (
	"fmt"
	"regexp"
	"strings"

	takahev1alpha1 "github.com/fediops/takahe-k8s-operator/api/v1alpha1"
)

// ValidationError reports invalid configuration with the offending field.
// It is surfaced as the Blocked phase; the user must fix the spec.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// validMediaBackendPrefixes are the storage schemes Takahē supports.
var validMediaBackendPrefixes = []string{"local://", "s3://", "gcs://"}

// domainPattern is a conservative DNS name check: dot-separated labels of
// lowercase letters, digits and inner hyphens.
var domainPattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)

// secretNamePattern validates secret key names: lowercase letters, digits and
// hyphens, starting with a letter and not ending with a hyphen.
var secretNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$`)

// minSecretNameLength is the shortest accepted secret key name.
const minSecretNameLength = 3

// ValidateSpec checks the TakaheServer spec against documented constraints.
// It returns a ValidationError naming the offending field on the first
// violation found.
func ValidateSpec(spec *takahev1alpha1.TakaheServerSpec) error {
	if err := validateDomain(spec.Domain); err != nil {
		return err
	}

	if err := validateMediaBackend(spec.MediaBackend); err != nil {
		return err
	}

	if spec.SecretKey != nil {
		if err := ValidateSecretName(spec.SecretKey.Name); err != nil {
			return err
		}
		if err := validateSecretDataKey(spec.SecretKey.Key); err != nil {
			return err
		}
	}

	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return &ValidationError{Field: "domain", Message: "is required"}
	}
	// The packaged default is a placeholder, never a real instance domain.
	if domain == "example.com" {
		return &ValidationError{Field: "domain", Message: "example.com is not a valid main domain"}
	}
	if !domainPattern.MatchString(domain) {
		return &ValidationError{
			Field:   "domain",
			Message: fmt.Sprintf("%q is not a valid DNS name", domain),
		}
	}
	return nil
}

func validateMediaBackend(backend string) error {
	if backend == "" {
		// Defaulted by the CRD; an empty value only appears on objects created
		// without going through the API server.
		return nil
	}
	for _, prefix := range validMediaBackendPrefixes {
		if strings.HasPrefix(backend, prefix) {
			return nil
		}
	}
	return &ValidationError{
		Field:   "mediaBackend",
		Message: fmt.Sprintf("must start with one of %v, got %q", validMediaBackendPrefixes, backend),
	}
}

// ValidateSecretName checks the name of a secret key reference: lowercase
// letters, digits and hyphens only, at least three characters, starting with a
// letter and not starting or ending with a hyphen.
func ValidateSecretName(name string) error {
	if len(name) < minSecretNameLength {
		return &ValidationError{
			Field:   "secretKey.name",
			Message: fmt.Sprintf("must be at least %d characters, got %d", minSecretNameLength, len(name)),
		}
	}
	if !secretNamePattern.MatchString(name) {
		return &ValidationError{
			Field:   "secretKey.name",
			Message: fmt.Sprintf("%q must consist of lowercase letters, digits and hyphens, start with a letter and not end with a hyphen", name),
		}
	}
	return nil
}

func validateSecretDataKey(key string) error {
	if key == "" {
		return &ValidationError{Field: "secretKey.key", Message: "is required"}
	}
	return nil
}
