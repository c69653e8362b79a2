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

package e2e

import (
	"flag"
	"fmt"
)

// TestOptions defines the configuration for running tests.
type TestOptions struct {
	skipValidation bool
	skipCreation   bool
	skipDeletion   bool
	operatorNS     string
}

// String returns a string representation of the test options.
func (o *TestOptions) String() string {
	return fmt.Sprintf("Test Options: skipValidation=%v, skipCreation=%v, skipDeletion=%v, operatorNS=%s",
		o.skipValidation, o.skipCreation, o.skipDeletion, o.operatorNS)
}

// ParseFlags parses command line flags and returns TestOptions.
func ParseFlags() *TestOptions {
	opts := &TestOptions{}

	flag.BoolVar(&opts.skipValidation, "skip-validation", false, "Skip validation test suite")
	flag.BoolVar(&opts.skipCreation, "skip-creation", false, "Skip creation test suite")
	flag.BoolVar(&opts.skipDeletion, "skip-deletion", false, "Skip deletion test suite")
	flag.StringVar(&opts.operatorNS, "operator-ns", "takahe-operator-system", "Namespace where the operator is deployed")
	flag.Parse()

	return opts
}
