// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package extension

import (
	"github.com/samber/oops"
)

// Error codes attached to oops errors produced by this package.
const (
	// CodeDescriptorInvalid marks a candidate whose manifest or code location is unusable.
	CodeDescriptorInvalid = "EXTENSION_DESCRIPTOR_INVALID"
	// CodeDuplicateID marks candidates that share an id within one discovery pass.
	CodeDuplicateID = "EXTENSION_DUPLICATE_ID"
	// CodeDiscoveryUnreadable marks a discovery source that could not be read at all.
	CodeDiscoveryUnreadable = "EXTENSION_DISCOVERY_UNREADABLE"
	// CodeUnsatisfiedDependency marks an extension whose hard dependencies never became enabled.
	CodeUnsatisfiedDependency = "EXTENSION_UNSATISFIED_DEPENDENCY"
	// CodeActivationFailed marks an extension whose instantiation or primary hook failed.
	CodeActivationFailed = "EXTENSION_ACTIVATION_FAILED"
	// CodePostActivateFailed marks a failed secondary hook. The extension stays enabled.
	CodePostActivateFailed = "EXTENSION_POST_ACTIVATE_FAILED"
	// CodeIntegrationFailed marks a linkage call into an enabled extension that went wrong.
	CodeIntegrationFailed = "EXTENSION_INTEGRATION_FAILED"
	// CodeAlreadyActivated is returned when ActivateAll runs twice on one host.
	CodeAlreadyActivated = "EXTENSION_HOST_ALREADY_ACTIVATED"
)

// IsCode reports whether err is an oops error carrying code.
func IsCode(err error, code string) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == code
}

func descriptorError(source string) oops.OopsErrorBuilder {
	return oops.In("extension").Code(CodeDescriptorInvalid).With("source", source)
}

func integrationError(target, operation string) oops.OopsErrorBuilder {
	return oops.In("extension").
		Code(CodeIntegrationFailed).
		With("target", target).
		With("operation", operation)
}
