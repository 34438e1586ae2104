package cache

import (
	"strings"

	"github.com/storefront/storefront/pkg/recovery"
)

// Classify maps Redis errors to recovery classes. Timeouts are left to the
// default classifier.
func Classify(err error) recovery.ErrorClass {
	if err == nil {
		return recovery.ClassUnknown
	}
	if isAuthError(err) {
		return recovery.ClassAuth
	}
	msg := err.Error()
	for _, marker := range []string{"CLUSTERDOWN", "MASTERDOWN", "LOADING", "READONLY"} {
		if strings.Contains(msg, marker) {
			return recovery.ClassTopology
		}
	}
	return recovery.ClassUnknown
}
