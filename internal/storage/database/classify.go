package database

import (
	stderrors "errors"
	"strings"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/storefront/storefront/pkg/recovery"
)

// Server error codes reported for bad credentials.
const (
	codeUnauthorized         = 13
	codeAuthenticationFailed = 18
)

// Classify maps MongoDB driver errors to recovery classes. Server selection
// failures are checked before timeouts since the driver reports them as both.
func Classify(err error) recovery.ErrorClass {
	if err == nil {
		return recovery.ClassUnknown
	}

	msg := strings.ToLower(err.Error())

	var serverErr mongo.ServerError
	if stderrors.As(err, &serverErr) &&
		(serverErr.HasErrorCode(codeAuthenticationFailed) || serverErr.HasErrorCode(codeUnauthorized)) {
		return recovery.ClassAuth
	}
	if strings.Contains(msg, "authentication failed") || strings.Contains(msg, "auth error") {
		return recovery.ClassAuth
	}
	if strings.Contains(msg, "server selection") {
		return recovery.ClassTopology
	}
	if mongo.IsTimeout(err) {
		return recovery.ClassTimeout
	}
	return recovery.ClassUnknown
}
