package http

import (
	"net/http"

	"github.com/driftwoodlabs/pds/internal/common/constants"
	"github.com/driftwoodlabs/pds/internal/common/httpmetrics"
	"github.com/driftwoodlabs/pds/internal/common/logger"
)

// BuildBaseHandler wraps a service mux with the shared middleware chain:
// metrics innermost, then request size limit, trace ids, panic recovery.
func BuildBaseHandler(log *logger.Logger, handler http.Handler) http.Handler {
	metrics := httpmetrics.New()
	recovery := RecoveryMiddleware(log)
	maxRequestSize := MaxRequestSizeMiddleware(constants.DefaultMaxRequestSize)

	return recovery(TraceIDMiddleware(maxRequestSize(metrics.Wrap(handler))))
}
