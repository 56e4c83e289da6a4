package worker

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/pkg/response"
)

// MaintenanceHandler exposes a manual maintenance pass.
type MaintenanceHandler struct {
	cleaner *Cleaner
	logger  *zap.Logger
}

// NewMaintenanceHandler creates the handler.
func NewMaintenanceHandler(cleaner *Cleaner, logger *zap.Logger) *MaintenanceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaintenanceHandler{cleaner: cleaner, logger: logger}
}

// Run handles POST /admin/maintenance/run. Partial failures still report what was done.
func (h *MaintenanceHandler) Run(c *gin.Context) {
	rep, err := h.cleaner.RunOnce(c.Request.Context())
	if err != nil {
		errs := multierr.Errors(err)
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		h.logger.Warn("maintenance run had failures", zap.Strings("errors", msgs))
		response.OK(c, gin.H{"report": rep, "errors": msgs})
		return
	}
	response.OK(c, gin.H{"report": rep})
}
