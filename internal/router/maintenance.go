package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// maintenanceResult reports what one maintenance scan found, mirroring the
// shape the teacher's MaintenanceHandler.Scan returns.
type maintenanceResult struct {
	Scanned int      `json:"scanned"`
	Pruned  int      `json:"pruned"`
	Errors  []string `json:"errors,omitempty"`
}

// maintenanceScan implements the supplemented "maintenance scan" feature
// (SPEC_FULL.md): walks every persisted mapping, verifies the file still
// parses as valid audio via the tagger's read path (no ffprobe shell-out,
// per spec's "does not transcode" / no-external-process framing), and
// prunes any mapping whose file is missing or unreadable. Grounded on the
// teacher's MaintenanceScan (filepath.Walk + ffprobe integrity check,
// re-index into redis); this scan instead checks against the already-
// persisted C2 mapping set and the tagger's own taglib read path.
func (rt *Router) maintenanceScan(c *gin.Context) {
	mappings, err := rt.index.All()
	if err != nil {
		rt.sendJSONError(c, err)
		return
	}

	result := maintenanceResult{}
	for k, m := range mappings {
		result.Scanned++
		if rt.tg == nil {
			continue
		}
		if err := rt.tg.Verify(m.LocalPath); err != nil {
			result.Pruned++
			result.Errors = append(result.Errors, k+": "+err.Error())
			_ = rt.index.Forget(m.Provider, m.ExternalID)
		}
	}

	c.JSON(http.StatusOK, result)
}

func (rt *Router) sendJSONError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
