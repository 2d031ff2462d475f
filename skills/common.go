package skills

import (
	"github.com/campaignforge/engine/internal/artifact"
	"github.com/campaignforge/engine/internal/execctx"
)

// artifactRequest builds the PutRequest shared fields every handler in this
// package supplies when persisting its output bytes.
func artifactRequest(ec *execctx.Context, typ, contentType, filename string) artifact.PutRequest {
	return artifact.PutRequest{
		TenantID:      ec.TenantID,
		RunID:         ec.RunID,
		CreatorStepID: ec.StepID,
		Type:          typ,
		ContentType:   contentType,
		Filename:      filename,
	}
}
