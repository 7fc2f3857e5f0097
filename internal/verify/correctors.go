package verify

import (
	"context"
	"strings"

	"github.com/harrison/autopilot/internal/models"
)

// Corrector tries to fix the issues one failed auto-correctable check found.
// Corrections are recorded on the verification result but the checks are not
// re-run afterwards; the corrected state is picked up by the next loop that
// touches the same target.
type Corrector func(ctx context.Context, check models.VerificationCheck, result *models.ExecutionResult) error

func builtinCorrectors() map[models.VerificationType]Corrector {
	return map[models.VerificationType]Corrector{
		models.VerifySecurityScan: redactCredentials,
	}
}

// redactCredentials overwrites output fields the security scan flagged.
func redactCredentials(_ context.Context, _ models.VerificationCheck, result *models.ExecutionResult) error {
	for key := range result.ResultData {
		lower := strings.ToLower(key)
		for _, marker := range credentialMarkers {
			if strings.Contains(lower, marker) {
				result.ResultData[key] = "[redacted]"
				break
			}
		}
	}
	return nil
}
