package models

import "time"

// VerificationType identifies one kind of automated post-execution check.
type VerificationType string

// Supported verification types.
const (
	VerifyOutputValidation   VerificationType = "OUTPUT_VALIDATION"
	VerifyStateConsistency   VerificationType = "STATE_CONSISTENCY"
	VerifySideEffects        VerificationType = "SIDE_EFFECT_SCAN"
	VerifySafetyCompliance   VerificationType = "SAFETY_COMPLIANCE"
	VerifySecurityScan       VerificationType = "SECURITY_SCAN"
	VerifySecurityCompliance VerificationType = "SECURITY_COMPLIANCE"
	VerifyPerformance        VerificationType = "PERFORMANCE_CHECK"
	VerifyIntegrationHealth  VerificationType = "INTEGRATION_HEALTH"
	VerifyDataIntegrity      VerificationType = "DATA_INTEGRITY"
	VerifyRollbackReadiness  VerificationType = "ROLLBACK_READINESS"
)

// securitySensitiveChecks are the check types whose failure alone makes the
// outcome unsafe to build on.
var securitySensitiveChecks = map[VerificationType]bool{
	VerifySecurityScan:       true,
	VerifySafetyCompliance:   true,
	VerifySecurityCompliance: true,
}

// SecuritySensitive reports whether a failure of this check type forces
// safe_to_proceed=false and human review.
func (t VerificationType) SecuritySensitive() bool {
	return securitySensitiveChecks[t]
}

// CheckStatus is the outcome of a single verification check.
type CheckStatus string

// Check statuses. ERROR means the checker itself failed or timed out; it
// counts as a failed check but never aborts sibling checks.
const (
	CheckPassed CheckStatus = "PASSED"
	CheckFailed CheckStatus = "FAILED"
	CheckError  CheckStatus = "ERROR"
)

// Severity grades how serious a failed check is.
type Severity string

// Severities.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// VerificationCheck is the result of one automated check against one
// execution result.
type VerificationCheck struct {
	Type            VerificationType
	Status          CheckStatus
	Severity        Severity
	Passed          bool
	Score           *float64 // Optional checker-reported score, [0,1]
	Issues          []string // Problems the check found
	AutoCorrectable bool     // Whether a corrector can fix the issues
	Details         map[string]interface{}
	Duration        time.Duration
}

// VerificationVerdict is the aggregate pass/fail/needs-review outcome.
type VerificationVerdict string

// Verdicts.
const (
	VerdictPassed  VerificationVerdict = "PASSED"
	VerdictWarning VerificationVerdict = "WARNING"
	VerdictFailed  VerificationVerdict = "FAILED"
)

// VerificationResult aggregates all checks run against one ExecutionResult.
type VerificationResult struct {
	ResultID             string              // ExecutionResult this verdict belongs to
	ActionType           ActionType          // Action type that was verified
	Checks               []VerificationCheck // Individual check outcomes
	OverallScore         float64             // passed / total
	Verdict              VerificationVerdict
	VerificationPassed   bool     // Verdict == PASSED
	SafeToProceed        bool     // Whether downstream work may build on the result
	RequiresHumanReview  bool     // Whether a human must look at the outcome
	CriticalIssues       []string // Issues from failed critical-severity checks
	CorrectableIssues    []string // Issues from failed auto-correctable checks
	CorrectionAttempted  bool     // An auto-correction pass ran
	CorrectionSuccessful bool     // Every attempted correction succeeded
	VerifiedAt           time.Time
}

// FailedChecks counts checks that did not pass.
func (v *VerificationResult) FailedChecks() int {
	n := 0
	for _, c := range v.Checks {
		if !c.Passed {
			n++
		}
	}
	return n
}
