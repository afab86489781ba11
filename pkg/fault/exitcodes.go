package fault

// Process exit codes for the verification utilities.
const (
	ExitOK                 = 0
	ExitInvalidInput       = 10
	ExitSchemaValidation   = 20
	ExitFailClosedRequired = 30
	ExitDependency         = 40
	ExitSecurityPolicy     = 50
	ExitIntegrity          = 60
)

// ExitCode maps an error chain to the process exit code contract.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindValidation:
		return ExitSchemaValidation
	case KindSafetyOverride:
		return ExitSecurityPolicy
	case KindDependencyUnavailable:
		return ExitDependency
	case KindDeterminismViolation:
		return ExitFailClosedRequired
	case KindIntegrity:
		return ExitIntegrity
	default:
		return ExitInvalidInput
	}
}
