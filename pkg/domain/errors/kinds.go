package errors

// Kind identifies the layer of the execution core a failure originated from.
type Kind string

const (
	KindUtil     Kind = "Util"     // Template expansion, filter or utility failure
	KindResult   Kind = "Result"   // Result tree construction failure
	KindStage    Kind = "Stage"    // Stage execution failure
	KindJob      Kind = "Job"      // Dependency resolution or strategy aggregation failure
	KindWorkflow Kind = "Workflow" // Timeout, cycle, configuration or aggregate failure
	KindParam    Kind = "Param"    // Input validation or coercion failure
	KindSchedule Kind = "Schedule" // Cron parsing or timezone failure
)

// Code represents an error code.
type Code string

const (
	CodeUnknown          Code = "UNKNOWN"           // Unknown error occurred
	CodeInternal         Code = "INTERNAL"          // Internal system error
	CodeValidationFailed Code = "VALIDATION_FAILED" // Input validation failed
	CodeInvalidParameter Code = "INVALID_PARAMETER" // Invalid parameter provided
	CodeMissingParameter Code = "MISSING_PARAMETER" // Required parameter missing
	CodeInvalidType      Code = "INVALID_TYPE"      // Type coercion or filter argument mismatch
	CodeInvalidSyntax    Code = "INVALID_SYNTAX"    // Template or expression syntax error
	CodeNotFound         Code = "NOT_FOUND"         // Path, callable or workflow not found
	CodeInvalidState     Code = "INVALID_STATE"     // Invalid execution state
	CodeCycle            Code = "CYCLE"             // Workflow DAG contains a cycle
	CodeTimeout          Code = "TIMEOUT"           // Execution timed out
	CodeCancel           Code = "CANCEL"            // Execution cancelled by external request
	CodeMaxLoop          Code = "MAX_LOOP"          // Until loop exceeded its bound
	CodeNoMatch          Code = "NO_MATCH"          // Case stage matched no branch
	CodeStageFailed      Code = "STAGE_FAILED"      // Stage execution failed
	CodeJobFailed        Code = "JOB_FAILED"        // Job execution failed
	CodeWorkflowFailed   Code = "WORKFLOW_FAILED"   // Workflow execution failed
	CodeScriptBlocked    Code = "SCRIPT_BLOCKED"    // Script used a blocked primitive or dependency
	CodeNotImplemented   Code = "NOT_IMPLEMENTED"   // Reserved stage variant or runner kind
	CodeScheduleInvalid  Code = "SCHEDULE_INVALID"  // Cron string or timezone invalid
)

// Sentinels for errors.Is matching on (kind, code) pairs.
var (
	ErrTimeout  = &Error{Kind: KindWorkflow, Code: CodeTimeout}
	ErrCancel   = &Error{Kind: KindWorkflow, Code: CodeCancel}
	ErrCycle    = &Error{Kind: KindWorkflow, Code: CodeCycle}
	ErrNotFound = &Error{Code: CodeNotFound}
	ErrMaxLoop  = &Error{Kind: KindStage, Code: CodeMaxLoop}
)
