package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, carried by the context through a request or a training task.
const (
	FieldRequestID    = "request_id"
	FieldTaskID       = "task_id"
	FieldMode         = "mode" // parse, chunk, indexEnhance
	FieldTeamID       = "team_id"
	FieldDatasetID    = "dataset_id"
	FieldCollectionID = "collection_id"
	FieldBillID       = "bill_id"
	FieldComponent    = "component"
)

// Measurement fields, set per line through Entry or WithFields.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldOutcome    = "outcome"
	FieldRetryCount = "retry_count"
	FieldLeaseMs    = "lease_ms"
	FieldHTTPStatus = "http_status"
	FieldBytes      = "bytes"
)
