package ledger

const (
	operationConsume       = "consume"
	operationGrant         = "grant"
	operationEnsureSession = "ensure_session"
	operationMigrate       = "migrate"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
