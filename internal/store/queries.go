package store

// Run-status queries
const (
	queryEnsureSource = `
		INSERT INTO run_status (source)
		VALUES (?)
		ON CONFLICT (source) DO NOTHING`

	queryRecordSuccess = `
		INSERT INTO run_status (source, last_successful_send, last_job_id, last_error, updated_at)
		VALUES (?, now(), ?, '', now())
		ON CONFLICT (source) DO UPDATE SET
			last_successful_send = now(),
			last_job_id = EXCLUDED.last_job_id,
			last_error = '',
			updated_at = now()`

	queryRecordFailure = `
		INSERT INTO run_status (source, last_error, updated_at)
		VALUES (?, ?, now())
		ON CONFLICT (source) DO UPDATE SET
			last_error = EXCLUDED.last_error,
			updated_at = now()`

	queryGetStatus = `
		SELECT source, last_successful_send, last_job_id, last_error, updated_at
		FROM run_status WHERE source = ?`

	queryListStatus = `
		SELECT source, last_successful_send, last_job_id, last_error, updated_at
		FROM run_status ORDER BY source`
)
