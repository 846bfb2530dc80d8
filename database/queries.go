package database

// SQL statements for the pipeline stores.

const (
	insertSnapshot = `
		INSERT INTO snapshots (snapshot_id, scan_time, summary, body)
		VALUES ($1, $2, $3, $4)`

	selectLatestSnapshot = `
		SELECT body
		FROM snapshots
		ORDER BY scan_time DESC
		LIMIT 1`

	selectSnapshotHistory = `
		SELECT snapshot_id, scan_time, summary
		FROM snapshots
		ORDER BY scan_time DESC
		LIMIT $1`

	insertNotification = `
		INSERT INTO notifications (notification_id, notification_type, priority, status, created_at, expires_at, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	selectNotification = `
		SELECT body FROM notifications WHERE notification_id = $1`

	selectHistoryNotification = `
		SELECT body FROM notification_history WHERE notification_id = $1`

	selectActiveNotifications = `
		SELECT body
		FROM notifications
		WHERE ($1 = '' OR priority = $1)
		  AND ($2 = '' OR notification_type = $2)
		ORDER BY created_at DESC`

	updateNotification = `
		UPDATE notifications
		SET status = $2, expires_at = $3, body = $4
		WHERE notification_id = $1`

	insertHistoryNotification = `
		INSERT INTO notification_history (notification_id, notification_type, status, completed_at, body)
		VALUES ($1, $2, $3, $4, $5)`

	deleteActiveNotification = `
		DELETE FROM notifications WHERE notification_id = $1`

	selectNotificationHistory = `
		SELECT body
		FROM notification_history
		ORDER BY completed_at DESC
		LIMIT $1`

	purgeNotificationHistory = `
		DELETE FROM notification_history WHERE completed_at < $1`

	insertCorrelation = `
		INSERT INTO correlations (correlation_id, target_identity_id, server_name, created_at, body)
		VALUES ($1, $2, $3, $4, $5)`

	selectCorrelationsForIdentity = `
		SELECT body
		FROM correlations
		WHERE target_identity_id = $1
		ORDER BY created_at DESC`
)
