package checkoutdb

var (
	sessionTable = `CREATE TABLE IF NOT EXISTS session (
		id VARCHAR(64) PRIMARY KEY NOT NULL,
		quoteId VARCHAR(128) NOT NULL,
		invoice TEXT NOT NULL,
		amount BIGINT NOT NULL,
		buyerPubkey CHAR(64) NOT NULL,
		status VARCHAR(16) NOT NULL,
		changeToken TEXT NOT NULL DEFAULT '',
		warning TEXT NOT NULL DEFAULT '',
		createdAt TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updatedAt TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT chk_amount CHECK (amount > 0),
		CONSTRAINT chk_status CHECK (status IN ('pending', 'paid', 'settled', 'cancelled', 'timeout', 'failed'))
	);
	CREATE INDEX IF NOT EXISTS idx_session_quote ON session (quoteId);`

	queryInsertSession = `INSERT INTO session (
		id, quoteId, invoice, amount, buyerPubkey, status) VALUES (?, ?, ?, ?, ?, ?);`
	queryUpdateSessionStatus = `UPDATE session SET status = ?, warning = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?;`
	querySetChangeToken      = `UPDATE session SET changeToken = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?;`
	queryGetSession          = `SELECT id, quoteId, invoice, amount, buyerPubkey, status, changeToken, warning, createdAt, updatedAt
		FROM session WHERE id = ?;`

	orderTable = `CREATE TABLE IF NOT EXISTS orders (
		orderId VARCHAR(64) PRIMARY KEY NOT NULL,
		sessionId VARCHAR(64) NOT NULL,
		sellerPubkey CHAR(64) NOT NULL,
		totalAmount BIGINT NOT NULL,
		donationAmount BIGINT NOT NULL,
		sellerAmount BIGINT NOT NULL,
		channel VARCHAR(32) NOT NULL,
		reference TEXT NOT NULL,
		unmelted BOOLEAN NOT NULL DEFAULT FALSE,
		warnings TEXT NOT NULL DEFAULT '',
		createdAt TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT chk_shares CHECK (donationAmount + sellerAmount = totalAmount)
	);
	CREATE INDEX IF NOT EXISTS idx_orders_session ON orders (sessionId);`

	queryInsertOrder = `INSERT INTO orders (
		orderId, sessionId, sellerPubkey, totalAmount, donationAmount, sellerAmount, channel, reference, unmelted, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	queryOrderColumns       = `SELECT orderId, sessionId, sellerPubkey, totalAmount, donationAmount, sellerAmount, channel, reference, unmelted, warnings, createdAt FROM orders`
	queryGetOrder           = queryOrderColumns + ` WHERE orderId = ?;`
	queryGetOrdersBySession = queryOrderColumns + ` WHERE sessionId = ? ORDER BY rowid ASC;`

	proofTable = `CREATE TABLE IF NOT EXISTS proof_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sessionId VARCHAR(64) NOT NULL,
		orderId VARCHAR(64) NOT NULL DEFAULT '',
		kind VARCHAR(16) NOT NULL,
		amount BIGINT NOT NULL,
		token TEXT NOT NULL,
		createdAt TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT chk_kind CHECK (kind IN ('seller', 'unmelted', 'fee_change', 'donation', 'change')),
		CONSTRAINT chk_amount CHECK (amount > 0)
	);
	CREATE INDEX IF NOT EXISTS idx_proof_session ON proof_history (sessionId);`

	queryInsertProof = `INSERT INTO proof_history (sessionId, orderId, kind, amount, token) VALUES (?, ?, ?, ?, ?);`
	queryGetProofs   = `SELECT id, sessionId, orderId, kind, amount, token, createdAt
		FROM proof_history WHERE sessionId = ? ORDER BY id ASC;`

	// stateRank mirrors QuoteState ordering so the upsert below never moves
	// a quote backwards.
	quoteTable = `CREATE TABLE IF NOT EXISTS quote (
		id VARCHAR(128) PRIMARY KEY NOT NULL,
		request TEXT NOT NULL,
		amount BIGINT NOT NULL,
		state VARCHAR(8) NOT NULL,
		stateRank INT NOT NULL,
		updatedAt TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT chk_state CHECK (state IN ('UNPAID', 'PAID', 'ISSUED'))
	);`

	queryUpsertQuote = `INSERT INTO quote (id, request, amount, state, stateRank) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET state = excluded.state, stateRank = excluded.stateRank, updatedAt = CURRENT_TIMESTAMP
		WHERE excluded.stateRank > quote.stateRank;`
	queryGetQuote = `SELECT id, request, amount, state, updatedAt FROM quote WHERE id = ?;`

	notificationTable = `CREATE TABLE IF NOT EXISTS notification (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		orderId VARCHAR(64) NOT NULL,
		subject VARCHAR(32) NOT NULL,
		recipient CHAR(64) NOT NULL,
		eventId CHAR(64) NOT NULL DEFAULT '',
		attempts INT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		createdAt TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_notification_order ON notification (orderId);`

	queryInsertNotification = `INSERT INTO notification (orderId, subject, recipient, eventId, attempts, error) VALUES (?, ?, ?, ?, ?, ?);`
	queryGetNotifications    = `SELECT orderId, subject, recipient, eventId, attempts, error, createdAt
		FROM notification WHERE orderId = ? ORDER BY id ASC;`
)
