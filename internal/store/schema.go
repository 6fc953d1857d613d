package store

const schema = `
CREATE TABLE IF NOT EXISTS cycle_state (
	id                     INTEGER PRIMARY KEY CHECK (id = 1),
	cycle_id               TEXT NOT NULL,
	status                 TEXT NOT NULL,
	capital_available_usdt TEXT NOT NULL,
	btc_accumulated        TEXT NOT NULL,
	purchases_remaining    INTEGER NOT NULL,
	reference_price        TEXT NOT NULL,
	cost_accum_usdt        TEXT NOT NULL,
	btc_accum_net          TEXT NOT NULL,
	ath_price              TEXT NOT NULL,
	buy_amount_usdt        TEXT NOT NULL,
	btc_sold_this_cycle    TEXT NOT NULL DEFAULT '0',
	updated_at             INTEGER NOT NULL,
	version                INTEGER NOT NULL,
	checksum               BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS strategy_config (
	id                    INTEGER PRIMARY KEY CHECK (id = 1),
	timeframe             TEXT NOT NULL,
	drop_pct              TEXT NOT NULL,
	rise_pct              TEXT NOT NULL,
	max_purchases         INTEGER NOT NULL,
	min_buy_usdt          TEXT NOT NULL,
	initial_capital_usdt  TEXT NOT NULL,
	slippage_buy_pct      TEXT NOT NULL,
	slippage_sell_pct     TEXT NOT NULL,
	is_active             INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id          TEXT NOT NULL,
	side              TEXT NOT NULL,
	client_order_id   TEXT NOT NULL UNIQUE,
	exchange_order_id TEXT NOT NULL,
	requested_price   TEXT NOT NULL,
	requested_qty     TEXT NOT NULL,
	filled_price      TEXT NOT NULL,
	filled_qty        TEXT NOT NULL,
	fee_base          TEXT NOT NULL,
	fee_quote         TEXT NOT NULL,
	fee_other         TEXT NOT NULL,
	status            TEXT NOT NULL,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bot_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	type        TEXT NOT NULL,
	severity    TEXT NOT NULL,
	message     TEXT NOT NULL,
	metadata    TEXT NOT NULL,
	occurred_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pause_states (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id   TEXT NOT NULL,
	reason     TEXT NOT NULL,
	detail     TEXT NOT NULL,
	paused_at  INTEGER NOT NULL,
	resumed_at INTEGER
);

CREATE TABLE IF NOT EXISTS pending_intents (
	client_order_id TEXT PRIMARY KEY,
	cycle_id        TEXT NOT NULL,
	side            TEXT NOT NULL,
	price           TEXT NOT NULL,
	qty             TEXT NOT NULL,
	created_at      TEXT NOT NULL
);
`
