package sqlstore

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	price          INTEGER NOT NULL CHECK (price >= 0),
	stock_quantity INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
	active         INTEGER NOT NULL DEFAULT 1,
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS product_variants (
	id             TEXT PRIMARY KEY,
	product_id     TEXT NOT NULL REFERENCES products(id),
	name           TEXT NOT NULL,
	price_modifier INTEGER NOT NULL DEFAULT 0,
	stock_quantity INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0)
);

CREATE TABLE IF NOT EXISTS cart_items (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	product_id TEXT NOT NULL REFERENCES products(id),
	variant_id TEXT NOT NULL DEFAULT '',
	quantity   INTEGER NOT NULL CHECK (quantity > 0),
	created_at TEXT NOT NULL,
	UNIQUE (user_id, product_id, variant_id)
);

CREATE TABLE IF NOT EXISTS coupons (
	code             TEXT PRIMARY KEY,
	discount_type    TEXT NOT NULL CHECK (discount_type IN ('percentage', 'fixed')),
	discount_value   INTEGER NOT NULL CHECK (discount_value >= 0),
	maximum_discount INTEGER NOT NULL DEFAULT 0,
	minimum_amount   INTEGER NOT NULL DEFAULT 0,
	valid_from       TEXT NOT NULL,
	valid_until      TEXT,
	usage_limit      INTEGER NOT NULL DEFAULT 0,
	used_count       INTEGER NOT NULL DEFAULT 0,
	active           INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS orders (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	status            TEXT NOT NULL,
	subtotal          INTEGER NOT NULL,
	tax               INTEGER NOT NULL,
	shipping          INTEGER NOT NULL,
	discount          INTEGER NOT NULL,
	total             INTEGER NOT NULL,
	currency          TEXT NOT NULL,
	shipping_address  TEXT NOT NULL,
	payment_method    TEXT NOT NULL,
	coupon_code       TEXT NOT NULL DEFAULT '',
	notes             TEXT NOT NULL DEFAULT '',
	tracking_number   TEXT NOT NULL DEFAULT '',
	carrier           TEXT NOT NULL DEFAULT '',
	failure_reason    TEXT NOT NULL DEFAULT '',
	lock_version      INTEGER NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	confirmed_at      TEXT,
	processing_at     TEXT,
	shipped_at        TEXT,
	delivered_at      TEXT,
	cancelled_at      TEXT,
	payment_failed_at TEXT,
	refunded_at       TEXT,
	CHECK (total = subtotal + tax + shipping - discount)
);
CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id, created_at);

CREATE TABLE IF NOT EXISTS order_items (
	id                TEXT PRIMARY KEY,
	order_id          TEXT NOT NULL REFERENCES orders(id),
	position          INTEGER NOT NULL,
	product_id        TEXT NOT NULL,
	variant_id        TEXT NOT NULL DEFAULT '',
	product_name      TEXT NOT NULL,
	quantity          INTEGER NOT NULL CHECK (quantity > 0),
	unit_price        INTEGER NOT NULL,
	variant_surcharge INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items (order_id, position);

CREATE TABLE IF NOT EXISTS payments (
	id             TEXT PRIMARY KEY,
	order_id       TEXT NOT NULL REFERENCES orders(id),
	user_id        TEXT NOT NULL,
	provider       TEXT NOT NULL,
	external_id    TEXT NOT NULL,
	amount         INTEGER NOT NULL,
	currency       TEXT NOT NULL,
	status         TEXT NOT NULL,
	reference      TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	metadata       TEXT NOT NULL DEFAULT '{}',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	completed_at   TEXT,
	UNIQUE (provider, external_id)
);
CREATE INDEX IF NOT EXISTS idx_payments_user ON payments (user_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_one_settled_per_order
	ON payments (order_id) WHERE status IN ('completed', 'partially_refunded', 'refunded');

CREATE TABLE IF NOT EXISTS refunds (
	id                 TEXT PRIMARY KEY,
	payment_id         TEXT NOT NULL REFERENCES payments(id),
	order_id           TEXT NOT NULL REFERENCES orders(id),
	amount             INTEGER NOT NULL CHECK (amount > 0),
	reason             TEXT NOT NULL DEFAULT '',
	processed_by       TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	provider_reference TEXT NOT NULL DEFAULT '',
	failure_reason     TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_refunds_payment ON refunds (payment_id);

CREATE TABLE IF NOT EXISTS webhook_events (
	provider    TEXT NOT NULL,
	event_id    TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	kind        TEXT NOT NULL,
	external_id TEXT NOT NULL DEFAULT '',
	received_at TEXT NOT NULL,
	PRIMARY KEY (provider, event_id)
);
`
