package models

import "time"

// Provider is the vendor behind a family of models. It owns the rate-limit
// budget shared by all of its models.
type Provider struct {
	Name                string     `db:"name"`
	MaxParallelRequests int        `db:"max_parallel_requests"`
	RequestsPerMinute   int        `db:"requests_per_minute"`
	Enabled             bool       `db:"enabled"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           *time.Time `db:"updated_at"`
}

// Model is one invocable model, owned by a provider. APIName is the
// versioned identifier sent to the producer.
type Model struct {
	ID                string     `db:"model_id"`
	Provider          string     `db:"provider"`
	APIName           string     `db:"api_name"`
	CostPerMTokensUSD float64    `db:"cost_per_mtokens_usd"`
	Enabled           bool       `db:"enabled"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         *time.Time `db:"updated_at"`
}
