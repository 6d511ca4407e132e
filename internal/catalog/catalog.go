// Package catalog holds the relational entities (User, Application,
// Endpoint) and the single matching query the processor runs against
// them, using gorm.io/gorm the way the teacher's pack uses it for
// persistence (grounded on other_examples' watcher_eth.go gorm model
// chains, and on the teacher's own gorm.io/driver/postgres dependency).
package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// User owns Applications. Created by the out-of-scope admin API;
// the core only reads it transitively through the match query.
type User struct {
	ID           string `gorm:"primaryKey;type:uuid"`
	Email        string `gorm:"uniqueIndex"`
	PasswordHash string
	Tier         string
	CreatedAt    time.Time
}

// Application is owned by exactly one User; deleting it cascades to
// its Endpoints.
type Application struct {
	ID            string `gorm:"primaryKey;type:uuid"`
	UserID        string `gorm:"index"`
	Name          string
	Description   string
	APIKey        string `gorm:"uniqueIndex"`
	WebhookSecret string
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Endpoints []Endpoint `gorm:"constraint:OnDelete:CASCADE;"`
}

// Endpoint is a registered webhook destination with match filters.
// Empty ContractAddresses/EventSignatures mean "match all" per §4.G.
type Endpoint struct {
	ID                 string `gorm:"primaryKey;type:uuid"`
	ApplicationID      string `gorm:"index"`
	Name               string
	WebhookURL         string
	Description        string
	HMACSecret         string
	ChainIDs           pq.Int64Array  `gorm:"type:bigint[];index:,type:gin"`
	ContractAddresses  pq.StringArray `gorm:"type:text[];index:,type:gin"`
	EventSignatures    pq.StringArray `gorm:"type:text[];index:,type:gin"`
	IsActive           bool
	RateLimitPerSecond int
	MaxRetries         int
	TimeoutSeconds     int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Match is the flattened row the catalog query returns: exactly what
// the processor needs to build a DeliveryJob, never an object graph
// (Design Notes, "cyclic-ish graph").
type Match struct {
	EndpointID         string
	ApplicationID      string
	WebhookURL         string
	HMACSecret         string
	RateLimitPerSecond int
	MaxRetries         int
	TimeoutSeconds     int
}

// Repository wraps the gorm handle the processor and deliverer share
// for catalog reads and attempt-log writes.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// MatchEndpoints runs the SQL described in spec §4.G: active
// endpoints on an active application whose chain/address/topic
// filters admit the given event, ordered by endpoint creation so
// delivery order is stable across repeated runs.
func (r *Repository) MatchEndpoints(ctx context.Context, chainID uint64, contractAddress, topic0 string) ([]Match, error) {
	contractAddress = strings.ToLower(contractAddress)

	q := r.db.WithContext(ctx).
		Table("endpoints").
		Select(`endpoints.id as endpoint_id, endpoints.application_id, endpoints.webhook_url,
			endpoints.hmac_secret, endpoints.rate_limit_per_second, endpoints.max_retries,
			endpoints.timeout_seconds`).
		Joins("JOIN applications ON applications.id = endpoints.application_id").
		Where("endpoints.is_active = ?", true).
		Where("applications.is_active = ?", true).
		Where("? = ANY(endpoints.chain_ids)", chainID).
		Where("cardinality(endpoints.contract_addresses) = 0 OR ? = ANY(endpoints.contract_addresses)", contractAddress).
		Order("endpoints.created_at")

	if topic0 == "" {
		q = q.Where("cardinality(endpoints.event_signatures) = 0")
	} else {
		q = q.Where("cardinality(endpoints.event_signatures) = 0 OR ? = ANY(endpoints.event_signatures)", topic0)
	}

	var matches []Match
	if err := q.Scan(&matches).Error; err != nil {
		return nil, err
	}
	return matches, nil
}

// RecordAttempt appends one DeliveryAttempt row. Callers retry this
// call on failure; the deliverer's ack is predicated on it succeeding
// (spec §4.H failure semantics).
func (r *Repository) RecordAttempt(ctx context.Context, a *AttemptRow) error {
	return r.db.WithContext(ctx).Table("delivery_attempts").Create(a).Error
}

// AttemptRow is the gorm-mapped form of model.DeliveryAttempt.
type AttemptRow struct {
	ID                 string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	EventID            string `gorm:"column:event_id"`
	EndpointID         string `gorm:"column:endpoint_id"`
	AttemptNumber      int
	HTTPStatusCode     *int
	ResponseBodyPrefix string
	ErrorMessage       string
	DurationMs         int64
	Success            bool
	AttemptedAt        time.Time
}

func (AttemptRow) TableName() string { return "delivery_attempts" }
