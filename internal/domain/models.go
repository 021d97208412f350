package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductCategory classifies what kind of product a canonical record is.
type ProductCategory string

const (
	CategoryDrug          ProductCategory = "drug"
	CategoryCosmetic      ProductCategory = "cosmetic"
	CategoryMedicalDevice ProductCategory = "medical_device"
	CategoryHealthProduct ProductCategory = "health_product"
)

// OutlierFlag marks a price observation the statistical pass considers suspect.
type OutlierFlag string

const (
	OutlierNone        OutlierFlag = "none"
	OutlierHigh        OutlierFlag = "high"
	OutlierLow         OutlierFlag = "low"
	OutlierPlaceholder OutlierFlag = "placeholder"
)

// CanonicalProduct is one deduplicated product identity. FullKey is unique
// per row; SimpleKey is shared by rows for the same product under different
// manufacturers.
type CanonicalProduct struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	GenericName    string          `json:"generic_name"`
	BrandName      string          `json:"brand_name,omitempty"`
	Specification  string          `json:"specification"`
	Manufacturer   string          `json:"manufacturer"`
	Category       ProductCategory `json:"category"`
	RegulatoryCode string          `json:"regulatory_code,omitempty"`
	FullKey        string          `json:"full_key"`
	SimpleKey      string          `json:"simple_key"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// PriceObservation is one immutable price reading for a canonical product.
// Rows are append-only; only the outlier fields are ever updated.
type PriceObservation struct {
	ID            int64           `json:"id"`
	ProductID     int64           `json:"product_id"`
	Price         decimal.Decimal `json:"price"`
	SourceName    string          `json:"source_name"`
	SourceRef     string          `json:"source_ref,omitempty"`
	ObservedAt    time.Time       `json:"observed_at"`
	OutlierFlag   OutlierFlag     `json:"outlier_flag"`
	OutlierReason string          `json:"outlier_reason,omitempty"`
}

// TaskStatus is the acquisition task state machine.
//
//	PENDING -> RUNNING -> {COMPLETED, FAILED, CANCELLED}
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed out of s,
// other than a retry restart from a non-RUNNING state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// AcquisitionTask is one orchestration run over an ordered batch of keywords.
type AcquisitionTask struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	Keywords          []string   `json:"keywords"`
	Status            TaskStatus `json:"status"`
	TotalKeywords     int        `json:"total_keywords"`
	CompletedKeywords int        `json:"completed_keywords"`
	TotalFound        int        `json:"total_found"`
	Error             string     `json:"error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// Progress returns completion as a percentage for status displays.
func (t *AcquisitionTask) Progress() float64 {
	if t.TotalKeywords == 0 {
		return 0
	}
	return float64(t.CompletedKeywords) / float64(t.TotalKeywords) * 100
}

// WatchListEntry is a keyword under continuous monitoring. Removal
// deactivates rather than deletes.
type WatchListEntry struct {
	ID            int64      `json:"id"`
	Keyword       string     `json:"keyword"`
	Category      string     `json:"category,omitempty"`
	Priority      int        `json:"priority"`
	Active        bool       `json:"active"`
	LastCrawledAt *time.Time `json:"last_crawled_at,omitempty"`
	CrawlCount    int        `json:"crawl_count"`
}

// ProviderPrice is the normalized record both acquisition sources emit: one
// provider quoting one price for one product.
type ProviderPrice struct {
	ProviderName  string          `json:"provider_name"`
	ProviderID    int64           `json:"provider_id,omitempty"`
	ProductName   string          `json:"product_name"`
	Price         decimal.Decimal `json:"price"`
	Specification string          `json:"specification"`
	Manufacturer  string          `json:"manufacturer"`
	SourceRef     string          `json:"source_ref,omitempty"`
}
