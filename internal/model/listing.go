package model

import (
	"time"

	"github.com/google/uuid"
)

// ListingStatus enum constants
type ListingStatus string

const (
	ListingDraft    ListingStatus = "draft"
	ListingPending  ListingStatus = "pending"
	ListingActive   ListingStatus = "active"
	ListingFeatured ListingStatus = "featured"
	ListingExpired  ListingStatus = "expired"
	ListingSold     ListingStatus = "sold"
	ListingArchived ListingStatus = "archived"
	ListingRejected ListingStatus = "rejected"
)

// VisibleListingStatuses are shown to buyers and get hidden when a subscription lapses.
var VisibleListingStatuses = []ListingStatus{ListingActive, ListingFeatured}

// Listing is owned by the catalogue subsystem; billing only flips its status.
type Listing struct {
	ID        uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID     `gorm:"type:uuid;not null;index" json:"user_id"`
	Title     string        `gorm:"type:varchar(255);not null" json:"title"`
	Status    ListingStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
