package db

import (
	"gorm.io/gorm"

	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// =========================
		// Structure snapshots + drift
		// =========================
		&domain.Fingerprint{},
		&domain.DriftTicket{},

		// =========================
		// Mapping registry + review
		// =========================
		&domain.MappingEntry{},
		&domain.ReviewItem{},
		&domain.GateDecision{},

		// =========================
		// Similarity knowledge base
		// =========================
		&domain.KnowledgeEntry{},
	)
}
