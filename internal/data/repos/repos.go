package repos

import (
	"gorm.io/gorm"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/data/repos/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

type FingerprintRepo = drift.FingerprintRepo
type TicketRepo = drift.TicketRepo
type MappingRepo = drift.MappingRepo
type ReviewRepo = drift.ReviewRepo
type GateDecisionRepo = drift.GateDecisionRepo
type KnowledgeRepo = drift.KnowledgeRepo

type FieldKey = drift.FieldKey
type TicketFilter = drift.TicketFilter

// Repos bundles every drift repository over one database handle.
type Repos struct {
	Fingerprints  FingerprintRepo
	Tickets       TicketRepo
	Mappings      MappingRepo
	Reviews       ReviewRepo
	GateDecisions GateDecisionRepo
	Knowledge     KnowledgeRepo
}

func New(db *gorm.DB, baseLog *logger.Logger) Repos {
	return Repos{
		Fingerprints:  drift.NewFingerprintRepo(db, baseLog),
		Tickets:       drift.NewTicketRepo(db, baseLog),
		Mappings:      drift.NewMappingRepo(db, baseLog),
		Reviews:       drift.NewReviewRepo(db, baseLog),
		GateDecisions: drift.NewGateDecisionRepo(db, baseLog),
		Knowledge:     drift.NewKnowledgeRepo(db, baseLog),
	}
}
