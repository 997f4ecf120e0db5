// Package domain holds the core lead qualification model shared by the
// scoring engine, conversation machines, and orchestrators. It has no
// infrastructure dependencies.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Temperature is the categorical qualification outcome for a lead.
type Temperature string

const (
	TemperatureHot  Temperature = "hot"
	TemperatureWarm Temperature = "warm"
	TemperatureCold Temperature = "cold"
)

// Valid reports whether t is a known temperature.
func (t Temperature) Valid() bool {
	switch t {
	case TemperatureHot, TemperatureWarm, TemperatureCold:
		return true
	}
	return false
}

// BotType identifies a qualification bot variant. The set is closed;
// dispatch happens through the bots.Bot interface, never type inspection.
type BotType string

const (
	BotIntake BotType = "intake"
	BotSeller BotType = "seller"
	BotBuyer  BotType = "buyer"
)

// Valid reports whether b is a known bot type.
func (b BotType) Valid() bool {
	switch b {
	case BotIntake, BotSeller, BotBuyer:
		return true
	}
	return false
}

// Lead is the canonical record for an inbound contact. Leads are created
// on first contact and never deleted, only archived.
type Lead struct {
	ID          uuid.UUID
	ExternalID  string // stable id from the source channel / CRM
	Name        string
	Phone       string
	Email       string
	Source      string // originating channel, e.g. "webhook:ghl"
	Temperature Temperature
	Confidence  float64
	OwningBot   BotType
	Archived    bool
	SyncFailed  bool       // set when CRM sync retries are exhausted
	SyncedAt    *time.Time // last successful CRM sync
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Thresholds holds the named qualification cut points in force for an
// evaluation. A copy is recorded on every QualificationResult so past
// classifications stay reproducible after a config change.
type Thresholds struct {
	HotQuestionsRequired  int     `json:"hotQuestionsRequired"`
	HotQualityThreshold   float64 `json:"hotQualityThreshold"`
	WarmQuestionsRequired int     `json:"warmQuestionsRequired"`
	WarmQualityThreshold  float64 `json:"warmQualityThreshold"`
	StallWindow           int     `json:"stallWindow"`
	StallQualityFloor     float64 `json:"stallQualityFloor"`
}
