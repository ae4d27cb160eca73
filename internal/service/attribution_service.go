package service

import (
	"errors"
	"math"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	ErrEmptyChain    = errors.New("attribution chain is empty")
)

// MultiplierTables is versioned lookup data for the attribution engine.
// Values are loaded from configuration at startup so they can change
// without a redeploy; the calculation itself stays pure.
type MultiplierTables struct {
	Version        string             `mapstructure:"version" json:"version"`
	BaseMultiplier float64            `mapstructure:"base_multiplier" json:"base_multiplier"`
	Tiers          map[string]float64 `mapstructure:"tiers" json:"tiers"`
	Categories     map[string]float64 `mapstructure:"categories" json:"categories"`
	Buckets        BucketShares       `mapstructure:"buckets" json:"buckets"`
	Velocity       VelocityWeights    `mapstructure:"velocity" json:"velocity"`
}

type BucketShares struct {
	Direct   float64 `mapstructure:"direct" json:"direct"`
	Indirect float64 `mapstructure:"indirect" json:"indirect"`
	Induced  float64 `mapstructure:"induced" json:"induced"`
}

type VelocityWeights struct {
	LengthWeight float64 `mapstructure:"length_weight" json:"length_weight"`
	AmountScale  float64 `mapstructure:"amount_scale" json:"amount_scale"`
}

func DefaultMultiplierTables() MultiplierTables {
	return MultiplierTables{
		Version:        "2024-07",
		BaseMultiplier: 2.3,
		Tiers: map[string]float64{
			"bronze":   1.0,
			"silver":   1.25,
			"gold":     1.5,
			"platinum": 2.0,
		},
		Categories: map[string]float64{
			"grocery":       0.95,
			"services":      1.0,
			"retail":        1.05,
			"restaurant":    1.1,
			"health":        1.15,
			"entertainment": 1.2,
			"education":     1.35,
		},
		Buckets: BucketShares{
			Direct:   0.40,
			Indirect: 0.35,
			Induced:  0.25,
		},
		Velocity: VelocityWeights{
			LengthWeight: 10,
			AmountScale:  50,
		},
	}
}

func (t MultiplierTables) Validate() error {
	if t.BaseMultiplier <= 0 {
		return errors.New("base_multiplier must be greater than 0")
	}
	if len(t.Tiers) == 0 {
		return errors.New("tiers must not be empty")
	}
	if len(t.Categories) == 0 {
		return errors.New("categories must not be empty")
	}
	sum := t.Buckets.Direct + t.Buckets.Indirect + t.Buckets.Induced
	if math.Abs(sum-1.0) > 1e-9 {
		return errors.New("bucket shares must sum to 1.0")
	}
	if t.Velocity.AmountScale <= 0 {
		return errors.New("velocity.amount_scale must be greater than 0")
	}
	return nil
}

// lowestTier returns the smallest tier multiplier; unknown or absent tiers
// fall back to it.
func (t MultiplierTables) lowestTier() float64 {
	lowest := math.Inf(1)
	for _, v := range t.Tiers {
		if v < lowest {
			lowest = v
		}
	}
	if math.IsInf(lowest, 1) {
		return 1.0
	}
	return lowest
}

func (t MultiplierTables) maxTier() float64 {
	highest := 0.0
	for _, v := range t.Tiers {
		if v > highest {
			highest = v
		}
	}
	if highest == 0 {
		return 1.0
	}
	return highest
}

func (t MultiplierTables) maxCategory() float64 {
	highest := 1.0
	for _, v := range t.Categories {
		if v > highest {
			highest = v
		}
	}
	return highest
}

// Ceiling is the maximum attainable effective multiplier given the table
// extremes; it anchors the 0-100 circulation score.
func (t MultiplierTables) Ceiling() float64 {
	return t.BaseMultiplier * t.maxTier() * t.maxCategory()
}

func (t MultiplierTables) tierMultiplier(tier string) float64 {
	if v, ok := t.Tiers[strings.ToLower(strings.TrimSpace(tier))]; ok {
		return v
	}
	return t.lowestTier()
}

func (t MultiplierTables) categoryMultiplier(category string) float64 {
	if v, ok := t.Categories[strings.ToLower(strings.TrimSpace(category))]; ok {
		return v
	}
	return 1.0
}

type Breakdown struct {
	Amount              float64           `json:"amount"`
	Tier                string            `json:"tier,omitempty"`
	Category            string            `json:"category,omitempty"`
	TablesVersion       string            `json:"tablesVersion"`
	BaseMultiplier      float64           `json:"baseMultiplier"`
	TierMultiplier      float64           `json:"tierMultiplier"`
	CategoryMultiplier  float64           `json:"categoryMultiplier"`
	EffectiveMultiplier float64           `json:"effectiveMultiplier"`
	Impact              float64           `json:"impact"`
	CirculationScore    int               `json:"circulationScore"`
	Attribution         AttributionSplit  `json:"attribution"`
}

type AttributionSplit struct {
	Direct   float64 `json:"direct"`
	Indirect float64 `json:"indirect"`
	Induced  float64 `json:"induced"`
}

type ChainParticipant struct {
	ParticipantID uuid.UUID `json:"participantId"`
	Amount        float64   `json:"amount"`
	Category      string    `json:"category,omitempty"`
}

type ParticipantAttribution struct {
	ParticipantID uuid.UUID `json:"participantId"`
	Amount        float64   `json:"amount"`
	Category      string    `json:"category,omitempty"`
	Impact        float64   `json:"impact"`
	Percentage    float64   `json:"percentage"`
}

type ChainResult struct {
	TransactionID uuid.UUID                `json:"transactionId"`
	Total         float64                  `json:"total"`
	VelocityScore int                      `json:"velocityScore"`
	Participants  []ParticipantAttribution `json:"perParticipant"`
}

// AttributionService scores the economic impact of transactions. It is
// deterministic and side-effect-free; all variability lives in the tables.
type AttributionService struct {
	tables MultiplierTables
}

func NewAttributionService(tables MultiplierTables) *AttributionService {
	return &AttributionService{tables: tables}
}

func (s *AttributionService) TablesVersion() string {
	return s.tables.Version
}

func (s *AttributionService) Calculate(amount float64, category, tier string) (*Breakdown, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tierMult := s.tables.tierMultiplier(tier)
	categoryMult := s.tables.categoryMultiplier(category)
	effective := s.tables.BaseMultiplier * tierMult * categoryMult
	impact := roundCents(amount * effective)

	score := int(math.Round(effective / s.tables.Ceiling() * 100))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return &Breakdown{
		Amount:              amount,
		Tier:                strings.ToLower(strings.TrimSpace(tier)),
		Category:            strings.ToLower(strings.TrimSpace(category)),
		TablesVersion:       s.tables.Version,
		BaseMultiplier:      s.tables.BaseMultiplier,
		TierMultiplier:      tierMult,
		CategoryMultiplier:  categoryMult,
		EffectiveMultiplier: effective,
		Impact:              impact,
		CirculationScore:    score,
		Attribution:         s.splitImpact(impact),
	}, nil
}

// splitImpact divides impact into the three named buckets, each rounded to
// cents, with the rounding residue absorbed into the direct (largest)
// bucket so the three values sum exactly to impact.
func (s *AttributionService) splitImpact(impact float64) AttributionSplit {
	direct := roundCents(impact * s.tables.Buckets.Direct)
	indirect := roundCents(impact * s.tables.Buckets.Indirect)
	induced := roundCents(impact * s.tables.Buckets.Induced)

	residue := roundCents(impact - direct - indirect - induced)
	direct = roundCents(direct + residue)

	return AttributionSplit{
		Direct:   direct,
		Indirect: indirect,
		Induced:  induced,
	}
}

func (s *AttributionService) Attribute(transactionID uuid.UUID, chain []ChainParticipant) (*ChainResult, error) {
	if len(chain) == 0 {
		return nil, ErrEmptyChain
	}
	for _, p := range chain {
		if p.Amount < 0 {
			return nil, ErrInvalidAmount
		}
	}

	participants := make([]ParticipantAttribution, 0, len(chain))
	total := 0.0
	for _, p := range chain {
		impact := roundCents(p.Amount * s.tables.BaseMultiplier * s.tables.categoryMultiplier(p.Category))
		total += impact
		participants = append(participants, ParticipantAttribution{
			ParticipantID: p.ParticipantID,
			Amount:        p.Amount,
			Category:      strings.ToLower(strings.TrimSpace(p.Category)),
			Impact:        impact,
		})
	}
	total = roundCents(total)

	// All-zero chains report zero percentages rather than dividing by zero.
	// Otherwise each share is rounded to two decimals and the rounding
	// residue is absorbed into the largest share, mirroring splitImpact, so
	// the percentages always sum to exactly 100.
	if total > 0 {
		sum := 0.0
		largest := 0
		for i := range participants {
			pct := roundCents(participants[i].Impact / total * 100)
			participants[i].Percentage = pct
			sum += pct
			if participants[i].Impact > participants[largest].Impact {
				largest = i
			}
		}
		if residue := roundCents(100 - sum); residue != 0 {
			participants[largest].Percentage = roundCents(participants[largest].Percentage + residue)
		}
	}

	velocity := int(math.Round(float64(len(chain))*s.tables.Velocity.LengthWeight + total/s.tables.Velocity.AmountScale))
	if velocity < 0 {
		velocity = 0
	}
	if velocity > 100 {
		velocity = 100
	}

	return &ChainResult{
		TransactionID: transactionID,
		Total:         total,
		VelocityScore: velocity,
		Participants:  participants,
	}, nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
