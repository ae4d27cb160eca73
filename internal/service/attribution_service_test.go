package service

import (
	"math"
	"testing"

	"github.com/google/uuid"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCalculate_KnownVector(t *testing.T) {
	t.Parallel()

	svc := NewAttributionService(DefaultMultiplierTables())

	breakdown, err := svc.Calculate(100, "restaurant", "gold")
	if err != nil {
		t.Fatalf("Calculate returned error: %v", err)
	}

	// 2.3 * 1.5 * 1.1 = 3.795
	if !almostEqual(breakdown.EffectiveMultiplier, 3.795) {
		t.Fatalf("effective multiplier = %v, want 3.795", breakdown.EffectiveMultiplier)
	}
	if !almostEqual(breakdown.Impact, 379.50) {
		t.Fatalf("impact = %v, want 379.50", breakdown.Impact)
	}
	if breakdown.TablesVersion == "" {
		t.Fatal("tables version must be set on every breakdown")
	}
}

func TestCalculate_UnknownTierAndCategoryFallBack(t *testing.T) {
	t.Parallel()

	svc := NewAttributionService(DefaultMultiplierTables())

	breakdown, err := svc.Calculate(50, "spaceship-rental", "obsidian")
	if err != nil {
		t.Fatalf("Calculate returned error: %v", err)
	}

	// Unknown tier falls to the lowest tier, unknown category to 1.0.
	if !almostEqual(breakdown.TierMultiplier, 1.0) {
		t.Fatalf("tier multiplier = %v, want 1.0", breakdown.TierMultiplier)
	}
	if !almostEqual(breakdown.CategoryMultiplier, 1.0) {
		t.Fatalf("category multiplier = %v, want 1.0", breakdown.CategoryMultiplier)
	}
}

func TestCalculate_RejectsNonPositiveAmount(t *testing.T) {
	t.Parallel()

	svc := NewAttributionService(DefaultMultiplierTables())

	for _, amount := range []float64{0, -1, -0.01} {
		if _, err := svc.Calculate(amount, "retail", "silver"); err != ErrInvalidAmount {
			t.Fatalf("Calculate(%v) error = %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestCalculate_BucketsSumExactlyToImpact(t *testing.T) {
	t.Parallel()

	svc := NewAttributionService(DefaultMultiplierTables())

	amounts := []float64{0.01, 0.03, 1, 33.33, 100, 251.07, 9999.99}
	tiers := []string{"bronze", "silver", "gold", "platinum"}
	categories := []string{"grocery", "restaurant", "education"}

	for _, amount := range amounts {
		for _, tier := range tiers {
			for _, category := range categories {
				breakdown, err := svc.Calculate(amount, category, tier)
				if err != nil {
					t.Fatalf("Calculate(%v, %s, %s) error: %v", amount, category, tier, err)
				}

				sum := breakdown.Attribution.Direct + breakdown.Attribution.Indirect + breakdown.Attribution.Induced
				if !almostEqual(roundCents(sum), breakdown.Impact) {
					t.Fatalf("buckets %v sum to %v, impact %v (amount=%v tier=%s category=%s)",
						breakdown.Attribution, sum, breakdown.Impact, amount, tier, category)
				}
			}
		}
	}
}

func TestCalculate_CirculationScoreBounds(t *testing.T) {
	t.Parallel()

	svc := NewAttributionService(DefaultMultiplierTables())

	top, err := svc.Calculate(10, "education", "platinum")
	if err != nil {
		t.Fatalf("Calculate returned error: %v", err)
	}
	if top.CirculationScore != 100 {
		t.Fatalf("score at table ceiling = %d, want 100", top.CirculationScore)
	}

	low, err := svc.Calculate(10, "grocery", "bronze")
	if err != nil {
		t.Fatalf("Calculate returned error: %v", err)
	}
	if low.CirculationScore < 0 || low.CirculationScore > 100 {
		t.Fatalf("score out of bounds: %d", low.CirculationScore)
	}
	if low.CirculationScore >= top.CirculationScore {
		t.Fatalf("low combination scored %d, not below ceiling %d", low.CirculationScore, top.CirculationScore)
	}
}

func TestAttribute_EmptyChainRejected(t *testing.T) {
	t.Parallel()

	svc := NewAttributionService(DefaultMultiplierTables())

	if _, err := svc.Attribute(uuid.New(), nil); err != ErrEmptyChain {
		t.Fatalf("Attribute(nil) error = %v, want ErrEmptyChain", err)
	}
}

func TestAttribute_NegativeAmountRejected(t *testing.T) {
	t.Parallel()

	svc := NewAttributionService(DefaultMultiplierTables())

	chain := []ChainParticipant{
		{ParticipantID: uuid.New(), Amount: 10, Category: "retail"},
		{ParticipantID: uuid.New(), Amount: -5, Category: "retail"},
	}
	if _, err := svc.Attribute(uuid.New(), chain); err != ErrInvalidAmount {
		t.Fatalf("Attribute error = %v, want ErrInvalidAmount", err)
	}
}

func TestAttribute_PercentagesCoverTotal(t *testing.T) {
	t.Parallel()

	svc := NewAttributionService(DefaultMultiplierTables())

	chain := []ChainParticipant{
		{ParticipantID: uuid.New(), Amount: 120, Category: "restaurant"},
		{ParticipantID: uuid.New(), Amount: 80, Category: "grocery"},
		{ParticipantID: uuid.New(), Amount: 55.55, Category: "services"},
	}

	result, err := svc.Attribute(uuid.New(), chain)
	if err != nil {
		t.Fatalf("Attribute returned error: %v", err)
	}
	if len(result.Participants) != len(chain) {
		t.Fatalf("got %d participants, want %d", len(result.Participants), len(chain))
	}

	sumImpact := 0.0
	sumPct := 0.0
	for _, p := range result.Participants {
		if p.Impact <= 0 {
			t.Fatalf("participant %s has non-positive impact %v", p.ParticipantID, p.Impact)
		}
		sumImpact += p.Impact
		sumPct += p.Percentage
	}

	if !almostEqual(roundCents(sumImpact), result.Total) {
		t.Fatalf("participant impacts sum to %v, total is %v", sumImpact, result.Total)
	}
	if math.Abs(sumPct-100) > 0.01 {
		t.Fatalf("percentages sum to %v, want 100 +/- 0.01", sumPct)
	}
}

func TestAttribute_EqualSharesSumToExactlyHundred(t *testing.T) {
	t.Parallel()

	svc := NewAttributionService(DefaultMultiplierTables())

	// Seven equal shares round to 14.29 each; the residue lands on one
	// participant instead of drifting the sum to 100.03.
	chain := make([]ChainParticipant, 7)
	for i := range chain {
		chain[i] = ChainParticipant{ParticipantID: uuid.New(), Amount: 100, Category: "services"}
	}

	result, err := svc.Attribute(uuid.New(), chain)
	if err != nil {
		t.Fatalf("Attribute returned error: %v", err)
	}

	sumPct := 0.0
	for _, p := range result.Participants {
		sumPct += p.Percentage
	}
	if roundCents(sumPct) != 100 {
		t.Fatalf("percentages sum to %v, want exactly 100", sumPct)
	}
	adjusted := 0
	for _, p := range result.Participants {
		if p.Percentage != 14.29 {
			adjusted++
		}
	}
	if adjusted != 1 {
		t.Fatalf("%d participants carry the rounding residue, want 1", adjusted)
	}
}

func TestAttribute_ResidueGoesToLargestShare(t *testing.T) {
	t.Parallel()

	svc := NewAttributionService(DefaultMultiplierTables())

	chain := []ChainParticipant{
		{ParticipantID: uuid.New(), Amount: 100, Category: "services"},
		{ParticipantID: uuid.New(), Amount: 100, Category: "services"},
		{ParticipantID: uuid.New(), Amount: 400, Category: "services"},
	}

	result, err := svc.Attribute(uuid.New(), chain)
	if err != nil {
		t.Fatalf("Attribute returned error: %v", err)
	}

	// Raw shares are 16.666..% / 16.666..% / 66.666..%; the 0.01 residue
	// from rounding each to cents belongs to the 400 participant.
	if got := result.Participants[0].Percentage; got != 16.67 {
		t.Fatalf("small share percentage = %v, want 16.67", got)
	}
	if got := result.Participants[1].Percentage; got != 16.67 {
		t.Fatalf("small share percentage = %v, want 16.67", got)
	}
	if got := result.Participants[2].Percentage; got != 66.66 {
		t.Fatalf("large share percentage = %v, want 66.66", got)
	}
}

func TestAttribute_ZeroTotalReportsZeroPercentages(t *testing.T) {
	t.Parallel()

	svc := NewAttributionService(DefaultMultiplierTables())

	chain := []ChainParticipant{
		{ParticipantID: uuid.New(), Amount: 0, Category: "retail"},
		{ParticipantID: uuid.New(), Amount: 0, Category: "grocery"},
	}

	result, err := svc.Attribute(uuid.New(), chain)
	if err != nil {
		t.Fatalf("Attribute returned error: %v", err)
	}
	if result.Total != 0 {
		t.Fatalf("total = %v, want 0", result.Total)
	}
	for _, p := range result.Participants {
		if p.Percentage != 0 {
			t.Fatalf("participant %s percentage = %v, want 0", p.ParticipantID, p.Percentage)
		}
	}
}

func TestAttribute_VelocityScoreClamped(t *testing.T) {
	t.Parallel()

	svc := NewAttributionService(DefaultMultiplierTables())

	long := make([]ChainParticipant, 0, 25)
	for i := 0; i < 25; i++ {
		long = append(long, ChainParticipant{ParticipantID: uuid.New(), Amount: 10000, Category: "education"})
	}

	result, err := svc.Attribute(uuid.New(), long)
	if err != nil {
		t.Fatalf("Attribute returned error: %v", err)
	}
	if result.VelocityScore != 100 {
		t.Fatalf("velocity score = %d, want clamp at 100", result.VelocityScore)
	}

	short, err := svc.Attribute(uuid.New(), []ChainParticipant{
		{ParticipantID: uuid.New(), Amount: 0.01, Category: "grocery"},
	})
	if err != nil {
		t.Fatalf("Attribute returned error: %v", err)
	}
	if short.VelocityScore < 0 || short.VelocityScore > 100 {
		t.Fatalf("velocity score out of bounds: %d", short.VelocityScore)
	}
}

func TestMultiplierTables_Validate(t *testing.T) {
	t.Parallel()

	valid := DefaultMultiplierTables()
	if err := valid.Validate(); err != nil {
		t.Fatalf("default tables must validate: %v", err)
	}

	broken := DefaultMultiplierTables()
	broken.Buckets.Direct = 0.5
	if err := broken.Validate(); err == nil {
		t.Fatal("bucket shares not summing to 1.0 must fail validation")
	}

	noBase := DefaultMultiplierTables()
	noBase.BaseMultiplier = 0
	if err := noBase.Validate(); err == nil {
		t.Fatal("zero base multiplier must fail validation")
	}
}
