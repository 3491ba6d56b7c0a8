package models

// Registration types accepted for RegistrationNumber.Type.
const (
	RegistrationFertilizerProduct   = "fertilizer_product"
	RegistrationIngredientComponent = "ingredient_component"
)

// LabelData is the structured content of a fertilizer product label.
//
// Pointer fields serialize as null when absent. The required sequences
// (organizations, registration_number, weight) always serialize as arrays.
// The optional sequences keep the distinction between null and [].
type LabelData struct {
	// Parties
	Organizations []Organization `json:"organizations"` // Manufacturer, distributor, registrant...

	// Identification
	FertiliserName     *string              `json:"fertiliser_name"`
	RegistrationNumber []RegistrationNumber `json:"registration_number"`
	LotNumber          *string              `json:"lot_number"`

	// Measurements
	Weight  []Quantity `json:"weight"` // Every weight printed on the label, any unit
	Density *Quantity  `json:"density"`
	Volume  *Quantity  `json:"volume"`

	// Composition
	NPK                  *string             `json:"npk"` // e.g. "20-20-20"
	GuaranteedAnalysisEn *GuaranteedAnalysis `json:"guaranteed_analysis_en"`
	GuaranteedAnalysisFr *GuaranteedAnalysis `json:"guaranteed_analysis_fr"`

	// Bilingual free text
	CautionsEn     []string   `json:"cautions_en"`
	CautionsFr     []string   `json:"cautions_fr"`
	InstructionsEn []string   `json:"instructions_en"`
	InstructionsFr []string   `json:"instructions_fr"`
	IngredientsEn  []Nutrient `json:"ingredients_en"`
	IngredientsFr  []Nutrient `json:"ingredients_fr"`
}

// Organization is a party named on the label.
type Organization struct {
	Name        *string `json:"name"`
	Address     *string `json:"address"`
	Website     *string `json:"website"`
	PhoneNumber *string `json:"phone_number"` // E.164 after parsing
}

// RegistrationNumber is a registration identifier printed on the label.
type RegistrationNumber struct {
	Identifier *string `json:"identifier"` // Seven digits followed by one letter
	Type       string  `json:"type"`       // fertilizer_product or ingredient_component
}

// Quantity is a measured amount. Value and Unit are independently nullable.
type Quantity struct {
	Value *string `json:"value"` // Decimal string, numbers are coerced
	Unit  *string `json:"unit"`
}

// Nutrient is a named quantity in a guaranteed analysis or ingredient list.
type Nutrient struct {
	Nutrient *string `json:"nutrient"`
	Value    *string `json:"value"`
	Unit     *string `json:"unit"`
}

// GuaranteedAnalysis is the guaranteed minimum analysis block of a label in
// one language.
type GuaranteedAnalysis struct {
	Title     *string    `json:"title"`
	Nutrients []Nutrient `json:"nutrients"`
	IsMinimal *bool      `json:"is_minimal"`
}

// String returns a pointer to s. It keeps literal construction of LabelData
// values short.
func String(s string) *string {
	return &s
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}

// normalize replaces null required sequences with empty ones.
func (l *LabelData) normalize() {
	if l.Organizations == nil {
		l.Organizations = []Organization{}
	}
	if l.RegistrationNumber == nil {
		l.RegistrationNumber = []RegistrationNumber{}
	}
	if l.Weight == nil {
		l.Weight = []Quantity{}
	}
	for _, ga := range []*GuaranteedAnalysis{l.GuaranteedAnalysisEn, l.GuaranteedAnalysisFr} {
		if ga != nil && ga.Nutrients == nil {
			ga.Nutrients = []Nutrient{}
		}
	}
}
