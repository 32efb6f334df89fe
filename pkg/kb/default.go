package kb

// Table and derived-concept names used by the default rule set.
const (
	TableHemoglobinState    = "hemoglobin_state"
	TableHematologicalState = "hematological_state"
	TableSystemicToxicity   = "systemic_toxicity"

	ConceptHemoglobinState    = "Hemoglobin-state"
	ConceptHematologicalState = "Hematological-state"
	ConceptSystemicToxicity   = "Systemic-Toxicity"
)

// Default returns the built-in CCTG522 protocol rule set: gender-split
// hemoglobin and hematological tables, the four-input toxicity grading,
// and the treatment rules keyed by the derived-state tuple.
func Default() *KnowledgeBase {
	kb := &KnowledgeBase{
		Tables: map[string]*Table{
			TableHemoglobinState: {
				Name:   TableHemoglobinState,
				Kind:   KindDirect,
				Output: ConceptHemoglobinState,
				Input:  "Hemoglobin",
				Variants: map[string]DirectVariant{
					"female": {Ranges: []RangeState{
						{Min: 0, Max: 8, State: "Severe Anemia"},
						{Min: 8, Max: 10, State: "Moderate Anemia"},
						{Min: 10, Max: 12, State: "Mild Anemia"},
						{Min: 12, Max: 14, State: "Normal Hemoglobin"},
						{Min: 14, Max: 999, State: "Polycytemia"},
					}},
					"male": {Ranges: []RangeState{
						{Min: 0, Max: 9, State: "Severe Anemia"},
						{Min: 9, Max: 11, State: "Moderate Anemia"},
						{Min: 11, Max: 13, State: "Mild Anemia"},
						{Min: 13, Max: 16, State: "Normal Hemoglobin"},
						{Min: 16, Max: 999, State: "Polyhemia"},
					}},
				},
			},
			TableHematologicalState: {
				Name:     TableHematologicalState,
				Kind:     KindMatrix,
				Output:   ConceptHematologicalState,
				RowInput: "Hemoglobin",
				ColInput: "WBC",
				MatrixVariants: map[string]MatrixVariant{
					"female": {
						RowBuckets: []Bucket{
							{Name: "low", Min: 0, Max: 12},
							{Name: "normal", Min: 12, Max: 14},
							{Name: "high", Min: 14, Max: 999},
						},
						ColBuckets: wbcBuckets(),
						Cells: [][]string{
							{"Pancytopenia", "Anemia", "Suspected Leukemia"},
							{"Leukopenia", "Normal", "Leukemoid reaction"},
							{"Suspected Polycytemia Vera", "Suspected Polycytemia Vera", "Suspected Polycytemia Vera"},
						},
					},
					"male": {
						RowBuckets: []Bucket{
							{Name: "low", Min: 0, Max: 13},
							{Name: "normal", Min: 13, Max: 16},
							{Name: "high", Min: 16, Max: 999},
						},
						ColBuckets: wbcBuckets(),
						Cells: [][]string{
							{"Pancytopenia", "Anemia", "Suspected Leukemia"},
							{"Leukopenia", "Normal", "Leukemoid reaction"},
							{"Suspected Polycytemia Vera", "Suspected Polycytemia Vera", "Suspected Polycytemia Vera"},
						},
					},
				},
			},
			TableSystemicToxicity: {
				Name:         TableSystemicToxicity,
				Kind:         KindMaximalSeverity,
				Output:       ConceptSystemicToxicity,
				Precondition: &Precondition{Input: "Therapy", Equals: "CCTG522"},
				Inputs: []SeverityInput{
					{Input: "Fever", Ranges: []GradeRange{
						{Min: 0, Max: 38.5, Grade: GradeI},
						{Min: 38.5, Max: 40, Grade: GradeII},
						{Min: 40, Max: 999, Grade: GradeIV},
					}},
					{Input: "Chills", Values: map[string]Grade{
						"None":    GradeI,
						"Shaking": GradeII,
						"Rigor":   GradeIV,
					}},
					{Input: "Skin-look", Values: map[string]Grade{
						"Erythema":     GradeI,
						"Vesiculation": GradeII,
						"Desquamation": GradeIII,
						"Exfoliation":  GradeIV,
					}},
					{Input: "Allergic-state", Values: map[string]Grade{
						"Edema":              GradeI,
						"Bronchospasm":       GradeII,
						"Severe-Bronchospasm": GradeIII,
						"Anaphylactic-Shock": GradeIV,
					}},
				},
			},
		},
		Treatments: defaultTreatments(),
	}
	return kb
}

func wbcBuckets() []Bucket {
	return []Bucket{
		{Name: "low", Min: 0, Max: 4000},
		{Name: "normal", Min: 4000, Max: 10000},
		{Name: "high", Min: 10000, Max: 999999},
	}
}

func defaultTreatments() map[TreatmentKey]string {
	return map[TreatmentKey]string{
		{Attribute: "male", StateA: "Severe Anemia", StateB: "Pancytopenia", Grade: GradeI}: "Measure BP once a week",
		{Attribute: "male", StateA: "Moderate Anemia", StateB: "Anemia", Grade: GradeII}: "Measure BP every 3 days\n" +
			"Give aspirin 5g twice a week",
		{Attribute: "male", StateA: "Mild Anemia", StateB: "Suspected Leukemia", Grade: GradeIII}: "Measure BP every day\n" +
			"Give aspirin 15g every day\n" +
			"Diet consultation",
		{Attribute: "male", StateA: "Normal Hemoglobin", StateB: "Leukemoid reaction", Grade: GradeIV}: "Measure BP twice a day\n" +
			"Give aspirin 15g every day\n" +
			"Exercise consultation\n" +
			"Diet consultation",
		{Attribute: "male", StateA: "Polyhemia", StateB: "Suspected Polycytemia Vera", Grade: GradeIV}: "Measure BP every hour\n" +
			"Give 1 gr magnesium every hour\n" +
			"Exercise consultation\n" +
			"Call family",

		{Attribute: "female", StateA: "Severe Anemia", StateB: "Pancytopenia", Grade: GradeI}: "Measure BP every 3 days",
		{Attribute: "female", StateA: "Moderate Anemia", StateB: "Anemia", Grade: GradeII}: "Measure BP every 3 days\n" +
			"Give Celectone 2g twice a day for two days drug treatment",
		{Attribute: "female", StateA: "Mild Anemia", StateB: "Suspected Leukemia", Grade: GradeIII}: "Measure BP every day\n" +
			"Give 1 gr magnesium every 3 hours\n" +
			"Diet consultation",
		{Attribute: "female", StateA: "Normal Hemoglobin", StateB: "Leukemoid reaction", Grade: GradeIV}: "Measure BP twice a day\n" +
			"Give 1 gr magnesium every hour\n" +
			"Exercise consultation\n" +
			"Diet consultation",
		{Attribute: "female", StateA: "Polyhemia", StateB: "Suspected Polycytemia Vera", Grade: GradeIV}: "Measure BP every hour\n" +
			"Give 1 gr magnesium every hour\n" +
			"Exercise consultation\n" +
			"Call help",
	}
}
