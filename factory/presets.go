package factory

import (
	"encoding/json"
	"fmt"

	"github.com/moustaphacheikh/paie/payroll"
)

// =============================================================================
// PRESET CATALOGS
// =============================================================================

// StandardCatalog returns the catalog most companies start from: base
// salary, seniority and housing, the four overtime tiers with meal and
// remoteness allowances, family allowance, absences and the installment
// retenue used for salary advances.
func StandardCatalog() CatalogJSON {
	its := flags(true, true, true)
	exempt := flags(false, false, false)

	return CatalogJSON{
		Motifs: []MotifJSON{
			{ID: "NORMAL", Label: "Paie normale", Kind: "normal"},
			{ID: "CONGE", Label: "Conges", Kind: "leave"},
			{ID: "PRIME", Label: "Prime exceptionnelle", Kind: "bonus"},
		},
		Rubriques: []RubriqueJSON{
			{ID: "SALBASE", Label: "Salaire de base", Sense: "gain", Flags: its,
				Mandatory: true, Fixed: true, Motifs: []string{"NORMAL"}, Order: 10},
			{ID: "PRIME_ANC", Label: "Prime d'anciennete", Sense: "gain", Flags: its,
				Base: "F04 * [SALBASE]", Fixed: true, Motifs: []string{"NORMAL"}, Order: 20},
			{ID: "IND_LOGEMENT", Label: "Indemnite de logement", Sense: "gain", Flags: its,
				Base: "F13", Fixed: true, Motifs: []string{"NORMAL"}, Order: 30},
			{ID: "HS115", Label: "Heures supplementaires 115%", Sense: "gain", Flags: its,
				Base: "F03 * 1.15", Quantity: "F15", Motifs: []string{"NORMAL"}, Order: 40},
			{ID: "HS140", Label: "Heures supplementaires 140%", Sense: "gain", Flags: its,
				Base: "F03 * 1.40", Quantity: "F16", Motifs: []string{"NORMAL"}, Order: 41},
			{ID: "HS150", Label: "Heures supplementaires 150%", Sense: "gain", Flags: its,
				Base: "F03 * 1.50", Quantity: "F17", Motifs: []string{"NORMAL"}, Order: 42},
			{ID: "HS200", Label: "Heures supplementaires 200%", Sense: "gain", Flags: its,
				Base: "F03 * 2", Quantity: "F18", Motifs: []string{"NORMAL"}, Order: 43},
			{ID: "PANIER", Label: "Prime de panier", Sense: "gain", Flags: exempt,
				Base: "300", Quantity: "F19", Motifs: []string{"NORMAL"}, Order: 50},
			{ID: "ELOIGNEMENT", Label: "Prime d'eloignement", Sense: "gain", Flags: its,
				Base: "1000", Quantity: "F20", Motifs: []string{"NORMAL"}, Order: 51},
			{ID: "ALLOC_FAM", Label: "Allocations familiales", Sense: "gain", Flags: exempt,
				Base: "500", Quantity: "F11", Motifs: []string{"NORMAL"}, Order: 60},
			{ID: "ABSENCES", Label: "Retenue pour absences", Sense: "retenue", DeductionDu: "brut", Flags: its,
				Base: "F02", Quantity: "30 - F01", Motifs: []string{"NORMAL"}, Order: 70},
			{ID: "RET_AVANCE", Label: "Remboursement d'avance", Sense: "retenue", DeductionDu: "net",
				Motifs: []string{"NORMAL"}, Order: 80},
			{ID: "IND_CONGE", Label: "Indemnite de conges", Sense: "gain", Flags: its,
				Base: "F05 / 12", Motifs: []string{"CONGE"}, Order: 90},
			{ID: "PRIME_EXCEP", Label: "Prime exceptionnelle", Sense: "gain", Flags: its,
				DirectAmount: true, Motifs: []string{"PRIME"}, Order: 100},
		},
	}
}

// StandardCatalogJSON is StandardCatalog encoded for ParseCatalog.
func StandardCatalogJSON() string {
	b, err := json.MarshalIndent(StandardCatalog(), "", "  ")
	if err != nil {
		panic(fmt.Sprintf("encode standard catalog: %v", err))
	}
	return string(b)
}

func flags(its, cnss, cnam bool) payroll.Flags {
	return payroll.Flags{SubjectITS: its, SubjectCNSS: cnss, SubjectCNAM: cnam}
}
