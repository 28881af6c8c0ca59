package models

import "github.com/shopspring/decimal"

// Mask is a marketplace listing
type Mask struct {
	ID    int             `json:"id"`
	Name  string          `json:"name"`
	Tribe string          `json:"tribe"`
	Price decimal.Decimal `json:"price_eth"`
	Image string          `json:"image"`
}

// Prediction is one guess of the mock analysis
type Prediction struct {
	TribalGroup string  `json:"tribal_group"`
	Region      string  `json:"region"`
	Probability float64 `json:"probability"`
}

// AnalysisResult holds the predictions for an uploaded mask image
type AnalysisResult struct {
	Predictions []Prediction `json:"predictions"`
}
