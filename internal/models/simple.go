package models

// ResinProfile mirrors the legacy front-end's exposure profile.
type ResinProfile struct {
	LayerHeight      float64 `json:"layerHeight"`
	BottomLayerCount int     `json:"bottomLayerCount"`
	ExposureTime     float64 `json:"exposureTime"`
	BottomExposure   float64 `json:"bottomExposure"`
	LiftDistance     float64 `json:"liftDistance1"`
	LiftSpeed        float64 `json:"liftSpeed1"`
	RetractSpeed     float64 `json:"retractSpeed1"`
}

type FilamentParams struct {
	PrintTemp       float64  `json:"printTemp"`
	BedTemp         float64  `json:"bedTemp"`
	FanSpeed        float64  `json:"fanSpeed"`
	Density         float64  `json:"density"`
	TensileStrength *float64 `json:"tensileStrength"`
	GlassTransition *float64 `json:"glassTransition"`
}

// SimpleMaterialRecord is the flattened projection consumed by the legacy
// front-end. It has no identity of its own.
type SimpleMaterialRecord struct {
	Brand       string                  `json:"brand"`
	Name        string                  `json:"name"`
	Type        string                  `json:"type,omitempty"`
	Material    string                  `json:"material,omitempty"`
	Image       string                  `json:"image,omitempty"`
	Description string                  `json:"description,omitempty"`
	Color       string                  `json:"color,omitempty"`
	ColorName   string                  `json:"colorName,omitempty"`
	Tags        []string                `json:"tags"`
	Profiles    map[string]ResinProfile `json:"profiles,omitempty"`
	Params      *FilamentParams         `json:"params,omitempty"`
}
