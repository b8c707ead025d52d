package models

type Category string

const (
	CategorySAP   Category = "SAP"
	CategoryData  Category = "Data"
	CategoryAI    Category = "AI"
	CategoryCloud Category = "Cloud"
	CategoryOther Category = "Other"
)

var Categories = []Category{CategorySAP, CategoryData, CategoryAI, CategoryCloud, CategoryOther}

type EventFormat string

const (
	FormatInPerson  EventFormat = "In presenza"
	FormatStreaming EventFormat = "Streaming"
	FormatOnDemand  EventFormat = "On demand"
)

type EventCost string

const (
	CostFree       EventCost = "Gratuito"
	CostPaid       EventCost = "A pagamento"
	CostInviteOnly EventCost = "Su invito"
)

type Classification struct {
	RelevanceScore  int         `json:"relevance_score"`
	Category        Category    `json:"category"`
	Reason          string      `json:"reason"`
	KeyRequirements []string    `json:"key_requirements"`
	ExtractedDate   string      `json:"extracted_date,omitempty"`
	EventFormat     EventFormat `json:"event_format,omitempty"`
	EventCost       EventCost   `json:"event_cost,omitempty"`
	City            string      `json:"city,omitempty"`
	Sector          string      `json:"sector,omitempty"`
}

type ClassifiedOpportunity struct {
	Opportunity    Opportunity    `json:"opportunity"`
	Classification Classification `json:"classification"`
}

func (c ClassifiedOpportunity) Score() int {
	return c.Classification.RelevanceScore
}
