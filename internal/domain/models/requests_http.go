package models

// Requests for the alert HTTP endpoints.

type AlertListRequest struct {
	Status string `query:"status" json:"status" default:"open" validate:"oneof=open suppressed expired all"`
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=5000"`
}

type AlertGetRequest struct {
	ID string `param:"id" json:"id" validate:"required,uuid"`
}

type SweepRequest struct {
	AsOf string `query:"as_of" json:"as_of"`
}

type EventBatchRequest struct {
	Events []RawTradeEvent `json:"events" validate:"required,min=1,max=10000"`
}

type DisclosureBatchRequest struct {
	Disclosures []RawDisclosureEvent `json:"disclosures" validate:"required,min=1,max=10000,dive"`
}
