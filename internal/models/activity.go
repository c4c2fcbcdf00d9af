package models

import "time"

// ActivityAction enumerates the actions recorded in the activity log.
type ActivityAction string

const (
	ActionCreate   ActivityAction = "create"
	ActionView     ActivityAction = "view"
	ActionPrint    ActivityAction = "print"
	ActionShare    ActivityAction = "share"
	ActionSuspend  ActivityAction = "suspend"
	ActionActivate ActivityAction = "activate"
	ActionRenew    ActivityAction = "renew"
	ActionDelete   ActivityAction = "delete"
	ActionScan     ActivityAction = "scan"
	ActionSearch   ActivityAction = "search"
	ActionUpdate   ActivityAction = "update"
)

// Activity is an append-only record of an action taken against a card.
// Records are never mutated; the only removal path is retention
// trimming of the oldest entries. Details must never contain the card's
// security code or PIN.
type Activity struct {
	ID         string         `json:"id"`
	CardID     string         `json:"card_id"`
	InvestorID string         `json:"investor_id"`
	Action     ActivityAction `json:"action"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    string         `json:"details,omitempty"`
}
