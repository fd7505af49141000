package routing

import (
	"fmt"
	"strings"

	"relay/pkg/models"
)

type Reason string

const (
	ReasonExplicit    Reason = "explicit"
	ReasonHeuristic   Reason = "heuristic"
	ReasonRuleDefault Reason = "rule_default"
	ReasonFirstActive Reason = "first_active"
	ReasonNone        Reason = "none"
)

// Channel name fragments used by the heuristic pass.
const (
	hintAlert   = "alert"
	hintManager = "manager"
	hintSales   = "sales"
)

var alertActions = map[string]struct{}{
	"deleted": {},
	"lost":    {},
	"failed":  {},
}

var ownerFields = []string{"owner_id", "user_id", "owner_name", "owner"}

// Router picks the destination channel for one rule.
type Router struct{}

func NewRouter() *Router {
	return &Router{}
}

// Route returns nil with ReasonNone only when the tenant has no active channel.
func (r *Router) Route(evt *models.InboundEvent, rule models.Rule, channels []models.Channel) (*models.Channel, Reason) {
	active := activeOnly(channels)
	if len(active) == 0 {
		return nil, ReasonNone
	}

	if rule.TargetChannelID != nil {
		if ch := byID(active, *rule.TargetChannelID); ch != nil {
			return ch, ReasonExplicit
		}
	}

	for _, hint := range heuristicHints(evt) {
		if ch := byNameFragment(active, hint); ch != nil {
			return ch, ReasonHeuristic
		}
	}

	if rule.DefaultChannelID != nil {
		if ch := byID(active, *rule.DefaultChannelID); ch != nil {
			return ch, ReasonRuleDefault
		}
	}

	return &active[0], ReasonFirstActive
}

// Alternate returns the first active channel other than excludeID.
func Alternate(channels []models.Channel, excludeID string) *models.Channel {
	for i := range channels {
		if channels[i].Active && channels[i].ID != excludeID {
			return &channels[i]
		}
	}
	return nil
}

// heuristicHints lists channel name fragments in preference order.
func heuristicHints(evt *models.InboundEvent) []string {
	var hints []string

	action := strings.ToLower(evt.Action())
	for a := range alertActions {
		if action == a || strings.HasSuffix(action, "_"+a) || strings.HasSuffix(action, "."+a) {
			hints = append(hints, hintAlert)
			break
		}
	}
	if status, ok := evt.CurrentField("status"); ok {
		if s, isString := status.(string); isString && strings.EqualFold(s, "lost") && !contains(hints, hintAlert) {
			hints = append(hints, hintAlert)
		}
	}

	if ownerChanged(evt) {
		hints = append(hints, hintManager)
	}

	if strings.EqualFold(evt.Entity(), "deal") {
		hints = append(hints, hintSales)
	}

	return hints
}

func ownerChanged(evt *models.InboundEvent) bool {
	if strings.Contains(strings.ToLower(evt.Action()), "owner") {
		return true
	}
	for _, f := range ownerFields {
		prev, ok := evt.PreviousField(f)
		if !ok {
			continue
		}
		cur, _ := evt.CurrentField(f)
		if fmt.Sprintf("%v", prev) != fmt.Sprintf("%v", cur) {
			return true
		}
	}
	return false
}

func activeOnly(channels []models.Channel) []models.Channel {
	active := make([]models.Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.Active {
			active = append(active, ch)
		}
	}
	return active
}

func byID(channels []models.Channel, id string) *models.Channel {
	for i := range channels {
		if channels[i].ID == id {
			return &channels[i]
		}
	}
	return nil
}

func byNameFragment(channels []models.Channel, fragment string) *models.Channel {
	for i := range channels {
		if strings.Contains(strings.ToLower(channels[i].Name), fragment) {
			return &channels[i]
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
