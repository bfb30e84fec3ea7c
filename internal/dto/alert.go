package dto

// CreateAlertRuleRequest declares a threshold rule.
type CreateAlertRuleRequest struct {
	Name            string   `json:"name" binding:"required"`
	Target          string   `json:"target" binding:"required"`
	Field           string   `json:"field" binding:"required"`
	Operator        string   `json:"operator" binding:"required"`
	Threshold       float64  `json:"threshold"`
	Channels        []string `json:"channels" binding:"required,min=1"`
	CooldownSeconds int64    `json:"cooldown_seconds,omitempty"`
}

// SetRuleActiveRequest toggles a rule.
type SetRuleActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}
