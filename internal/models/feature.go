package models

import "fmt"

// Feature is a gated product area. Closed set, validated at config load.
type Feature string

const (
	FeatureReports    Feature = "reports"
	FeatureExports    Feature = "exports"
	FeatureValuations Feature = "valuations"
	FeatureAPIAccess  Feature = "api_access"
)

// Features lists all valid features.
var Features = []Feature{FeatureReports, FeatureExports, FeatureValuations, FeatureAPIAccess}

// ParseFeature validates a feature name
func ParseFeature(s string) (Feature, error) {
	switch Feature(s) {
	case FeatureReports, FeatureExports, FeatureValuations, FeatureAPIAccess:
		return Feature(s), nil
	default:
		return "", fmt.Errorf("invalid feature: %q", s)
	}
}

// Action is an operation on a feature. Closed set, validated at config load.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionExport Action = "export"
)

// Actions lists all valid actions.
var Actions = []Action{ActionRead, ActionCreate, ActionExport}

// ParseAction validates an action name
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionRead, ActionCreate, ActionExport:
		return Action(s), nil
	default:
		return "", fmt.Errorf("invalid action: %q", s)
	}
}
