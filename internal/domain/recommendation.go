package domain

import (
	"encoding/json"
	"slices"
)

// ActionStep is one entry of a recommendation's action plan.
type ActionStep struct {
	Step        string `json:"step"`
	Description string `json:"description"`
	Timeline    string `json:"timeline"`
}

// CareerRecommendation is the structured answer the counsellor returns instead of prose.
type CareerRecommendation struct {
	RecommendationTitle string       `json:"recommendation_title"`
	RoleOverview        string       `json:"role_overview"`
	FitAnalysis         string       `json:"fit_analysis"`
	RequiredSkills      []string     `json:"required_skills"`
	EducationPath       string       `json:"education_path"`
	CareerLadder        string       `json:"career_ladder"`
	MarketInsights      string       `json:"market_insights"`
	ActionPlan          []ActionStep `json:"action_plan"`
	AlternativeCareers  []string     `json:"alternative_careers"`
}

// DecodeRecommendation reads a structured payload into a CareerRecommendation.
//
// It never fails: fields with the wrong JSON type are skipped, a payload that is
// not an object yields an empty recommendation, and missing lists come back as
// empty slices so the card renders without holes. ok reports whether the payload
// matched the expected shape without any skipped fields.
func DecodeRecommendation(raw json.RawMessage) (rec CareerRecommendation, ok bool) {
	// Unmarshal keeps going past type mismatches, so rec holds every field that did decode.
	err := json.Unmarshal(raw, &rec)
	rec.Normalize()
	return rec, err == nil
}

// Normalize replaces nil lists with empty ones.
func (r *CareerRecommendation) Normalize() {
	if r.RequiredSkills == nil {
		r.RequiredSkills = []string{}
	}
	if r.ActionPlan == nil {
		r.ActionPlan = []ActionStep{}
	}
	if r.AlternativeCareers == nil {
		r.AlternativeCareers = []string{}
	}
}

func (r *CareerRecommendation) clone() CareerRecommendation {
	c := *r
	c.RequiredSkills = slices.Clone(r.RequiredSkills)
	c.ActionPlan = slices.Clone(r.ActionPlan)
	c.AlternativeCareers = slices.Clone(r.AlternativeCareers)
	return c
}
