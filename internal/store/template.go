package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// GetPromptTemplate fetches a PromptTemplate by category (§4.3 step 2).
func (s *Store) GetPromptTemplate(category string) (*PromptTemplate, error) {
	row := s.db.QueryRow(`SELECT id, category, template, variables, usage_count, success_rate FROM prompt_templates WHERE category = ?`, category)
	var pt PromptTemplate
	var variablesJSON string
	err := row.Scan(&pt.ID, &pt.Category, &pt.Template, &variablesJSON, &pt.UsageCount, &pt.SuccessRate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scanning prompt template: %w", err)
	}
	if err := json.Unmarshal([]byte(variablesJSON), &pt.Variables); err != nil {
		return nil, fmt.Errorf("store: decoding template variables: %w", err)
	}
	return &pt, nil
}

// UpsertPromptTemplate inserts or replaces a PromptTemplate's body, leaving
// usage counters untouched if the row already exists.
func (s *Store) UpsertPromptTemplate(pt PromptTemplate) error {
	variablesJSON, err := json.Marshal(pt.Variables)
	if err != nil {
		return fmt.Errorf("store: encoding template variables: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO prompt_templates (id, category, template, variables, usage_count, success_rate)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(category) DO UPDATE SET template = excluded.template, variables = excluded.variables`,
		pt.ID, pt.Category, pt.Template, string(variablesJSON), pt.UsageCount, pt.SuccessRate,
	)
	if err != nil {
		return fmt.Errorf("store: upserting prompt template: %w", err)
	}
	return nil
}

// defaultPromptTemplates are the out-of-the-box templates the LLM Review
// Worker needs for every code_review_* category (§4.3 step 2). Without
// these, a freshly deployed instance has no row to fall back to and every
// review job fails permanently before ever reaching the LLM.
var defaultPromptTemplates = []PromptTemplate{
	{
		ID:        "pt_default_code_review",
		Category:  "code_review",
		Template:  "Review the following change to {{change_title}}.\n\n{{file_contents}}\n\nRespond with a JSON object: overall_score (0-100), security_issues, performance_issues, bugs, suggested_improvements.",
		Variables: map[string]string{"change_title": "repository name", "file_contents": "joined changed-file contents"},
	},
	{
		ID:        "pt_default_code_review_security",
		Category:  "code_review_security",
		Template:  "Review the following change to {{change_title}} with a security focus.\n\n{{file_contents}}\n\nRespond with a JSON object: overall_score (0-100), security_issues, performance_issues, bugs, suggested_improvements.",
		Variables: map[string]string{"change_title": "repository name", "file_contents": "joined changed-file contents"},
	},
	{
		ID:        "pt_default_code_review_performance",
		Category:  "code_review_performance",
		Template:  "Review the following change to {{change_title}} with a performance focus.\n\n{{file_contents}}\n\nRespond with a JSON object: overall_score (0-100), security_issues, performance_issues, bugs, suggested_improvements.",
		Variables: map[string]string{"change_title": "repository name", "file_contents": "joined changed-file contents"},
	},
	{
		ID:        "pt_default_code_review_explain",
		Category:  "code_review_explain",
		Template:  "Explain the following change to {{change_title}} in plain language.\n\n{{file_contents}}\n\nRespond with a JSON object: overall_score (0-100), security_issues, performance_issues, bugs, suggested_improvements.",
		Variables: map[string]string{"change_title": "repository name", "file_contents": "joined changed-file contents"},
	},
}

// seedDefaultPromptTemplates inserts defaultPromptTemplates for any category
// that has no row yet, leaving operator-customized templates untouched.
func (s *Store) seedDefaultPromptTemplates() error {
	for _, pt := range defaultPromptTemplates {
		existing, err := s.GetPromptTemplate(pt.Category)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := s.UpsertPromptTemplate(pt); err != nil {
			return err
		}
	}
	return nil
}

// RecordTemplateUsage increments usage_count and folds outcome (1.0 success,
// 0.0 failure) into success_rate via an exponentially weighted moving
// average (§4.3 step 7).
func (s *Store) RecordTemplateUsage(category string, succeeded bool, alpha float64) error {
	pt, err := s.GetPromptTemplate(category)
	if err != nil {
		return err
	}
	if pt == nil {
		return fmt.Errorf("store: prompt template %q not found", category)
	}

	outcome := 0.0
	if succeeded {
		outcome = 1.0
	}
	newRate := pt.SuccessRate
	if pt.UsageCount == 0 {
		newRate = outcome
	} else {
		newRate = alpha*outcome + (1-alpha)*pt.SuccessRate
	}

	_, err = s.db.Exec(
		`UPDATE prompt_templates SET usage_count = usage_count + 1, success_rate = ? WHERE category = ?`,
		newRate, category,
	)
	if err != nil {
		return fmt.Errorf("store: recording template usage: %w", err)
	}
	return nil
}
