/*-------------------------------------------------------------------------
 *
 * schemas.go
 *    JSON schemas for structured model output
 *
 * Model output is validated against these before it is decoded into Go
 * types, so a response missing a field or carrying an unknown action
 * kind is rejected rather than half-applied.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/clients/inference/schemas.go
 *
 *-------------------------------------------------------------------------
 */

package inference

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const proposalsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["actions", "summary"],
  "properties": {
    "summary": {"type": "string"},
    "actions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["action_type", "target_entity_type", "target_entity_id", "target_entity_name",
                     "current_value", "proposed_value", "reasoning", "confidence_score"],
        "properties": {
          "action_type": {"enum": ["increase_budget", "decrease_budget", "pause", "resume", "adjust_bid", "no_action"]},
          "target_entity_type": {"enum": ["campaign", "adset", "ad"]},
          "target_entity_id": {"type": "string"},
          "target_entity_name": {"type": "string"},
          "current_value": {"type": "object"},
          "proposed_value": {"type": "object"},
          "reasoning": {"type": "string", "minLength": 1},
          "confidence_score": {"type": "number", "minimum": 0, "maximum": 1},
          "urgency": {"enum": ["low", "medium", "high"]}
        }
      }
    }
  }
}`

const reportSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["top_ads", "dominant_format", "avg_longevity_days", "key_insights", "recommended_tests", "confidence"],
  "properties": {
    "top_ads": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["ad_id", "page_name", "media_type", "active_days", "why_it_works", "hook_pattern", "cta_pattern"],
        "properties": {
          "ad_id": {"type": "string"},
          "page_name": {"type": "string"},
          "media_type": {"type": "string"},
          "active_days": {"type": "number", "minimum": 0},
          "why_it_works": {"type": "string"},
          "hook_pattern": {"type": "string"},
          "cta_pattern": {"type": "string"}
        }
      }
    },
    "dominant_format": {"type": "string"},
    "avg_longevity_days": {"type": "number", "minimum": 0},
    "key_insights": {"type": "string"},
    "recommended_tests": {"type": "array", "items": {"type": "string"}},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

type schemas struct {
	proposals *jsonschema.Schema
	report    *jsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	proposals, err := compile("proposals.json", proposalsSchema)
	if err != nil {
		return nil, err
	}
	report, err := compile("report.json", reportSchema)
	if err != nil {
		return nil, err
	}
	return &schemas{proposals: proposals, report: report}, nil
}

func compile(name, source string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(name, strings.NewReader(source)); err != nil {
		return nil, fmt.Errorf("schema resource failed: name='%s', error=%w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("schema compilation failed: name='%s', error=%w", name, err)
	}
	return schema, nil
}
