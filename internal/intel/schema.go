package intel

import "github.com/santhosh-tekuri/jsonschema/v5"

// Stage output schemas. additionalProperties is false everywhere: a
// response with fields we did not ask for goes back through the repair
// loop instead of being silently accepted.

const rcaSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["classification", "primary_hypothesis"],
  "properties": {
    "classification": {
      "type": "object",
      "additionalProperties": false,
      "required": ["category", "confidence", "reasoning"],
      "properties": {
        "category": {"type": "string", "enum": ["infrastructure", "dependency", "code", "configuration", "test", "flaky", "security", "unknown"]},
        "confidence": {"type": "number", "minimum": 0, "maximum": 1},
        "reasoning": {"type": "string"},
        "indicators": {"type": "array", "items": {"type": "string"}},
        "secondary": {"type": "string"}
      }
    },
    "primary_hypothesis": {"$ref": "#/$defs/hypothesis"},
    "alternative_hypotheses": {"type": "array", "items": {"$ref": "#/$defs/hypothesis"}},
    "affected_files": {"type": "array", "items": {"type": "string"}},
    "similar_incidents": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "run_id": {"type": "string"},
          "repo": {"type": "string"},
          "failure_type": {"type": "string"},
          "status": {"type": "string"},
          "similarity": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    }
  },
  "$defs": {
    "hypothesis": {
      "type": "object",
      "additionalProperties": false,
      "required": ["description", "confidence"],
      "properties": {
        "description": {"type": "string"},
        "confidence": {"type": "number", "minimum": 0, "maximum": 1},
        "evidence": {"type": "array", "items": {"type": "string"}},
        "suggested_fix": {"type": "string"}
      }
    }
  }
}`

const planSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["root_cause", "category", "confidence", "files", "operations"],
  "properties": {
    "root_cause": {"type": "string"},
    "category": {"type": "string", "enum": ["infrastructure", "dependency", "code", "configuration", "test", "flaky", "security", "unknown"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "files": {"type": "array", "items": {"type": "string"}},
    "operations": {
      "type": "array",
      "minItems": 1,
      "maxItems": 10,
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["type", "file", "details", "rationale"],
        "properties": {
          "type": {"type": "string", "enum": ["add_dependency", "pin_dependency", "update_config", "modify_code", "remove_unused"]},
          "file": {"type": "string"},
          "details": {"type": "object"},
          "rationale": {"type": "string"},
          "evidence": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

const criticSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["allowed", "hallucination_risk", "reasoning_consistency"],
  "properties": {
    "allowed": {"type": "boolean"},
    "hallucination_risk": {"type": "number", "minimum": 0, "maximum": 1},
    "reasoning_consistency": {"type": "number", "minimum": 0, "maximum": 1},
    "issues": {"type": "array", "items": {"type": "string"}},
    "requires_manual_review": {"type": "boolean"},
    "recommended_label": {"type": "string", "enum": ["safe", "needs-review"]}
  }
}`

var (
	rcaSchema    = jsonschema.MustCompileString("rca.json", rcaSchemaJSON)
	planSchema   = jsonschema.MustCompileString("plan.json", planSchemaJSON)
	criticSchema = jsonschema.MustCompileString("critic.json", criticSchemaJSON)
)
