package merge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Entity names double as schema resource names and as merge report labels.
const (
	EntityOperationType  = "operation_type"
	EntitySellers        = "sellers"
	EntityBuyers         = "buyers"
	EntityCredits        = "credits"
	EntityLiens          = "liens"
	EntityProperty       = "property"
	EntityFolioCandidate = "folio_candidates"
	EntityFolioSelection = "folio_selection"
	EntityPendingIntent  = "pending_document_intent"
	EntityPendingPeople  = "pending_people"
)

const (
	nullableString = `{"type": ["string", "null"]}`
	nullableBool   = `{"type": ["boolean", "null"]}`
	numberish      = `{"type": ["number", "string", "null"]}`
	triState       = `{"type": ["boolean", "string", "null"]}`
)

var spouseSchema = `{
	"type": ["object", "null"],
	"properties": {
		"name": ` + nullableString + `,
		"tax_id": ` + nullableString + `,
		"national_id": ` + nullableString + `,
		"confirmed": ` + nullableBool + `
	}
}`

var partyListSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"properties": {
			"party_id": ` + nullableString + `,
			"person_type": ` + nullableString + `,
			"name": ` + nullableString + `,
			"tax_id": ` + nullableString + `,
			"national_id": ` + nullableString + `,
			"marital_status": ` + nullableString + `,
			"spouse": ` + spouseSchema + `,
			"company_name": ` + nullableString + `,
			"company_tax_id": ` + nullableString + `,
			"name_confirmed": ` + nullableBool + `,
			"tax_id_confirmed": ` + nullableBool + `,
			"marital_status_confirmed": ` + nullableBool + `,
			"spouse_confirmed": ` + nullableBool + `
		}
	}
}`

var creditListSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"properties": {
			"credit_id": ` + nullableString + `,
			"institution": ` + nullableString + `,
			"amount": ` + numberish + `,
			"credit_type": ` + nullableString + `,
			"participants": {
				"type": ["array", "null"],
				"items": {
					"type": "object",
					"properties": {
						"party_id": ` + nullableString + `,
						"name": ` + nullableString + `,
						"role": {"enum": ["principal", "co_principal", "coprincipal", "co-principal", "", null]}
					}
				}
			}
		}
	}
}`

var lienListSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"properties": {
			"institution": ` + nullableString + `,
			"cancellation_confirmed": ` + triState + `
		}
	}
}`

var propertySchema = `{
	"type": "object",
	"properties": {
		"folio_real": ` + numberish + `,
		"parcels": {"type": ["array", "null"], "items": {"type": ["string", "number"]}},
		"address": {"type": ["object", "string", "null"]},
		"surface_area": ` + numberish + `,
		"value": ` + numberish + `,
		"cadastral_data": {"type": ["object", "null"]},
		"has_mortgage": ` + triState + `
	}
}`

var folioCandidateListSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["folio"],
		"properties": {
			"folio": {"type": ["string", "number"]},
			"scope": ` + nullableString + `,
			"attrs": {"type": ["object", "null"]},
			"sources": {"type": ["array", "null"], "items": {"type": "string"}}
		}
	}
}`

var folioSelectionSchema = `{
	"type": "object",
	"properties": {
		"selected_folio": ` + numberish + `,
		"selected_scope": ` + nullableString + `,
		"confirmed_by_user": ` + nullableBool + `
	}
}`

var schemaSources = map[string]string{
	EntityOperationType:  nullableString,
	EntitySellers:        partyListSchema,
	EntityBuyers:         partyListSchema,
	EntityCredits:        creditListSchema,
	EntityLiens:          lienListSchema,
	EntityProperty:       propertySchema,
	EntityFolioCandidate: folioCandidateListSchema,
	EntityFolioSelection: folioSelectionSchema,
	EntityPendingIntent:  nullableString,
	EntityPendingPeople:  `{"type": ["array", "null"], "items": {"type": "string"}}`,
}

type schemaSet map[string]*jsonschema.Schema

var schemas = mustCompileSchemas()

func mustCompileSchemas() schemaSet {
	compiler := jsonschema.NewCompiler()
	for name, src := range schemaSources {
		if err := compiler.AddResource(name+".json", strings.NewReader(src)); err != nil {
			panic(fmt.Sprintf("merge: add schema %s: %v", name, err))
		}
	}
	out := make(schemaSet, len(schemaSources))
	for name := range schemaSources {
		s, err := compiler.Compile(name + ".json")
		if err != nil {
			panic(fmt.Sprintf("merge: compile schema %s: %v", name, err))
		}
		out[name] = s
	}
	return out
}

// validate checks one raw entity payload against its schema.
func (s schemaSet) validate(entity string, raw json.RawMessage) error {
	schema, ok := s[entity]
	if !ok {
		return fmt.Errorf("no schema for entity %q", entity)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
