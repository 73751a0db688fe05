package similarity

import "github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/contract"

// TypeScore rates how well an observed source type fits a canonical type.
func TypeScore(sourceType string, target contract.FieldType) float64 {
	if sourceType == "" || sourceType == "null" {
		return 0.5
	}
	switch target {
	case contract.TypeString:
		switch sourceType {
		case "string", "uuid":
			return 1.0
		case "integer", "number", "boolean", "timestamp":
			return 0.7
		}
	case contract.TypeNumber:
		switch sourceType {
		case "number":
			return 1.0
		case "integer":
			return 0.9
		case "string":
			return 0.4
		}
	case contract.TypeInteger:
		switch sourceType {
		case "integer":
			return 1.0
		case "number":
			return 0.7
		case "string":
			return 0.4
		}
	case contract.TypeBoolean:
		switch sourceType {
		case "boolean":
			return 1.0
		case "string", "integer":
			return 0.4
		}
	case contract.TypeTimestamp:
		switch sourceType {
		case "timestamp":
			return 1.0
		case "string", "integer":
			return 0.4
		}
	}
	return 0.0
}

// TransformFor picks the coercion needed to land sourceType in target.
func TransformFor(sourceType string, target contract.FieldType) string {
	switch target {
	case contract.TypeNumber:
		if sourceType != "number" && sourceType != "integer" {
			return "number"
		}
	case contract.TypeInteger:
		return "integer"
	case contract.TypeTimestamp:
		// Sampled timestamps arrive as strings even when typed "timestamp".
		return "timestamp"
	case contract.TypeBoolean:
		if sourceType != "boolean" {
			return "boolean"
		}
	case contract.TypeString:
		if sourceType != "string" && sourceType != "uuid" && sourceType != "" && sourceType != "null" {
			return "string"
		}
	}
	return ""
}
