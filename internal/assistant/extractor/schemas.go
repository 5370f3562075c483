package extractor

import (
	"jira-support-bot/internal/common/jira"
	"jira-support-bot/internal/common/validation"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

var (
	projectKeyProp = validation.Property{Type: "string", Pattern: strPtr(jira.ProjectKeyPattern), Description: "Project key"}
	issueKeyProp   = validation.Property{Type: "string", Pattern: strPtr(`^[A-Z][A-Z0-9]{1,9}-[0-9]+$`), Description: "Epic key"}
	numericIDProp  = validation.Property{Type: "string", Pattern: strPtr(`^[0-9]+$`)}
	textProp       = validation.Property{Type: "string", MinLength: intPtr(1), MaxLength: intPtr(255)}
)

func schema(required ...Slot) *validation.Validator {
	s := validation.JSONSchema{
		Type: "object",
		Properties: map[string]validation.Property{
			string(SlotContainerKey):      projectKeyProp,
			string(SlotItemTitle):         textProp,
			string(SlotWindowContainerID): numericIDProp,
			string(SlotItemName):          textProp,
		},
	}
	for _, slot := range required {
		s.Required = append(s.Required, string(slot))
	}
	return validation.MustCompile(s)
}

func withItemKey(v *validation.Validator, keyProp validation.Property) *validation.Validator {
	s := v.Schema()
	props := make(map[string]validation.Property, len(s.Properties)+1)
	for k, p := range s.Properties {
		props[k] = p
	}
	props[string(SlotItemKey)] = keyProp
	s.Properties = props
	return validation.MustCompile(s)
}

// requiredSlots declares, per operation, the slots that must resolve, in
// the order they are asked for.
var requiredSlots = map[Operation]*validation.Validator{
	ListContainers:  withItemKey(schema(), issueKeyProp),
	GetContainer:    withItemKey(schema(SlotItemKey), issueKeyProp),
	CreateContainer: withItemKey(schema(SlotContainerKey, SlotItemTitle), issueKeyProp),
	UpdateContainer: withItemKey(schema(SlotItemKey, SlotItemTitle), issueKeyProp),
	ListWindows:     withItemKey(schema(), numericIDProp),
	GetWindow:       withItemKey(schema(SlotItemKey), numericIDProp),
	CreateWindow:    withItemKey(schema(SlotItemName, SlotWindowContainerID), numericIDProp),
	UpdateWindow:    withItemKey(schema(SlotItemKey, SlotItemName), numericIDProp),
	ListWindowItems: withItemKey(schema(SlotItemKey), numericIDProp),
}

// RequiredSlots returns the declared required slots of an operation.
func RequiredSlots(op Operation) []Slot {
	v, ok := requiredSlots[op]
	if !ok {
		return nil
	}
	var out []Slot
	for _, name := range v.Schema().Required {
		out = append(out, Slot(name))
	}
	return out
}

func checkRequired(params *Parameters) error {
	v, ok := requiredSlots[params.Operation]
	if !ok {
		return nil
	}

	result, err := v.Validate(params.Map())
	if err != nil {
		return err
	}
	if result.Valid {
		return nil
	}

	if slot, failed := result.FirstFailing(v.Schema().Required); failed {
		return &MissingSlotError{Slot: Slot(slot), Operation: params.Operation}
	}

	// an optional slot held an unusable value; drop it rather than send it
	for _, e := range result.Errors {
		delete(params.Values, Slot(e.Field))
	}
	return nil
}
