// Package extractor resolves the tracking system operation and its slot
// values from a chat message. Slots come from one ordered pattern table;
// required slots are declared per operation as JSON Schemas.
package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"jira-support-bot/internal/assistant/intent"
	apperrors "jira-support-bot/internal/common/errors"
)

type Operation string

const (
	ListContainers  Operation = "list_containers"
	GetContainer    Operation = "get_container"
	CreateContainer Operation = "create_container"
	UpdateContainer Operation = "update_container"
	ListWindows     Operation = "list_windows"
	GetWindow       Operation = "get_window"
	CreateWindow    Operation = "create_window"
	UpdateWindow    Operation = "update_window"
	ListWindowItems Operation = "list_window_items"
)

// IsMutation reports whether the operation writes.
func (o Operation) IsMutation() bool {
	switch o {
	case CreateContainer, UpdateContainer, CreateWindow, UpdateWindow:
		return true
	}
	return false
}

func (o Operation) isUpdate() bool {
	return o == UpdateContainer || o == UpdateWindow
}

type Slot string

const (
	SlotContainerKey      Slot = "container_key"
	SlotItemTitle         Slot = "item_title"
	SlotWindowContainerID Slot = "window_container_id"
	SlotItemName          Slot = "item_name"
	SlotItemKey           Slot = "item_key"
)

// Label is the wording used when asking the user for a slot.
func (s Slot) Label(op Operation) string {
	switch s {
	case SlotContainerKey:
		return "project key"
	case SlotItemTitle:
		return "epic title"
	case SlotWindowContainerID:
		return "board ID"
	case SlotItemName:
		return "sprint name"
	case SlotItemKey:
		if strings.Contains(string(op), "container") {
			return "epic key"
		}
		return "sprint ID"
	}
	return string(s)
}

// Parameters is the outcome of a successful extraction. Absent slots are
// absent from Values, never defaulted.
type Parameters struct {
	Operation Operation
	Values    map[Slot]string
}

func (p *Parameters) Get(slot Slot) (string, bool) {
	v, ok := p.Values[slot]
	return v, ok
}

// Map returns the slot values keyed by slot name.
func (p *Parameters) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(p.Values))
	for k, v := range p.Values {
		out[string(k)] = v
	}
	return out
}

// MissingSlotError names the first required slot that could not be resolved.
type MissingSlotError struct {
	Slot      Slot
	Operation Operation
}

func (e *MissingSlotError) Error() string {
	return fmt.Sprintf("missing required %s for %s", e.Slot, e.Operation)
}

// Is matches the application missing-slot code.
func (e *MissingSlotError) Is(target error) bool {
	std, ok := target.(*apperrors.StandardError)
	return ok && std.Code == apperrors.ErrCodeMissingSlot
}

// Standard converts to the application error taxonomy.
func (e *MissingSlotError) Standard() *apperrors.StandardError {
	return apperrors.NewMissingSlotError(string(e.Operation), string(e.Slot))
}

type scope int

const (
	scopeContainer scope = iota + 1
	scopeWindow
)

func scopeOf(i intent.Intent) scope {
	if i.IsContainer() {
		return scopeContainer
	}
	return scopeWindow
}

type pattern struct {
	slot       Slot
	scope      scope
	re         *regexp.Regexp
	updateOnly bool
	freeText   bool
	normalize  func(string) (string, bool)
}

var (
	updateVerbs     = regexp.MustCompile(`(?i)\b(update|modify|change|edit|rename)\b`)
	windowItemsVerb = regexp.MustCompile(`(?i)\b(issues|items|tickets|stories|tasks|work)\b.*\b(in|of|for|from)\s+sprint\s+#?\d+\b`)
	freeTextStops   = regexp.MustCompile(`(?i)\s+(in|on)\s+board\b|\s+(in|for)\s+project\b|\s+\w+\s*[:=]`)
	trailingKey     = regexp.MustCompile(`^(.+?)\s+in\s+([A-Z][A-Z0-9]{1,9})$`)
)

// keyStopWords are words that follow "in" without being a project key.
var keyStopWords = map[string]bool{
	"THE": true, "A": true, "AN": true, "BOARD": true, "PROJECT": true, "MY": true,
	"OUR": true, "YOUR": true, "THIS": true, "THAT": true, "IT": true, "JIRA": true,
	"SPRINT": true, "EPIC": true, "PROGRESS": true, "ORDER": true, "GENERAL": true,
}

func projectKey(v string) (string, bool) {
	v = strings.ToUpper(v)
	if keyStopWords[v] {
		return "", false
	}
	return v, true
}

func upper(v string) (string, bool) {
	return strings.ToUpper(v), true
}

// patterns is evaluated top to bottom; natural phrasings precede key=value
// phrasings and the first match per slot wins.
var patterns = []pattern{
	// free text first so its span is excluded from key matching
	{slot: SlotItemTitle, scope: scopeContainer, updateOnly: true, freeText: true, re: regexp.MustCompile(`(?i)\b(?:rename|change|update|set)\b.*?\bto\s+(.+)`)},
	{slot: SlotItemTitle, scope: scopeContainer, freeText: true, re: regexp.MustCompile(`(?i)\b(?:with\s+)?(?:title|titled|summary|called|named)\s+(.+)`)},
	{slot: SlotItemTitle, scope: scopeContainer, freeText: true, re: regexp.MustCompile(`(?i)\b(?:title|summary)\s*[:=]\s*(.+)`)},

	{slot: SlotItemName, scope: scopeWindow, updateOnly: true, freeText: true, re: regexp.MustCompile(`(?i)\b(?:rename|change|update|set)\b.*?\bto\s+(.+)`)},
	{slot: SlotItemName, scope: scopeWindow, freeText: true, re: regexp.MustCompile(`(?i)\b(?:named|called)\s+(.+)`)},
	{slot: SlotItemName, scope: scopeWindow, freeText: true, re: regexp.MustCompile(`(?i)\bwith\s+(?:the\s+)?name\s+(.+)`)},
	{slot: SlotItemName, scope: scopeWindow, freeText: true, re: regexp.MustCompile(`(?i)\bname\s*[:=]\s*(.+)`)},

	{slot: SlotItemKey, scope: scopeContainer, normalize: upper, re: regexp.MustCompile(`(?i)\b([a-z][a-z0-9]{1,9}-\d+)\b`)},
	{slot: SlotItemKey, scope: scopeContainer, normalize: upper, re: regexp.MustCompile(`(?i)\b(?:key|epic)\s*[:=]\s*([a-z][a-z0-9]{1,9}-\d+)\b`)},
	{slot: SlotItemKey, scope: scopeWindow, re: regexp.MustCompile(`(?i)\bsprint\s+(?:id\s+)?#?(\d+)\b`)},
	{slot: SlotItemKey, scope: scopeWindow, re: regexp.MustCompile(`(?i)\b(?:sprint_id|sprint|id)\s*[:=]\s*(\d+)\b`)},

	{slot: SlotContainerKey, scope: scopeContainer, normalize: projectKey, re: regexp.MustCompile(`(?i)\bproject\s+([a-z][a-z0-9]{1,9})\b`)},
	{slot: SlotContainerKey, scope: scopeContainer, normalize: projectKey, re: regexp.MustCompile(`(?i)\bin\s+([a-z][a-z0-9]{1,9})\b`)},
	{slot: SlotContainerKey, scope: scopeContainer, normalize: upper, re: regexp.MustCompile(`(?i)\b(?:project|project_key)\s*[:=]\s*([a-z][a-z0-9]{1,9})\b`)},

	{slot: SlotWindowContainerID, scope: scopeWindow, re: regexp.MustCompile(`(?i)\bboard\s+(?:id\s+)?#?(\d+)\b`)},
	{slot: SlotWindowContainerID, scope: scopeWindow, re: regexp.MustCompile(`(?i)\b(?:board|board_id)\s*[:=]\s*(\d+)\b`)},
}

// Extractor is stateless and safe for concurrent use.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

// Extract selects the operation for a resource intent and resolves its
// slots. It returns *MissingSlotError when a required slot is absent.
func (e *Extractor) Extract(text string, in intent.Intent) (*Parameters, error) {
	if !in.IsResource() {
		return nil, fmt.Errorf("intent %q has no tracking system operation", in)
	}

	op := selectOperation(text, in)
	values := resolveSlots(text, scopeOf(in), op.isUpdate())

	// Queries with a concrete key read that single resource.
	if op == ListContainers || op == ListWindows {
		if _, ok := values[SlotItemKey]; ok {
			if op == ListContainers {
				op = GetContainer
			} else {
				op = GetWindow
			}
		}
	}

	params := &Parameters{Operation: op, Values: values}
	if err := checkRequired(params); err != nil {
		return nil, err
	}
	return params, nil
}

func selectOperation(text string, in intent.Intent) Operation {
	switch in {
	case intent.ContainerMutate:
		if updateVerbs.MatchString(text) {
			return UpdateContainer
		}
		return CreateContainer
	case intent.WindowMutate:
		if updateVerbs.MatchString(text) {
			return UpdateWindow
		}
		return CreateWindow
	case intent.WindowQuery:
		if windowItemsVerb.MatchString(text) {
			return ListWindowItems
		}
		return ListWindows
	default:
		return ListContainers
	}
}

func resolveSlots(text string, sc scope, update bool) map[Slot]string {
	values := map[Slot]string{}
	residual := text

	for _, p := range patterns {
		if p.scope != sc || (p.updateOnly && !update) {
			continue
		}
		if _, done := values[p.slot]; done {
			continue
		}

		loc := p.re.FindStringSubmatchIndex(residual)
		if loc == nil {
			continue
		}
		raw := residual[loc[2]:loc[3]]

		var value string
		ok := true
		if p.freeText {
			value = cutFreeText(raw)
			ok = value != ""
		} else {
			value = strings.TrimSpace(raw)
			if p.normalize != nil {
				value, ok = p.normalize(value)
			}
		}
		if !ok {
			continue
		}

		values[p.slot] = value
		if p.freeText {
			// blank the consumed value so later key patterns cannot match inside it
			end := loc[2] + len(cutSpan(raw))
			residual = residual[:loc[2]] + strings.Repeat(" ", end-loc[2]) + residual[end:]
		}
	}

	if sc == scopeContainer {
		splitTrailingKey(values)
	}
	return values
}

// splitTrailingKey moves an uppercase "in KEY" at the end of a title into
// the project key slot when nothing else named the project.
func splitTrailingKey(values map[Slot]string) {
	if _, ok := values[SlotContainerKey]; ok {
		return
	}
	title, ok := values[SlotItemTitle]
	if !ok {
		return
	}
	m := trailingKey.FindStringSubmatch(title)
	if m == nil {
		return
	}
	key, ok := projectKey(m[2])
	if !ok {
		return
	}
	values[SlotItemTitle] = strings.TrimSpace(m[1])
	values[SlotContainerKey] = key
}

// cutSpan returns the prefix of a free-text capture before the first stop
// phrase.
func cutSpan(raw string) string {
	if loc := freeTextStops.FindStringIndex(raw); loc != nil {
		return raw[:loc[0]]
	}
	return raw
}

func cutFreeText(raw string) string {
	v := strings.TrimSpace(cutSpan(raw))
	v = strings.TrimRight(v, ".?!")
	v = strings.TrimSpace(v)
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	return v
}
