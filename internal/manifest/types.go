package manifest

// FieldType enumerates the entity field types spec.md §3 names.
type FieldType string

const (
	FieldUUID     FieldType = "uuid"
	FieldString   FieldType = "string"
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldBoolean  FieldType = "boolean"
	FieldEnum     FieldType = "enum"
	FieldDate     FieldType = "date"
	FieldDatetime FieldType = "datetime"
	FieldLookup   FieldType = "lookup"
	FieldTags     FieldType = "tags"
)

// typePriority orders field types for baseline-scaffold column selection
// per spec.md §4.4 step 6: "string < text < enum < date < datetime <
// lookup < number < boolean".
var typePriority = map[FieldType]int{
	FieldString:   0,
	FieldText:     1,
	FieldEnum:     2,
	FieldDate:     3,
	FieldDatetime: 4,
	FieldLookup:   5,
	FieldNumber:   6,
	FieldBoolean:  7,
}

// TypePriority returns the baseline-scaffold sort priority for a field
// type; unknown types sort last.
func TypePriority(t FieldType) int {
	if p, ok := typePriority[t]; ok {
		return p
	}
	return len(typePriority)
}

// EventName enumerates the trigger event kinds spec.md §3 names.
type EventName string

const (
	EventRecordCreated        EventName = "record.created"
	EventRecordUpdated        EventName = "record.updated"
	EventWorkflowStatusChanged EventName = "workflow.status_changed"
	EventActionClicked        EventName = "action.clicked"
)

// ActionKind enumerates the action kinds spec.md §3 names.
type ActionKind string

const (
	ActionNavigate     ActionKind = "navigate"
	ActionOpenForm     ActionKind = "open_form"
	ActionRefresh      ActionKind = "refresh"
	ActionCreateRecord ActionKind = "create_record"
	ActionUpdateRecord ActionKind = "update_record"
	ActionBulkUpdate   ActionKind = "bulk_update"
)

// WriteActionKinds are the action kinds that perform a transactional write.
var WriteActionKinds = map[ActionKind]bool{
	ActionCreateRecord: true,
	ActionUpdateRecord: true,
	ActionBulkUpdate:   true,
}

// NavigationActionKinds are the action kinds that only return a navigation
// target and emit action.clicked (spec.md §4.7 step 4).
var NavigationActionKinds = map[ActionKind]bool{
	ActionNavigate: true,
	ActionOpenForm: true,
	ActionRefresh:  true,
}

// AllowedActionKinds is the full set any action's kind must belong to.
var AllowedActionKinds = map[ActionKind]bool{
	ActionNavigate: true, ActionOpenForm: true, ActionRefresh: true,
	ActionCreateRecord: true, ActionUpdateRecord: true, ActionBulkUpdate: true,
}

// SystemModuleIDs are the modules whose lifecycle (enable/disable/rollback/
// delete) cannot be mutated, per spec.md §4.3.
var SystemModuleIDs = map[string]bool{
	"studio": true, "settings": true, "audit": true, "diagnostics": true, "auth": true,
}

// StatusFieldSuffixes are the "lifecycle-like" status_field suffixes
// spec.md §3 requires for a workflow's status_field.
var StatusFieldSuffixes = []string{".status", ".state", ".stage"}

// IsLifecycleLike reports whether fieldID ends in one of the recognized
// lifecycle suffixes.
func IsLifecycleLike(fieldID string) bool {
	for _, suf := range StatusFieldSuffixes {
		if len(fieldID) > len(suf) && fieldID[len(fieldID)-len(suf):] == suf {
			return true
		}
	}
	return false
}

// Field is a typed view of an entity field declaration.
type Field struct {
	ID           string
	Type         FieldType
	Required     bool
	Readonly     bool
	EnumOptions  []any
	LookupTarget string
	DisplayField string
	Raw          Doc
}

// FieldFromDoc decodes a field declaration Doc into a typed Field view.
func FieldFromDoc(d Doc) Field {
	f := Field{
		ID:       Str(d, "id"),
		Type:     FieldType(Str(d, "type")),
		Required: Bool(d, "required", false),
		Readonly: Bool(d, "readonly", false),
		Raw:      d,
	}
	if opts, ok := d["options"]; ok {
		if l, ok := opts.([]any); ok {
			f.EnumOptions = l
		}
	}
	for _, key := range []string{"target", "entity", "entity_id"} {
		if v := Str(d, key); v != "" {
			f.LookupTarget = v
			break
		}
	}
	f.DisplayField = Str(d, "display_field")
	return f
}

// Entity is a typed view over an entity's declaration and its fields.
type Entity struct {
	ID           string
	DisplayField string
	Fields       []Field
	Raw          Doc
}

// Slug returns the entity's slug ("entity.job" -> "job").
func (e Entity) Slug() string {
	slug, _ := EntitySlug(e.ID)
	return slug
}

// FieldByID returns the field with the given id, or (Field{}, false).
func (e Entity) FieldByID(id string) (Field, bool) {
	for _, f := range e.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// EntityFromDoc decodes an entity declaration Doc into a typed Entity view.
func EntityFromDoc(d Doc) Entity {
	e := Entity{ID: Str(d, "id"), DisplayField: Str(d, "display_field"), Raw: d}
	for _, fd := range AsDocSlice(List(d, "fields")) {
		e.Fields = append(e.Fields, FieldFromDoc(fd))
	}
	return e
}

// Workflow is a typed view over a workflow declaration.
type Workflow struct {
	ID          string
	Entity      string
	StatusField string
	States      []Doc
	Raw         Doc
}

// WorkflowFromDoc decodes a workflow declaration Doc into a typed view.
func WorkflowFromDoc(d Doc) Workflow {
	return Workflow{
		ID:          Str(d, "id"),
		Entity:      Str(d, "entity"),
		StatusField: Str(d, "status_field"),
		States:      AsDocSlice(List(d, "states")),
		Raw:         d,
	}
}

// StateIDs returns the ordered list of state ids.
func (w Workflow) StateIDs() []string {
	out := make([]string, 0, len(w.States))
	for _, s := range w.States {
		out = append(out, Str(s, "id"))
	}
	return out
}
