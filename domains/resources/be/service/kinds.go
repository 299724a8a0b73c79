package service

// Kind describes one resource family exposed by the gateway. The three
// kinds share every piece of routing, auth and persistence plumbing and
// differ only in the values below.
type Kind struct {
	// Name is the singular noun used as the event prefix (lead.created).
	Name string
	// Plural is the URL segment and the list envelope's collection name.
	Plural string
	// TableName is the backing Postgres table.
	TableName string
	// FilterField is the single payload field list supports filtering on.
	FilterField string
	// DefaultLimit applies when the list request carries no limit.
	DefaultLimit int
	// Schema validates create payloads; PartialSchema validates updates,
	// where every field is optional but still type-checked when present.
	Schema        []byte
	PartialSchema []byte
}

// MaxLimit caps the list page size for every kind.
const MaxLimit = 100

// TenantFields are stripped from every inbound payload. Tenant ownership
// comes from the credential, never from the request body.
var TenantFields = []string{"tenant_id", "organization_id"}

var leadProperties = `{
	"name": {"type": "string", "minLength": 1, "maxLength": 255},
	"company": {"type": "string", "maxLength": 255},
	"email": {"type": "string", "maxLength": 320},
	"phone": {"type": "string", "maxLength": 64},
	"stage": {"type": "string", "enum": ["new", "contacted", "qualified", "proposal", "won", "lost"]},
	"value": {"type": "number", "minimum": 0},
	"notes": {"type": "string", "maxLength": 4000}
}`

var taskProperties = `{
	"title": {"type": "string", "minLength": 1, "maxLength": 255},
	"description": {"type": "string", "maxLength": 4000},
	"status": {"type": "string", "enum": ["todo", "in_progress", "blocked", "done"]},
	"assignee": {"type": "string", "maxLength": 255},
	"due_date": {"type": "string", "format": "date"}
}`

var metricProperties = `{
	"metric_type": {"type": "string", "minLength": 1, "maxLength": 128},
	"value": {"type": "number"},
	"unit": {"type": "string", "maxLength": 32},
	"recorded_at": {"type": "string", "format": "date-time"}
}`

// Kinds lists every resource family the gateway serves, keyed by the URL
// segment.
func Kinds() []Kind {
	return []Kind{
		{
			Name:          "lead",
			Plural:        "leads",
			TableName:     "leads",
			FilterField:   "stage",
			DefaultLimit:  50,
			Schema:        fullSchema(leadProperties, []string{"name"}),
			PartialSchema: partialSchema(leadProperties),
		},
		{
			Name:          "task",
			Plural:        "tasks",
			TableName:     "tasks",
			FilterField:   "status",
			DefaultLimit:  30,
			Schema:        fullSchema(taskProperties, []string{"title"}),
			PartialSchema: partialSchema(taskProperties),
		},
		{
			Name:          "metric",
			Plural:        "metrics",
			TableName:     "metric_snapshots",
			FilterField:   "metric_type",
			DefaultLimit:  30,
			Schema:        fullSchema(metricProperties, []string{"metric_type", "value"}),
			PartialSchema: partialSchema(metricProperties),
		},
	}
}

func fullSchema(properties string, required []string) []byte {
	req := ""
	for i, field := range required {
		if i > 0 {
			req += ", "
		}
		req += `"` + field + `"`
	}
	return []byte(`{
		"type": "object",
		"properties": ` + properties + `,
		"required": [` + req + `]
	}`)
}

func partialSchema(properties string) []byte {
	return []byte(`{
		"type": "object",
		"properties": ` + properties + `
	}`)
}
