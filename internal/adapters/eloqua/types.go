package eloqua

// CustomObject is an Eloqua custom-object asset with its field catalog.
type CustomObject struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Fields      []CustomObjectField `json:"fields,omitempty"`
}

// CustomObjectField is one field of a custom object.
type CustomObjectField struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DataType    string `json:"dataType"`
	DisplayType string `json:"displayType,omitempty"`
}

// CustomObjectList is the paged asset listing envelope.
type CustomObjectList struct {
	Elements []CustomObject `json:"elements"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
}

// FieldValue is one field assignment on a custom-object record.
type FieldValue struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// CustomObjectRecord is a custom-object data row.
type CustomObjectRecord struct {
	ID          string       `json:"id,omitempty"`
	FieldValues []FieldValue `json:"fieldValues"`
}

// ContactField is one entry of the contact field catalog.
type ContactField struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	InternalName string `json:"internalName"`
	DataType     string `json:"dataType"`
}

// ContactFieldList is the contact field catalog envelope.
type ContactFieldList struct {
	Elements []ContactField `json:"elements"`
	Total    int            `json:"total"`
}

// Contact is an Eloqua contact record.
type Contact struct {
	ID           string       `json:"id"`
	EmailAddress string       `json:"emailAddress,omitempty"`
	FieldValues  []FieldValue `json:"fieldValues,omitempty"`
}

// Campaign is an Eloqua campaign asset.
type Campaign struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	CurrentStatus string `json:"currentStatus,omitempty"`
}

// CampaignList is the paged campaign listing envelope.
type CampaignList struct {
	Elements []Campaign `json:"elements"`
	Total    int        `json:"total"`
}

// SyncAction is one bulk-import side effect directive.
type SyncAction struct {
	Destination string `json:"destination"`
	Action      string `json:"action"`
	Value       string `json:"value,omitempty"`
	Status      string `json:"status,omitempty"`
}

// ImportDefinition declares a contact import with its field map and sync
// directives.
type ImportDefinition struct {
	Name                    string            `json:"name"`
	Fields                  map[string]string `json:"fields"`
	IdentifierFieldName     string            `json:"identifierFieldName"`
	IsSyncTriggeredOnImport bool              `json:"isSyncTriggeredOnImport"`
	DataRetentionDuration   string            `json:"dataRetentionDuration"`
	SyncActions             []SyncAction      `json:"syncActions,omitempty"`
	URI                     string            `json:"uri,omitempty"`
}

// Sync is a bulk sync trigger and its status.
type Sync struct {
	SyncedInstanceURI string `json:"syncedInstanceUri"`
	Status            string `json:"status,omitempty"`
	URI               string `json:"uri,omitempty"`
}

// StepDescription updates a step instance's record definition on the canvas.
type StepDescription struct {
	RecordDefinition      map[string]string `json:"recordDefinition"`
	RequiresConfiguration bool              `json:"requiresConfiguration"`
}

// CompletedContact is one successfully processed contact in an execution's
// completion batch.
type CompletedContact struct {
	ContactID string `json:"contactId"`
	Email     string `json:"email"`
	Mobile    string `json:"mobile"`
	Message   string `json:"message"`
	MessageID string `json:"message_id"`
	FromID    string `json:"from_id,omitempty"`
	Campaign  string `json:"campaign,omitempty"`
	RecordID  string `json:"record_id,omitempty"`
}

// ErroredContact is one failed contact in an execution's completion batch.
type ErroredContact struct {
	ContactID string `json:"contactId"`
	Email     string `json:"email"`
	Mobile    string `json:"mobile"`
	Message   string `json:"message"`
	Error     string `json:"error"`
}
