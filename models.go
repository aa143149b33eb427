package main

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error         string           `json:"error"`
	Message       string           `json:"message,omitempty"`
	Kind          string           `json:"kind,omitempty"`
	Violations    []FieldViolation `json:"violations,omitempty"`
	Notifications []Notification   `json:"notifications,omitempty"`
}

// FieldValueOption represents a single distinct stored value of a field
type FieldValueOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// FieldValuesResponse represents the response for harvested field values
type FieldValuesResponse struct {
	FormID           string             `json:"form_id"`
	FieldID          string             `json:"field_id"`
	FieldName        string             `json:"field_name"`
	FieldType        FieldType          `json:"field_type"`
	Values           []FieldValueOption `json:"values"`
	TotalSubmissions int                `json:"total_submissions"`
}

// StatusFilterValue is a workflow status with the number of records in it
type StatusFilterValue struct {
	ID    *string `json:"id"`
	Label string  `json:"label"`
	Count int     `json:"count"`
}

// FormResponse is a form with one rendered widget per field
type FormResponse struct {
	Form          Form           `json:"form"`
	Widgets       []Widget       `json:"widgets"`
	Notifications []Notification `json:"notifications,omitempty"`
}

// WidgetResponse is returned after a draft edit or a capture
type WidgetResponse struct {
	Widget        Widget            `json:"widget"`
	Result        *CapabilityResult `json:"result,omitempty"`
	Notifications []Notification    `json:"notifications,omitempty"`
}

// SubmitResponse acknowledges a stored submission
type SubmitResponse struct {
	ID            string         `json:"id"`
	Notifications []Notification `json:"notifications,omitempty"`
}

// SubmissionRow is one line of the data table
type SubmissionRow struct {
	ID          string               `json:"id"`
	Status      *Status              `json:"status,omitempty"`
	Cells       map[string]string    `json:"cells"`
	Transitions []WorkflowTransition `json:"transitions,omitempty"`
	CreatedAt   string               `json:"created_at,omitempty"`
	UpdatedAt   string               `json:"updated_at,omitempty"`
}

// SubmissionListResponse is the data table for one form
type SubmissionListResponse struct {
	FormID  string          `json:"form_id"`
	Columns []Field         `json:"columns"`
	Count   int             `json:"count"`
	Results []SubmissionRow `json:"results"`
}

// TableView represents a saved data-table layout for a form
type TableView struct {
	ID               *int            `json:"id,omitempty"`
	FormID           string          `json:"form_id"`
	Name             string          `json:"name"`
	Description      *string         `json:"description,omitempty"`
	ColumnOrder      []string        `json:"column_order"`
	ColumnSizing     map[string]int  `json:"column_sizing"`
	ColumnVisibility map[string]bool `json:"column_visibility"`
	SortField        *string         `json:"sort_field,omitempty"`
	SortReverse      *bool           `json:"sort_reverse,omitempty"`
	IsGlobal         *bool           `json:"is_global,omitempty"`
	OwnerID          *string         `json:"owner_id,omitempty"`
	Username         *string         `json:"username,omitempty"`
	Created          *string         `json:"created,omitempty"`
	Modified         *string         `json:"modified,omitempty"`
}

// TableViewListResponse represents a list of table views
type TableViewListResponse struct {
	Count   int         `json:"count"`
	Results []TableView `json:"results"`
}
