// ABOUTME: Static output schemas for CRM-object connections keyed by object type and read action.
// ABOUTME: CRM reads are never probed; the field list per object type is fixed.
package connector

import "github.com/spyglass-search/talos/workflow"

// crmFields lists the flat record fields returned for each CRM object type.
var crmFields = map[string][]string{
	"contacts": {"id", "firstname", "lastname", "email", "phone", "company", "jobtitle", "lifecyclestage"},
	"calls":    {"id", "hs_timestamp", "hs_call_title", "hs_call_body", "hs_call_direction", "hs_call_duration", "hs_call_status"},
	"emails":   {"id", "hs_timestamp", "hs_email_subject", "hs_email_text", "hs_email_direction", "hs_email_status"},
	"meetings": {"id", "hs_timestamp", "hs_meeting_title", "hs_meeting_body", "hs_meeting_start_time", "hs_meeting_end_time", "hs_meeting_outcome"},
	"notes":    {"id", "hs_timestamp", "hs_note_body"},
	"tasks":    {"id", "hs_timestamp", "hs_task_subject", "hs_task_body", "hs_task_status", "hs_task_priority"},
}

// CRMObjectTypes returns the supported CRM object types.
func CRMObjectTypes() []string {
	return workflow.SortedKeys(crmFields)
}

// CRMSchema returns the output schema of a CRM read: a flat record for
// singleObject, an array of flat records for relatedObjects and all. It
// returns nil for unknown object types or actions.
func CRMSchema(objectType, action string) *workflow.PropertyDef {
	fields, ok := crmFields[objectType]
	if !ok {
		return nil
	}
	record := workflow.FlatObject(fields...)
	switch action {
	case workflow.CRMSingleObject:
		return record
	case workflow.CRMRelatedObjects, workflow.CRMAll, "":
		return workflow.ArrayOf(record)
	default:
		return nil
	}
}
