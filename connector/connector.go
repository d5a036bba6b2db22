// ABOUTME: Connector capability shared by spreadsheet-like and CRM-like connection families.
// ABOUTME: Builds family-specific read and write requests and routes them to the right backend.
package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/spyglass-search/talos/workflow"
)

// ErrUnknownConnection is returned when no backend serves a connection's family.
var ErrUnknownConnection = errors.New("unknown connection type")

// Action names a connector operation.
type Action string

const (
	ActionReadRows   Action = "readRows"
	ActionAppendRows Action = "appendRows"
	ActionUpdateRows Action = "updateRows"
	ActionGetObject  Action = "getObject"
	ActionGetRelated Action = "getRelated"
	ActionGetAll     Action = "getAll"
)

// Request is a connector-family-specific operation.
type Request struct {
	Action        Action         `json:"action"`
	SpreadsheetID string         `json:"spreadsheetId,omitempty"`
	SheetID       string         `json:"sheetId,omitempty"`
	ObjectType    string         `json:"objectType,omitempty"`
	ObjectID      string         `json:"objectId,omitempty"`
	Limit         int            `json:"limit,omitempty"`
	Rows          []workflow.Row `json:"rows,omitempty"`
}

// Response carries either rows (with an optional header row) or a single
// object.
type Response struct {
	Rows   []workflow.Row `json:"rows,omitempty"`
	Header workflow.Row   `json:"headerRow,omitempty"`
	Object map[string]any `json:"object,omitempty"`
}

// Connector executes requests against an external connection.
type Connector interface {
	Execute(ctx context.Context, conn *workflow.ConnectionData, req Request, token string) (*Response, error)
	// ProbeHeader reads only the header row of a spreadsheet-like connection.
	ProbeHeader(ctx context.Context, conn *workflow.ConnectionData, token string) (workflow.Row, error)
}

// ReadRequest builds the read request for a DataSource connection.
func ReadRequest(conn *workflow.ConnectionData) (Request, error) {
	if conn == nil {
		return Request{}, errors.New("connection is not configured")
	}
	switch conn.ConnectionType {
	case workflow.ConnectionGSheets:
		if conn.SpreadsheetID == "" || conn.SheetID == "" {
			return Request{}, errors.New("select a spreadsheet and sheet to read from")
		}
		return Request{Action: ActionReadRows, SpreadsheetID: conn.SpreadsheetID, SheetID: conn.SheetID}, nil
	case workflow.ConnectionHubspot:
		if conn.ObjectType == "" {
			return Request{}, errors.New("select an object type to read")
		}
		req := Request{ObjectType: conn.ObjectType, ObjectID: conn.ObjectID}
		switch conn.Action {
		case workflow.CRMSingleObject:
			req.Action = ActionGetObject
		case workflow.CRMRelatedObjects:
			req.Action = ActionGetRelated
		case workflow.CRMAll, "":
			req.Action = ActionGetAll
		default:
			return Request{}, fmt.Errorf("unsupported CRM action %q", conn.Action)
		}
		if req.Action != ActionGetAll && conn.ObjectID == "" {
			return Request{}, errors.New("select an object id to read")
		}
		return req, nil
	default:
		return Request{}, fmt.Errorf("%w %q", ErrUnknownConnection, conn.ConnectionType)
	}
}

// WriteRequest builds the append or update request for a DataDestination.
// Update is the default mode.
func WriteRequest(conn *workflow.ConnectionData, rows []workflow.Row) (Request, error) {
	if !DestinationConfigured(conn) {
		return Request{}, errors.New("select a connection and destination sheet before running")
	}
	req := Request{SpreadsheetID: conn.SpreadsheetID, SheetID: conn.SheetID, Rows: rows}
	if conn.Action == workflow.ActionAppend {
		req.Action = ActionAppendRows
	} else {
		req.Action = ActionUpdateRows
	}
	return req, nil
}

// DestinationConfigured reports whether conn names a writable target.
func DestinationConfigured(conn *workflow.ConnectionData) bool {
	return conn != nil &&
		conn.ConnectionType == workflow.ConnectionGSheets &&
		conn.SpreadsheetID != "" &&
		conn.SheetID != ""
}

// Router dispatches to one Connector per connection family.
type Router struct {
	families map[workflow.ConnectionType]Connector
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{families: make(map[workflow.ConnectionType]Connector)}
}

// Handle registers c for a connection family, replacing any earlier one.
func (r *Router) Handle(t workflow.ConnectionType, c Connector) *Router {
	r.families[t] = c
	return r
}

func (r *Router) route(conn *workflow.ConnectionData) (Connector, error) {
	if conn == nil {
		return nil, errors.New("connection is not configured")
	}
	c, ok := r.families[conn.ConnectionType]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownConnection, conn.ConnectionType)
	}
	return c, nil
}

// Execute forwards to the family's connector.
func (r *Router) Execute(ctx context.Context, conn *workflow.ConnectionData, req Request, token string) (*Response, error) {
	c, err := r.route(conn)
	if err != nil {
		return nil, err
	}
	return c.Execute(ctx, conn, req, token)
}

// ProbeHeader forwards to the family's connector.
func (r *Router) ProbeHeader(ctx context.Context, conn *workflow.ConnectionData, token string) (workflow.Row, error) {
	c, err := r.route(conn)
	if err != nil {
		return nil, err
	}
	return c.ProbeHeader(ctx, conn, token)
}
