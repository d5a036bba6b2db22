// ABOUTME: Tests for the remote connector client against an httptest connections API.
package connector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spyglass-search/talos/workflow"
)

func TestHTTPClientReadRows(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		_, _ = io.WriteString(w, `{"status":"Ok","result":{"headerRow":{"Name":"Name"},"rows":[{"Name":"Ada","_idx":2}]}}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL + "/")
	conn := &workflow.ConnectionData{ConnectionID: 9, ConnectionType: workflow.ConnectionGSheets, SpreadsheetID: "s", SheetID: "t"}
	req, _ := ReadRequest(conn)
	resp, err := c.Execute(context.Background(), conn, req, "secret")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotAuth != "Bearer secret" || gotPath != "/connections/9/request" {
		t.Errorf("auth=%q path=%q", gotAuth, gotPath)
	}
	if diff := cmp.Diff(req, gotBody["request"]); diff != "" {
		t.Errorf("request body (-want +got):\n%s", diff)
	}
	want := &Response{Header: workflow.Row{"Name": "Name"}, Rows: []workflow.Row{{"Name": "Ada", "_idx": 2.0}}}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("response (-want +got):\n%s", diff)
	}
}

func TestHTTPClientSingleObjectAndProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if strings.Contains(string(b), `"limit":1`) {
			_, _ = io.WriteString(w, `{"status":"Ok","result":{"rows":[{"A":"1","B":"2","_idx":2}]}}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"Ok","result":{"id":"42","email":"a@b.c"}}`)
	}))
	defer srv.Close()
	c := NewHTTPClient(srv.URL)

	crm := &workflow.ConnectionData{ConnectionID: 1, ConnectionType: workflow.ConnectionHubspot, ObjectType: "contacts", ObjectID: "42", Action: workflow.CRMSingleObject}
	resp, err := c.Execute(context.Background(), crm, Request{Action: ActionGetObject}, "")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{"id": "42", "email": "a@b.c"}, resp.Object); diff != "" {
		t.Errorf("object (-want +got):\n%s", diff)
	}

	sheet := &workflow.ConnectionData{ConnectionID: 2, ConnectionType: workflow.ConnectionGSheets, SpreadsheetID: "s", SheetID: "t"}
	header, err := c.ProbeHeader(context.Background(), sheet, "")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(workflow.Row{"A": "A", "B": "B"}, header); diff != "" {
		t.Errorf("header (-want +got):\n%s", diff)
	}
}

func TestHTTPClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"status":"error","error":"token expired"}`)
	}))
	defer srv.Close()

	conn := &workflow.ConnectionData{ConnectionID: 1, ConnectionType: workflow.ConnectionGSheets, SpreadsheetID: "s", SheetID: "t"}
	_, err := NewHTTPClient(srv.URL).Execute(context.Background(), conn, Request{Action: ActionReadRows}, "")
	if err == nil || !strings.Contains(err.Error(), "token expired") {
		t.Errorf("expected remote error message, got %v", err)
	}
}
