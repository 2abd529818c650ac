package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lib/pq"

	"dbmflow/internal/errs"
)

func TestCreateCLBEntryExecSequence(t *testing.T) {
	conn := &fakeConn{}
	d := &DB{conn: conn}
	detail := CLBDetail{CLBIP: "1.2.3.4", CLBID: "lb-x", ListenerID: "lsn-y", Region: "ap-nj"}
	entryID, err := d.CreateCLBEntry(context.Background(), 177, detail, "dba")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if entryID == "" {
		t.Fatalf("empty entry id")
	}
	if conn.execCalls != 3 {
		t.Fatalf("exec calls: %d", conn.execCalls)
	}
	if !strings.Contains(conn.execQueries[0], "INSERT INTO cluster_entries") {
		t.Fatalf("query[0]: %s", conn.execQueries[0])
	}
	if !strings.Contains(conn.execQueries[1], "INSERT INTO clb_entry_details") {
		t.Fatalf("query[1]: %s", conn.execQueries[1])
	}
	if !strings.Contains(conn.execQueries[2], "cluster_entry_instances") {
		t.Fatalf("query[2]: %s", conn.execQueries[2])
	}
	if conn.execArgs[1][1] != "1.2.3.4" || conn.execArgs[1][2] != "lb-x" {
		t.Fatalf("detail args: %#v", conn.execArgs[1])
	}
	// The mirror copies from the DNS entry of the same cluster.
	if conn.execArgs[2][2] != EntryTypeDNS {
		t.Fatalf("mirror source: %v", conn.execArgs[2][2])
	}
}

func TestCreateCLBEntryDuplicateMapsToTypedError(t *testing.T) {
	conn := &fakeConn{execErrs: []error{&pq.Error{Code: "23505"}}}
	d := &DB{conn: conn}
	_, err := d.CreateCLBEntry(context.Background(), 177, CLBDetail{CLBIP: "1.2.3.4"}, "dba")
	if !errors.Is(err, errs.ClusterEntryExist) {
		t.Fatalf("err: %v", err)
	}
	// No clb detail row may be written once the entry insert failed.
	if conn.execCalls != 1 {
		t.Fatalf("exec calls after failure: %d", conn.execCalls)
	}
}

func TestCreateCLBEntryRequiresIP(t *testing.T) {
	d := &DB{conn: &fakeConn{}}
	if _, err := d.CreateCLBEntry(context.Background(), 1, CLBDetail{}, "dba"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCreatePolarisEntry(t *testing.T) {
	conn := &fakeConn{}
	d := &DB{conn: conn}
	if _, err := d.CreatePolarisEntry(context.Background(), 9, "polaris.svc.name", "dba"); err != nil {
		t.Fatalf("err: %v", err)
	}
	if conn.execCalls != 2 {
		t.Fatalf("exec calls: %d", conn.execCalls)
	}
	if conn.execArgs[0][2] != EntryTypePolaris {
		t.Fatalf("entry type: %v", conn.execArgs[0][2])
	}
}

func TestDeleteEntryMissing(t *testing.T) {
	conn := &fakeConn{row: fakeRow{err: errTest}}
	d := &DB{conn: conn}
	if err := d.DeleteEntry(context.Background(), 1, EntryTypeCLB); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDeleteEntryRemovesDetailAndBindings(t *testing.T) {
	conn := &fakeConn{row: fakeRow{values: []any{"entry_1"}}}
	d := &DB{conn: conn}
	if err := d.DeleteEntry(context.Background(), 1, EntryTypeCLB); err != nil {
		t.Fatalf("err: %v", err)
	}
	if conn.execCalls != 3 {
		t.Fatalf("exec calls: %d", conn.execCalls)
	}
	if !strings.Contains(conn.execQueries[0], "DELETE FROM cluster_entry_instances") {
		t.Fatalf("query[0]: %s", conn.execQueries[0])
	}
	if !strings.Contains(conn.execQueries[2], "DELETE FROM cluster_entries") {
		t.Fatalf("query[2]: %s", conn.execQueries[2])
	}
}

func TestBindDomainToCLB(t *testing.T) {
	conn := &fakeConn{}
	d := &DB{conn: conn}
	if err := d.BindDomainToCLB(context.Background(), 177, "1.2.3.4"); err != nil {
		t.Fatalf("err: %v", err)
	}
	if conn.lastExecArgs[0] != "1.2.3.4" || conn.lastExecArgs[3] != EntryTypeDNS {
		t.Fatalf("args: %#v", conn.lastExecArgs)
	}
}

func TestUnbindDomainClearsForward(t *testing.T) {
	conn := &fakeConn{}
	d := &DB{conn: conn}
	if err := d.UnbindDomainFromCLB(context.Background(), 177); err != nil {
		t.Fatalf("err: %v", err)
	}
	if conn.lastExecArgs[0] != nil {
		t.Fatalf("forward arg: %v", conn.lastExecArgs[0])
	}
}
