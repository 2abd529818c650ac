package reconciler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"dbmflow/internal/db"
	"dbmflow/internal/pipeline"
	"dbmflow/internal/ticket"
)

type fakeStatStore struct {
	counts   map[string]int64
	settings map[string][]byte
}

func (f *fakeStatStore) EntryTypeCounts(ctx context.Context) (map[string]int64, error) {
	return f.counts, nil
}

func (f *fakeStatStore) PutSystemSetting(ctx context.Context, key string, value []byte) error {
	if f.settings == nil {
		f.settings = map[string][]byte{}
	}
	f.settings[key] = value
	return nil
}

func TestSyncExtensionStats(t *testing.T) {
	store := &fakeStatStore{counts: map[string]int64{"dns": 12, "clb": 3}}
	if err := SyncExtensionStats(store)(context.Background()); err != nil {
		t.Fatalf("err: %v", err)
	}
	raw, ok := store.settings[SystemSettingKeyExtensionStat]
	if !ok {
		t.Fatalf("setting not written")
	}
	var payload struct {
		Counts map[string]int64 `json:"counts"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Counts["clb"] != 3 {
		t.Fatalf("counts: %#v", payload.Counts)
	}
}

type fakeForwardStore struct {
	forwards []db.EntryForward
}

func (f *fakeForwardStore) ListEntryForwards(ctx context.Context) ([]db.EntryForward, error) {
	return f.forwards, nil
}

type recordingDispatcher struct {
	payloads []pipeline.JobPayload
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, p pipeline.JobPayload) (string, error) {
	r.payloads = append(r.payloads, p)
	return "job_1", nil
}

func TestSyncNginxConf(t *testing.T) {
	store := &fakeForwardStore{forwards: []db.EntryForward{
		{Domain: "db.app.example", Forward: "1.2.3.4"},
	}}
	jobs := &recordingDispatcher{}
	if err := SyncNginxConf(store, jobs)(context.Background()); err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(jobs.payloads) != 1 || jobs.payloads[0].JobType != "nginx_conf_sync" {
		t.Fatalf("payloads: %#v", jobs.payloads)
	}
}

func TestSyncNginxConfNoForwardsNoDispatch(t *testing.T) {
	jobs := &recordingDispatcher{}
	if err := SyncNginxConf(&fakeForwardStore{}, jobs)(context.Background()); err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(jobs.payloads) != 0 {
		t.Fatalf("payloads: %#v", jobs.payloads)
	}
}

func TestCreateFailoverDrills(t *testing.T) {
	specPath := filepath.Join(t.TempDir(), "drills.json")
	spec := `[{"bk_biz_id":3,"cluster_id":177,"drill_kind":"kill_primary"}]`
	if err := os.WriteFile(specPath, []byte(spec), 0o600); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	tickets := &fakeTicketCreator{}
	if err := CreateFailoverDrills(tickets, specPath)(context.Background()); err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(tickets.requests) != 1 {
		t.Fatalf("requests: %#v", tickets.requests)
	}
	req := tickets.requests[0]
	if req.TicketType != ticket.TypeMySQLFailoverDrill || req.Creator != "dba" || !req.AutoExecute {
		t.Fatalf("request: %#v", req)
	}
}
