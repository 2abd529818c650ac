package controller

import (
	"context"
	"errors"
	"testing"

	"dbmflow/internal/db"
	"dbmflow/internal/pipeline"
)

type fakeMetaStore struct {
	clbEntries     []db.CLBDetail
	clbClusters    []int64
	polarisEntries []string
	deleted        [][2]any
	bound          []string
	unbound        []int64
	phases         map[int64]string
	createErr      error
}

func (f *fakeMetaStore) CreateCLBEntry(ctx context.Context, clusterID int64, detail db.CLBDetail, creator string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.clbEntries = append(f.clbEntries, detail)
	f.clbClusters = append(f.clbClusters, clusterID)
	return "entry_1", nil
}

func (f *fakeMetaStore) CreatePolarisEntry(ctx context.Context, clusterID int64, name, creator string) (string, error) {
	f.polarisEntries = append(f.polarisEntries, name)
	return "entry_2", nil
}

func (f *fakeMetaStore) DeleteEntry(ctx context.Context, clusterID int64, entryType string) error {
	f.deleted = append(f.deleted, [2]any{clusterID, entryType})
	return nil
}

func (f *fakeMetaStore) BindDomainToCLB(ctx context.Context, clusterID int64, clbIP string) error {
	f.bound = append(f.bound, clbIP)
	return nil
}

func (f *fakeMetaStore) UnbindDomainFromCLB(ctx context.Context, clusterID int64) error {
	f.unbound = append(f.unbound, clusterID)
	return nil
}

func (f *fakeMetaStore) UpdateClusterPhase(ctx context.Context, clusterID int64, phase string) error {
	if f.phases == nil {
		f.phases = map[int64]string{}
	}
	f.phases[clusterID] = phase
	return nil
}

func TestCreateCLBEntryService(t *testing.T) {
	store := &fakeMetaStore{}
	svc := &CreateCLBEntryService{Store: store}
	out, err := svc.Execute(context.Background(), pipeline.Input{
		Kwargs: map[string]any{
			"cluster_id":  float64(177),
			"clb_ip":      "1.2.3.4",
			"clb_id":      "lb-x",
			"listener_id": "lsn-y",
			"region":      "ap-nj",
		},
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if out["entry_id"] != "entry_1" {
		t.Fatalf("out: %#v", out)
	}
	if len(store.clbEntries) != 1 || store.clbEntries[0].CLBID != "lb-x" || store.clbClusters[0] != 177 {
		t.Fatalf("entries: %#v", store.clbEntries)
	}
}

func TestCreateCLBEntryServiceMissingKwarg(t *testing.T) {
	svc := &CreateCLBEntryService{Store: &fakeMetaStore{}}
	_, err := svc.Execute(context.Background(), pipeline.Input{
		Kwargs: map[string]any{"cluster_id": float64(177), "clb_ip": "1.2.3.4"},
	})
	if !errors.Is(err, pipeline.ErrMissingKwarg) {
		t.Fatalf("err: %v", err)
	}
}

func TestBindDomainServiceFallsBackToTrans(t *testing.T) {
	store := &fakeMetaStore{}
	svc := &BindDomainService{Store: store}
	_, err := svc.Execute(context.Background(), pipeline.Input{
		Kwargs: map[string]any{"cluster_id": float64(177)},
		Trans:  map[string]any{"clb_ip": "5.6.7.8"},
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(store.bound) != 1 || store.bound[0] != "5.6.7.8" {
		t.Fatalf("bound: %#v", store.bound)
	}
}

func TestAllocCLBServicePreallocated(t *testing.T) {
	svc := &AllocCLBService{}
	out, err := svc.Execute(context.Background(), pipeline.Input{
		Kwargs: map[string]any{"clb_id": "lb-x", "clb_ip": "1.2.3.4", "region": "ap-nj"},
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if out["clb_id"] != "lb-x" || out["clb_preallocated"] != true {
		t.Fatalf("out: %#v", out)
	}
	// Compensation must not release a CLB the ticket brought along.
	if err := svc.Compensate(context.Background(), pipeline.Input{Trans: out}); err != nil {
		t.Fatalf("compensate: %v", err)
	}
}

type fakeCloud struct {
	released []string
}

func (f *fakeCloud) AllocCLB(ctx context.Context, region string) (db.CLBDetail, error) {
	return db.CLBDetail{CLBID: "lb-new", CLBIP: "9.9.9.9", ListenerID: "lsn-new", Region: region}, nil
}

func (f *fakeCloud) ReleaseCLB(ctx context.Context, clbID string) error {
	f.released = append(f.released, clbID)
	return nil
}

func TestAllocCLBServiceCloudPath(t *testing.T) {
	cloud := &fakeCloud{}
	svc := &AllocCLBService{Cloud: cloud}
	out, err := svc.Execute(context.Background(), pipeline.Input{
		Kwargs: map[string]any{"region": "ap-nj"},
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if out["clb_id"] != "lb-new" {
		t.Fatalf("out: %#v", out)
	}
	if err := svc.Compensate(context.Background(), pipeline.Input{Trans: out}); err != nil {
		t.Fatalf("compensate: %v", err)
	}
	if len(cloud.released) != 1 || cloud.released[0] != "lb-new" {
		t.Fatalf("released: %#v", cloud.released)
	}
}

func TestRegisterComponentsCoversControllerReferences(t *testing.T) {
	reg := pipeline.NewRegistry()
	RegisterComponents(reg, ComponentDeps{Store: &fakeMetaStore{}})

	funcReg := NewRegistry()
	RegisterFuncs(funcReg)
	details := `{"cluster_id":177,"clb_ip":"1.2.3.4","clb_id":"lb-x","listener_id":"lsn-y","region":"ap-nj","ips":["10.0.0.1"],"db_patterns":["a"],"params":{"act":"x"},"rules":[{"user":"u","access_db":"d","source_ips":["10.0.0.1"]}],"check_id":"c"}`
	for _, key := range []string{
		"spider.add_clb", "spider.delete_clear_db", "mysql_clb.clb_create",
		"es_name_service.es_create", "vm.destroy", "base.import_resource",
		"mysql.proxy_autofix",
	} {
		root, _, err := funcReg.Build(key, "flow_1", []byte(details))
		if err != nil {
			t.Fatalf("%s: %v", key, err)
		}
		var walk func(n *pipeline.Node)
		walk = func(n *pipeline.Node) {
			if n.Kind == pipeline.KindActivity {
				if _, err := reg.Resolve(n.Component); err != nil {
					t.Fatalf("%s references unregistered component %s", key, n.Component)
				}
			}
			for _, c := range n.Children {
				walk(c)
			}
		}
		walk(root)
	}
}
