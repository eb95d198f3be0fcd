package rack_test

import (
	"errors"
	"testing"
	"time"

	"rack-go/internal/index"
	"rack-go/internal/rack"
	"rack-go/internal/testutil"
)

func TestRetag_SameTagsKeepsFingerprint(t *testing.T) {
	f := testutil.NewFixture(t)
	svc := f.Service(t)
	testutil.WriteTree(t, f.Source, sampleTree)
	commit := mustStore(t, svc, rack.StoreRequest{Label: "build", Tags: rack.Tags{"env": "prod"}, SourceDir: f.Source})

	res, err := svc.Retag(commit.Fingerprint, rack.Tags{"env": "prod"})
	if err != nil {
		t.Fatalf("Retag() error = %v", err)
	}
	if res.Renamed || res.Commit.Fingerprint != commit.Fingerprint {
		t.Errorf("Retag() = %+v, want unchanged fingerprint", res)
	}
	if entries := f.StoreEntries(t); len(entries) != 1 || entries[0] != commit.Fingerprint {
		t.Errorf("store entries = %v", entries)
	}
}

func TestRetag_Rename(t *testing.T) {
	f := testutil.NewFixture(t)
	svc := f.Service(t)
	testutil.WriteTree(t, f.Source, sampleTree)
	commit := mustStore(t, svc, rack.StoreRequest{Label: "build", Tags: rack.Tags{"env": "dev", "arch": "arm"}, SourceDir: f.Source})
	f.Clock.Advance(time.Hour)

	res, err := svc.Retag(commit.Fingerprint, rack.Tags{"env": "prod"})
	if err != nil {
		t.Fatalf("Retag() error = %v", err)
	}

	wantTags := rack.Tags{"env": "prod", "arch": "arm"}
	wantFP := rack.Fingerprint("build", wantTags)
	if !res.Renamed || res.OldFingerprint != commit.Fingerprint || res.Commit.Fingerprint != wantFP {
		t.Fatalf("Retag() = %+v, want rename to %s", res, wantFP)
	}

	cat := f.Catalog(t)
	if cat.Has(commit.Fingerprint) {
		t.Error("old fingerprint still indexed")
	}
	got := cat.Get(wantFP)
	if got == nil {
		t.Fatal("new fingerprint missing from index")
	}
	if !got.Tags.Equal(wantTags) {
		t.Errorf("Tags = %v, want %v", got.Tags, wantTags)
	}
	if !got.Timestamp.Equal(commit.Timestamp) {
		t.Errorf("Timestamp = %v, want original %v", got.Timestamp, commit.Timestamp)
	}
	if got.StoragePath != ".rack/store/"+wantFP {
		t.Errorf("StoragePath = %q", got.StoragePath)
	}
	if ok, _ := f.Layout.HasCommit(commit.Fingerprint); ok {
		t.Error("old storage directory still present")
	}

	target := t.TempDir()
	mustDump(t, svc, rack.DumpRequest{Fingerprint: wantFP, TargetDir: target})
	assertTree(t, target, sampleTree)
}

func TestRetag_Collision(t *testing.T) {
	f := testutil.NewFixture(t)
	svc := f.Service(t)
	testutil.WriteTree(t, f.Source, sampleTree)
	a := mustStore(t, svc, rack.StoreRequest{Label: "build", Tags: rack.Tags{"env": "dev"}, SourceDir: f.Source})
	b := mustStore(t, svc, rack.StoreRequest{Label: "build", Tags: rack.Tags{"env": "prod"}, SourceDir: f.Source})

	_, err := svc.Retag(a.Fingerprint, rack.Tags{"env": "prod"})
	if !errors.Is(err, rack.ErrStorageConflict) {
		t.Fatalf("Retag() error = %v, want ErrStorageConflict", err)
	}

	cat := f.Catalog(t)
	if !cat.Get(a.Fingerprint).Tags.Equal(a.Tags) || !cat.Get(b.Fingerprint).Tags.Equal(b.Tags) {
		t.Error("colliding retag changed an entry")
	}
	if len(f.StoreEntries(t)) != 2 {
		t.Errorf("store entries = %v", f.StoreEntries(t))
	}
}

func TestRetag_NotFound(t *testing.T) {
	f := testutil.NewFixture(t)
	svc := f.Service(t)

	_, err := svc.Retag("abcdefabcdef", rack.Tags{"k": "v"})
	if !errors.Is(err, rack.ErrNotFound) {
		t.Errorf("Retag() error = %v, want ErrNotFound", err)
	}
}

func TestRetag_StorageMissing(t *testing.T) {
	f := testutil.NewFixture(t)
	svc := f.Service(t)
	testutil.WriteTree(t, f.Source, sampleTree)
	commit := mustStore(t, svc, rack.StoreRequest{Label: "x", SourceDir: f.Source})
	if err := f.Layout.Retire(commit.Fingerprint); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Retag(commit.Fingerprint, rack.Tags{"k": "v"})
	if !errors.Is(err, rack.ErrStorageMissing) {
		t.Errorf("Retag() error = %v, want ErrStorageMissing", err)
	}
}

func TestRetag_RenameFailure(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Storage = &testutil.FaultyStorage{Storage: f.Layout, RenameErr: errors.New("cross-device link")}
	svc := f.Service(t)
	testutil.WriteTree(t, f.Source, sampleTree)
	commit := mustStore(t, svc, rack.StoreRequest{Label: "x", SourceDir: f.Source})

	_, err := svc.Retag(commit.Fingerprint, rack.Tags{"k": "v"})
	if !errors.Is(err, rack.ErrIO) {
		t.Fatalf("Retag() error = %v, want ErrIO", err)
	}
	got := f.Catalog(t).Get(commit.Fingerprint)
	if got == nil || len(got.Tags) != 0 {
		t.Errorf("index entry = %+v, want unchanged", got)
	}
}

func TestRetag_IndexFailureRenamesBack(t *testing.T) {
	f := testutil.NewFixture(t)
	mem := index.NewMemoryIndex()
	f.Index = mem
	svc := f.Service(t)
	testutil.WriteTree(t, f.Source, sampleTree)
	commit := mustStore(t, svc, rack.StoreRequest{Label: "x", SourceDir: f.Source})

	mem.FailSave = errors.New("disk full")
	_, err := svc.Retag(commit.Fingerprint, rack.Tags{"k": "v"})
	if !errors.Is(err, rack.ErrIO) {
		t.Fatalf("Retag() error = %v, want ErrIO", err)
	}

	entries := f.StoreEntries(t)
	if len(entries) != 1 || entries[0] != commit.Fingerprint {
		t.Errorf("store entries = %v, want the original directory", entries)
	}
	if !f.Catalog(t).Has(commit.Fingerprint) {
		t.Error("original entry lost")
	}
}
