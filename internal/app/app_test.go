package app_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rack-go/internal/app"
	"rack-go/internal/config"
	"rack-go/internal/history"
	"rack-go/internal/rack"
	"rack-go/internal/testutil"
)

// newProject initializes a project in a temp directory and points
// project discovery at it.
func newProject(t *testing.T) app.Paths {
	t.Helper()
	paths, _, err := app.Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Setenv(app.ProjectEnv, paths.Root)
	return paths
}

func editConfig(t *testing.T, paths app.Paths, edit func(*config.Config)) {
	t.Helper()
	cfg, err := config.ReadFromFile(paths.Config)
	if err != nil {
		t.Fatal(err)
	}
	edit(cfg)

	var buf bytes.Buffer
	m := &config.Manager{}
	if err := m.Write(&buf, cfg); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(paths.Config, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func openApp(t *testing.T, operation string) *app.RackApp {
	t.Helper()
	a, err := app.NewRackApp(".", operation, nil)
	if err != nil {
		t.Fatalf("NewRackApp(%q) error = %v", operation, err)
	}
	return a
}

func closeApp(t *testing.T, a *app.RackApp) {
	t.Helper()
	if err := a.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func inputDir(paths app.Paths) string {
	return filepath.Join(paths.Root, config.DefaultInputDir)
}

func TestInit(t *testing.T) {
	root := t.TempDir()

	paths, cfg, err := app.Init(root)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if cfg.StoreID == "" {
		t.Error("Init() left store_id empty")
	}
	for _, p := range []string{paths.Config, paths.Index, paths.History} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("Init() did not create %s: %v", p, err)
		}
	}

	_, _, err = app.Init(root)
	if !errors.Is(err, rack.ErrConfig) {
		t.Errorf("second Init() error = %v, want ErrConfig", err)
	}
	if _, statErr := os.Stat(paths.Config); statErr != nil {
		t.Errorf("second Init() removed the existing project: %v", statErr)
	}
}

func TestNewRackApp_NoProject(t *testing.T) {
	t.Setenv(app.ProjectEnv, "")

	_, err := app.NewRackApp(t.TempDir(), "list", nil)
	if !errors.Is(err, rack.ErrConfig) {
		t.Errorf("NewRackApp() error = %v, want ErrConfig", err)
	}
}

func TestNewRackApp_InvalidConfig(t *testing.T) {
	paths := newProject(t)
	editConfig(t, paths, func(c *config.Config) { c.CompressMode = "zip" })

	_, err := app.NewRackApp(".", "list", nil)
	if !errors.Is(err, rack.ErrConfig) {
		t.Errorf("NewRackApp() error = %v, want ErrConfig", err)
	}
}

func TestRackApp_StoreAndDump(t *testing.T) {
	paths := newProject(t)
	testutil.WriteTree(t, inputDir(paths), map[string]string{"run.log": "started", "sub/trace.log": "ok"})

	a := openApp(t, "store")
	res, err := a.Store(context.Background(), "nightly", rack.Tags{"branch": "main"}, "", true, nil, nil)
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	closeApp(t, a)

	if got := testutil.ListDir(t, inputDir(paths)); len(got) != 0 {
		t.Errorf("source after Store with clear = %v, want empty", got)
	}
	if res.Commit.SourceDir != config.DefaultInputDir {
		t.Errorf("SourceDir = %q, want %q", res.Commit.SourceDir, config.DefaultInputDir)
	}

	a = openApp(t, "dump")
	defer closeApp(t, a)
	dumped, err := a.Dump(context.Background(), res.Commit.Fingerprint, "", false, nil, nil)
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	if dumped.TargetDir != inputDir(paths) {
		t.Errorf("TargetDir = %q, want %q", dumped.TargetDir, inputDir(paths))
	}
	got := testutil.ReadTree(t, inputDir(paths))
	if got["run.log"] != "started" || got["sub/trace.log"] != "ok" {
		t.Errorf("restored tree = %v", got)
	}
}

func TestRackApp_DumpRelativeOutput(t *testing.T) {
	paths := newProject(t)
	testutil.WriteTree(t, inputDir(paths), map[string]string{"a.log": "x"})

	a := openApp(t, "store")
	res, err := a.Store(context.Background(), "run", nil, "", false, nil, nil)
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	closeApp(t, a)

	prevWD, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prevWD) })
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}

	a = openApp(t, "dump")
	defer closeApp(t, a)
	dumped, err := a.Dump(context.Background(), res.Commit.Fingerprint, "out", false, nil, nil)
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	if want := filepath.Join(cwd, "out"); dumped.TargetDir != want {
		t.Errorf("TargetDir = %q, want %q", dumped.TargetDir, want)
	}
}

func TestRackApp_MetadataNeverCapturedOrOverwritten(t *testing.T) {
	paths := newProject(t)
	testutil.WriteTree(t, inputDir(paths), map[string]string{"a.log": "x"})

	a := openApp(t, "store")
	defer closeApp(t, a)
	if _, err := a.Store(context.Background(), "meta", nil, paths.RackDir, false, nil, nil); !errors.Is(err, rack.ErrConfig) {
		t.Fatalf("Store(.rack) error = %v, want ErrConfig", err)
	}

	res, err := a.Store(context.Background(), "later", nil, "", false, nil, nil)
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if _, err := a.Dump(context.Background(), res.Commit.Fingerprint, paths.RackDir, false, nil, nil); !errors.Is(err, rack.ErrConfig) {
		t.Errorf("Dump(.rack) error = %v, want ErrConfig", err)
	}
	if _, err := a.Info(res.Commit.Fingerprint); err != nil {
		t.Errorf("Info() after rejected dump error = %v", err)
	}
}

func TestRackApp_History(t *testing.T) {
	paths := newProject(t)
	testutil.WriteTree(t, inputDir(paths), map[string]string{"a.log": "x"})

	var fp string
	for i, wantErr := range []bool{false, true} {
		a := openApp(t, "store")
		res, err := a.Store(context.Background(), "run", nil, "", false, nil, nil)
		if (err != nil) != wantErr {
			t.Fatalf("Store() #%d error = %v, wantErr %v", i, err, wantErr)
		}
		if res != nil {
			fp = res.Commit.Fingerprint
		}
		closeApp(t, a)
	}

	a := openApp(t, "history")
	defer closeApp(t, a)
	ops, err := a.History(0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("History() returned %d operations, want 3: %v", len(ops), ops)
	}

	dup, first, init := ops[0], ops[1], ops[2]
	if init.Operation != "init" || init.Status != history.StatusSuccess {
		t.Errorf("init operation = %+v", init)
	}
	if first.Operation != "store" || first.Status != history.StatusSuccess || first.Fingerprint != fp {
		t.Errorf("first store = %+v, want success for %s", first, fp)
	}
	if !strings.Contains(first.Parameters, "label=run") {
		t.Errorf("Parameters = %q, want label=run", first.Parameters)
	}
	if dup.Status != history.StatusError || !strings.Contains(dup.Message, "duplicate") {
		t.Errorf("duplicate store = %+v, want error status", dup)
	}
	if !first.Finished() || !dup.Finished() {
		t.Error("journaled operations were not finished")
	}
}

func TestRackApp_ReadOnlyCommandsAreNotJournaled(t *testing.T) {
	newProject(t)

	a := openApp(t, "list")
	if _, err := a.List("timestamp", false); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	closeApp(t, a)

	a = openApp(t, "history")
	defer closeApp(t, a)
	ops, err := a.History(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].Operation != "init" {
		t.Errorf("History() = %v, want only init", ops)
	}
}

func TestRackApp_HistoryDisabled(t *testing.T) {
	paths := newProject(t)
	editConfig(t, paths, func(c *config.Config) { c.History.Enabled = false })

	a := openApp(t, "history")
	defer closeApp(t, a)
	if _, err := a.History(10); !errors.Is(err, rack.ErrConfig) {
		t.Errorf("History() error = %v, want ErrConfig", err)
	}
	ops, err := a.CommitHistory("aaaaaaaaaaaa")
	if err != nil || ops != nil {
		t.Errorf("CommitHistory() = %v, %v, want nil without a journal", ops, err)
	}
}

func TestRackApp_CommitHistory(t *testing.T) {
	paths := newProject(t)
	testutil.WriteTree(t, inputDir(paths), map[string]string{"a.log": "x"})

	a := openApp(t, "store")
	res, err := a.Store(context.Background(), "run", nil, "", false, nil, nil)
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	closeApp(t, a)
	fp := res.Commit.Fingerprint

	// Only purging dumps are journaled.
	a = openApp(t, "dump")
	if _, err := a.Dump(context.Background(), fp, filepath.Join(t.TempDir(), "out"), true, nil, nil); err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	closeApp(t, a)

	a = openApp(t, "info")
	defer closeApp(t, a)
	ops, err := a.CommitHistory(fp)
	if err != nil {
		t.Fatalf("CommitHistory() error = %v", err)
	}
	if len(ops) != 2 || ops[0].Operation != "store" || ops[1].Operation != "dump" {
		t.Fatalf("CommitHistory() = %v, want store then dump", ops)
	}
	for _, op := range ops {
		if op.Fingerprint != fp || op.Status != history.StatusSuccess {
			t.Errorf("operation %+v, want success for %s", op, fp)
		}
	}

	none, err := a.CommitHistory("ffffffffffff")
	if err != nil || len(none) != 0 {
		t.Errorf("CommitHistory(unknown) = %v, %v", none, err)
	}
}

func TestRackApp_RetagAndBurn(t *testing.T) {
	paths := newProject(t)
	testutil.WriteTree(t, inputDir(paths), map[string]string{"a.log": "x"})

	a := openApp(t, "store")
	defer closeApp(t, a)
	res, err := a.Store(context.Background(), "run", nil, "", false, nil, nil)
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	retagged, err := a.Retag(res.Commit.Fingerprint, rack.Tags{"env": "ci"})
	if err != nil {
		t.Fatalf("Retag() error = %v", err)
	}
	if !retagged.Renamed || retagged.Commit.Tags["env"] != "ci" {
		t.Errorf("Retag() = %+v", retagged)
	}
	if _, err := a.Info(res.Commit.Fingerprint); !errors.Is(err, rack.ErrNotFound) {
		t.Errorf("Info(old) error = %v, want ErrNotFound", err)
	}

	found, err := a.Search(rack.Tags{"env": "ci"})
	if err != nil || len(found) != 1 {
		t.Fatalf("Search() = %v, %v", found, err)
	}

	burned, err := a.Burn([]string{retagged.Commit.Fingerprint})
	if err != nil {
		t.Fatalf("Burn() error = %v", err)
	}
	if len(burned) != 1 {
		t.Errorf("Burn() = %v", burned)
	}
	list, err := a.List("label", false)
	if err != nil || len(list) != 0 {
		t.Errorf("List() after Burn = %v, %v", list, err)
	}
	if _, err := a.Search(rack.Tags{"env": "ci"}); !errors.Is(err, rack.ErrNotFound) {
		t.Errorf("Search() after Burn error = %v, want ErrNotFound", err)
	}
}

func TestRackApp_SearchNoMatch(t *testing.T) {
	paths := newProject(t)
	testutil.WriteTree(t, inputDir(paths), map[string]string{"a.log": "x"})

	a := openApp(t, "store")
	defer closeApp(t, a)
	if _, err := a.Store(context.Background(), "run", rack.Tags{"env": "ci"}, "", false, nil, nil); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	tests := []struct {
		name    string
		filters rack.Tags
		wantErr error
	}{
		{name: "match", filters: rack.Tags{"env": "ci"}},
		{name: "other value", filters: rack.Tags{"env": "prod"}, wantErr: rack.ErrNotFound},
		{name: "unknown key", filters: rack.Tags{"host": "a"}, wantErr: rack.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := a.Search(tt.filters)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Search() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && len(found) != 1 {
				t.Errorf("Search() = %v, want one commit", found)
			}
		})
	}
}

func TestRackApp_BurnAll(t *testing.T) {
	paths := newProject(t)

	a := openApp(t, "burn")
	if err := a.BurnAll(); err != nil {
		t.Fatalf("BurnAll() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close() after BurnAll error = %v", err)
	}
	if _, err := os.Stat(paths.RackDir); !os.IsNotExist(err) {
		t.Errorf("%s still exists after BurnAll: %v", paths.RackDir, err)
	}
}

func TestRackApp_CheckAndRepair(t *testing.T) {
	paths := newProject(t)
	if err := os.MkdirAll(filepath.Join(paths.Store, "0123456789ab"), 0755); err != nil {
		t.Fatal(err)
	}

	a := openApp(t, "check")
	defer closeApp(t, a)
	report, err := a.Check()
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(report.Orphans) != 1 {
		t.Errorf("Check().Orphans = %v, want one orphan", report.Orphans)
	}
	if _, err := a.Repair(); err != nil {
		t.Errorf("Repair() error = %v", err)
	}
}

func TestRackApp_TestEncryption(t *testing.T) {
	paths := newProject(t)
	editConfig(t, paths, func(c *config.Config) { c.Encryption.Type = "test" })
	testutil.WriteTree(t, inputDir(paths), map[string]string{"secret.log": "classified"})

	a := openApp(t, "store")
	defer closeApp(t, a)
	if !a.Encrypted() {
		t.Fatal("Encrypted() = false for test encryption")
	}
	res, err := a.Store(context.Background(), "run", nil, "", false, nil, nil)
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if !res.Commit.Encrypted {
		t.Error("commit not marked encrypted")
	}

	out := t.TempDir()
	unlock := func() (rack.DecryptionContext, error) { return a.Unlock("") }
	if _, err := a.Dump(context.Background(), res.Commit.Fingerprint, out, false, unlock, nil); err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	if got := testutil.ReadTree(t, out); got["secret.log"] != "classified" {
		t.Errorf("restored tree = %v", got)
	}
}

func TestRackApp_AgeWithoutKeys(t *testing.T) {
	paths := newProject(t)
	editConfig(t, paths, func(c *config.Config) { c.Encryption.Type = "age" })
	testutil.WriteTree(t, inputDir(paths), map[string]string{"a.log": "x"})

	a := openApp(t, "store")
	defer closeApp(t, a)
	_, err := a.Store(context.Background(), "run", nil, "", false, nil, nil)
	if !errors.Is(err, rack.ErrConfig) {
		t.Errorf("Store() error = %v, want ErrConfig", err)
	}
	if _, err := a.Unlock("pw"); !errors.Is(err, rack.ErrConfig) {
		t.Errorf("Unlock() error = %v, want ErrConfig", err)
	}
}

func TestRackApp_AgeKeys(t *testing.T) {
	paths := newProject(t)
	editConfig(t, paths, func(c *config.Config) { c.Encryption.Type = "age" })
	testutil.WriteTree(t, inputDir(paths), map[string]string{"a.log": "payload"})

	a := openApp(t, "keys")
	if err := a.SetupKeys("correct horse"); err != nil {
		t.Fatalf("SetupKeys() error = %v", err)
	}
	closeApp(t, a)
	if _, err := os.Stat(paths.Resolve(filepath.Join(".rack", "keys", "rack.pub"))); err != nil {
		t.Errorf("public key not written: %v", err)
	}

	a = openApp(t, "store")
	defer closeApp(t, a)
	res, err := a.Store(context.Background(), "run", nil, "", false, nil, nil)
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	if _, err := a.Unlock("wrong"); !errors.Is(err, rack.ErrConfig) {
		t.Errorf("Unlock(wrong) error = %v, want ErrConfig", err)
	}

	out := t.TempDir()
	unlock := func() (rack.DecryptionContext, error) { return a.Unlock("correct horse") }
	if _, err := a.Dump(context.Background(), res.Commit.Fingerprint, out, false, unlock, nil); err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	if got := testutil.ReadTree(t, out); got["a.log"] != "payload" {
		t.Errorf("restored tree = %v", got)
	}
}

func TestRackApp_RackIgnore(t *testing.T) {
	paths := newProject(t)
	if err := os.WriteFile(filepath.Join(paths.Root, ".rackignore"), []byte("# noise\n*.bin\n"), 0644); err != nil {
		t.Fatal(err)
	}
	testutil.WriteTree(t, inputDir(paths), map[string]string{"keep.log": "k", "core.bin": "b"})

	a := openApp(t, "store")
	defer closeApp(t, a)
	res, err := a.Store(context.Background(), "run", nil, "", false, nil, nil)
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if res.Commit.FileCount != 1 {
		t.Errorf("FileCount = %d, want 1 (core.bin ignored)", res.Commit.FileCount)
	}
}
