package assets

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestDetermineAssetType(t *testing.T) {
	for _, x := range [...]struct {
		path string
		want AssetType
	}{
		{"work/scenes/basic.toml", AssetTypeScene},
		{"work/reftests/local.toml", AssetTypeSuite},
		{"work/data/pixel.raw", AssetTypeData},
		{"work/data/pixel.bin", AssetTypeData},
		{"work/README.md", AssetTypeNone},
	} {
		if have := determineAssetType(x.path); have != x.want {
			t.Errorf("determineAssetType(%q)\nhave %s\nwant %s", x.path, have, x.want)
		}
	}
}

func TestLoadCachesUntilChanged(t *testing.T) {
	am, err := NewAssetManager()
	if err != nil {
		t.Fatal(err)
	}
	defer am.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.raw")
	if err := os.WriteFile(path, []byte{1, 2}, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := am.Watch(dir); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if n := len(am.Assets(AssetTypeData)); n != 1 {
		t.Fatalf("indexed data assets\nhave %d\nwant 1", n)
	}

	v, err := am.Load(path, AssetTypeData)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if have := v.([]byte); !bytes.Equal(have, []byte{1, 2}) {
		t.Fatalf("Load\nhave %v\nwant [1 2]", have)
	}

	// Rewriting the file behind the manager's back is invisible until the
	// change is reported.
	if err := os.WriteFile(path, []byte{3}, 0o644); err != nil {
		t.Fatal(err)
	}
	am.handleFileEvent(path)
	v, err = am.Load(path, AssetTypeData)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if have := v.([]byte); !bytes.Equal(have, []byte{3}) {
		t.Errorf("Load after change\nhave %v\nwant [3]", have)
	}
}

func TestLoadWithoutLoader(t *testing.T) {
	am, err := NewAssetManager()
	if err != nil {
		t.Fatal(err)
	}
	defer am.Close()
	if _, err := am.Load("scenes/x.toml", AssetTypeScene); err == nil {
		t.Error("Load without a scene loader\nhave nil\nwant error")
	}
}

func TestChanges(t *testing.T) {
	am, err := NewAssetManager()
	if err != nil {
		t.Fatal(err)
	}
	defer am.Close()

	dir := t.TempDir()
	if err := am.Watch(dir); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	path := filepath.Join(dir, "b.raw")
	if err := os.WriteFile(path, []byte{1}, 0o644); err != nil {
		t.Fatal(err)
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-am.Changes():
			if filepath.Clean(e.Name) == path && e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				return
			}
		case <-timeout:
			t.Fatal("no change event for a created file")
		}
	}
}

func TestCloseTwice(t *testing.T) {
	am, err := NewAssetManager()
	if err != nil {
		t.Fatal(err)
	}
	if err := am.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := am.Close(); err != nil {
		t.Errorf("second Close\nhave %v\nwant nil", err)
	}
	if err := am.Watch(t.TempDir()); err == nil {
		t.Error("Watch after Close\nhave nil\nwant error")
	}
}

func TestLoadConcurrentWithInvalidation(t *testing.T) {
	am, err := NewAssetManager()
	if err != nil {
		t.Fatal(err)
	}
	defer am.Close()

	path := filepath.Join(t.TempDir(), "a.raw")
	if err := os.WriteFile(path, []byte{7}, 0o644); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				v, err := am.Load(path, AssetTypeData)
				if err != nil {
					t.Error(err)
					return
				}
				if b := v.([]byte); !bytes.Equal(b, []byte{7}) {
					t.Errorf("Load\nhave %v\nwant [7]", b)
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 200; j++ {
			am.handleFileEvent(path)
		}
	}()
	wg.Wait()
}
