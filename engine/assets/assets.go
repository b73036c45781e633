package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/gfxring/engine/assets/loaders"
	"github.com/spaghettifunk/gfxring/engine/core"
)

type AssetType int

const (
	AssetTypeNone AssetType = iota
	// AssetTypeScene is a scene description under scenes/.
	AssetTypeScene
	// AssetTypeSuite is a reftest suite under reftests/.
	AssetTypeSuite
	// AssetTypeData is raw initial data for buffers and images.
	AssetTypeData
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeScene:
		return "scene"
	case AssetTypeSuite:
		return "suite"
	case AssetTypeData:
		return "data"
	default:
		return "none"
	}
}

type AssetInfo struct {
	Path       string
	Type       AssetType
	LastLoaded time.Time
	// value is the loaded asset, nil until Load or after the file changed.
	value interface{}
}

// AssetManager indexes the files of a data directory, loads them through
// the loader registered for their type and caches the result until the
// file changes on disk.
type AssetManager struct {
	assets  map[string]*AssetInfo
	loaders map[AssetType]Loader

	mutex sync.RWMutex

	done      chan struct{}
	startOnce sync.Once
	fsnotify  *fsnotify.Watcher
	isClosed  bool
	events    chan fsnotify.Event
	errors    chan error
}

const eventBacklog = 64

func NewAssetManager() (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	am := &AssetManager{
		assets:   make(map[string]*AssetInfo),
		loaders:  make(map[AssetType]Loader),
		fsnotify: fsWatch,
		events:   make(chan fsnotify.Event, eventBacklog),
		errors:   make(chan error, eventBacklog),
		done:     make(chan struct{}),
	}
	am.RegisterLoader(AssetTypeData, &loaders.BinaryLoader{})
	return am, nil
}

// Watch indexes every asset under dir and reports later changes to it.
func (am *AssetManager) Watch(dir string) error {
	am.startOnce.Do(func() { go am.start() })
	return am.addRecursive(dir)
}

// AddRecursive starts watching the named directory and all sub-directories.
func (am *AssetManager) addRecursive(name string) error {
	am.mutex.RLock()
	closed := am.isClosed
	am.mutex.RUnlock()
	if closed {
		return errors.New("asset manager already closed")
	}
	return am.watchRecursive(name, false)
}

// RegisterLoader sets the loader for one asset type, replacing any previous.
func (am *AssetManager) RegisterLoader(assetType AssetType, loader Loader) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.loaders[assetType] = loader
}

// Load returns the asset at path, reading it through the loader registered
// for assetType unless a cached copy is still current.
func (am *AssetManager) Load(path string, assetType AssetType) (interface{}, error) {
	path = filepath.Clean(path)

	// The watcher clears cached values under the lock, so the value is
	// read before releasing it.
	am.mutex.RLock()
	var cached interface{}
	if asset, ok := am.assets[path]; ok && asset.Type == assetType {
		cached = asset.value
	}
	loader, loaderExists := am.loaders[assetType]
	am.mutex.RUnlock()

	if !loaderExists {
		return nil, fmt.Errorf("no loader registered for asset type %s", assetType)
	}
	if cached != nil {
		return cached, nil
	}

	v, err := loader.Load(path)
	if err != nil {
		return nil, err
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.assets[path] = &AssetInfo{
		Path:       path,
		Type:       assetType,
		LastLoaded: time.Now(),
		value:      v,
	}
	return v, nil
}

// Assets returns the indexed assets of one type.
func (am *AssetManager) Assets(assetType AssetType) []AssetInfo {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	var out []AssetInfo
	for _, a := range am.assets {
		if a.Type == assetType {
			out = append(out, AssetInfo{Path: a.Path, Type: a.Type, LastLoaded: a.LastLoaded})
		}
	}
	return out
}

// Changes delivers file system events under the watched directories. Events
// are dropped rather than blocking the watcher when nobody drains them.
func (am *AssetManager) Changes() <-chan fsnotify.Event {
	return am.events
}

func (am *AssetManager) Errors() <-chan error {
	return am.errors
}

func (am *AssetManager) Close() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	for _, a := range am.assets {
		if a.value == nil {
			continue
		}
		if l, ok := am.loaders[a.Type]; ok {
			if err := l.Unload(a.value); err != nil {
				core.LogWarn("unload %s: %s", a.Path, err)
			}
		}
		a.value = nil
	}
	am.mutex.Unlock()

	started := true
	am.startOnce.Do(func() { started = false })
	close(am.done)
	if !started {
		close(am.events)
		close(am.errors)
		return am.fsnotify.Close()
	}
	return nil
}

func (am *AssetManager) start() {
	for {
		select {

		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s != nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := am.watchRecursive(e.Name, false); err != nil {
						core.LogWarn("watch %s: %s", e.Name, err)
					}
				}
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				am.handleFileEvent(e.Name)
			}
			// A removed path can't be stat'ed, so try to drop it both as an
			// asset and as a watched directory.
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				am.removeAsset(e.Name)
				_ = am.fsnotify.Remove(e.Name)
			}
			select {
			case am.events <- e:
			default:
				core.LogDebug("asset event dropped: %s", e)
			}

		case e, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(e.Error())
			select {
			case am.errors <- e:
			default:
			}

		case <-am.done:
			am.fsnotify.Close()
			close(am.events)
			close(am.errors)
			return
		}
	}
}

// watchRecursive adds all directories under the given one to the watch list
// and indexes the files it finds.
func (am *AssetManager) watchRecursive(path string, unWatch bool) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if unWatch {
				return am.fsnotify.Remove(walkPath)
			}
			return am.fsnotify.Add(walkPath)
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}

// handleFileEvent indexes a created or modified file and drops any cached
// value so the next Load reads it again.
func (am *AssetManager) handleFileEvent(path string) {
	path = filepath.Clean(path)
	assetType := determineAssetType(path)
	if assetType == AssetTypeNone {
		return
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	if a, ok := am.assets[path]; ok {
		a.value = nil
		return
	}
	am.assets[path] = &AssetInfo{Path: path, Type: assetType}
}

func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	delete(am.assets, filepath.Clean(path))
}

func determineAssetType(path string) AssetType {
	switch filepath.Ext(path) {
	case ".toml":
		if filepath.Base(filepath.Dir(path)) == "reftests" {
			return AssetTypeSuite
		}
		return AssetTypeScene
	case ".raw", ".bin":
		return AssetTypeData
	default:
		return AssetTypeNone
	}
}
