package assets

// Loader turns the file at path into an in-memory value. The manager
// caches that value until the file changes on disk.
type Loader interface {
	Load(path string) (interface{}, error)
	Unload(v interface{}) error
}
