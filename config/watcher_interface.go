package config

// Watcher is what the server needs from a configuration source that can change at runtime.
type Watcher interface {
	GetCurrentConfig() *Config
	Subscribe() <-chan *Config
	Close() error
}
