package remote

import (
	"fmt"

	"snipsync/internal/config"
	"snipsync/internal/snip"
)

// NewRemoteFromConfig creates a RemoteStore based on the remote config type.
// password is the resolved app password; it is never read from the config file.
func NewRemoteFromConfig(cfg config.RemoteConfig, password string) (snip.RemoteStore, error) {
	switch cfg.Type {
	case "", "bitbucket":
		if cfg.Username == "" {
			return nil, fmt.Errorf("bitbucket remote requires username to be set")
		}
		return NewBitbucketStore(cfg.BaseURL, cfg.Username, password), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown remote type: %s", cfg.Type)
	}
}
