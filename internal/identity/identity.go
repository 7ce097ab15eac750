// Package identity loads the local device's rendezvous identity: the cloud
// id this machine advertises itself as, and the alias string shown to the
// paired mobile device during BLE advertising. Both live in small
// operator-managed files rather than flags or environment variables, the
// way the teacher's persistance package keeps pairing state in files under
// a well-known directory rather than passing it on the command line.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"
)

// DefaultAlias is advertised when /etc/advertised_ble_name.txt is absent.
const DefaultAlias = "Viam SOCKS forwarder"

// cloudConfigPath and aliasPath are vars, not consts, so tests can point
// them at a temp directory instead of the real /etc files.
var (
	cloudConfigPath = "/etc/viam.json"
	aliasPath       = "/etc/advertised_ble_name.txt"
)

// RetryInterval is how often Load retries after a missing or malformed
// cloud config file.
var RetryInterval = 5 * time.Second

// ErrConfigMissing wraps a read/parse failure of the cloud config file.
// Load never returns it directly — callers only see it via the logs Load
// emits while retrying, since Load itself blocks until it succeeds or ctx
// is cancelled.
var ErrConfigMissing = errors.New("identity: config missing or malformed")

// Identity is this machine's rendezvous identity.
type Identity struct {
	LocalID         string
	AdvertisedAlias string
}

type cloudConfig struct {
	Cloud struct {
		ID string `json:"id"`
	} `json:"cloud"`
}

// Load blocks until /etc/viam.json exists and parses, retrying every
// RetryInterval, or until ctx is cancelled. The alias file is optional and
// is re-read on every retry so an operator can drop it in mid-wait.
func Load(ctx context.Context, log Logger) (Identity, error) {
	for {
		id, err := loadOnce()
		if err == nil {
			return id, nil
		}
		log.Warningf("identity: %v, retrying in %s", err, RetryInterval)

		select {
		case <-time.After(RetryInterval):
		case <-ctx.Done():
			return Identity{}, ctx.Err()
		}
	}
}

func loadOnce() (Identity, error) {
	raw, err := os.ReadFile(cloudConfigPath)
	if err != nil {
		return Identity{}, errJoin(ErrConfigMissing, err)
	}
	var cfg cloudConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Identity{}, errJoin(ErrConfigMissing, err)
	}
	if cfg.Cloud.ID == "" {
		return Identity{}, errJoin(ErrConfigMissing, errors.New("cloud.id is empty"))
	}

	return Identity{
		LocalID:         cfg.Cloud.ID,
		AdvertisedAlias: loadAlias(),
	}, nil
}

func loadAlias() string {
	raw, err := os.ReadFile(aliasPath)
	if err != nil {
		return DefaultAlias
	}
	line := strings.TrimSpace(strings.SplitN(string(raw), "\n", 2)[0])
	if line == "" {
		return DefaultAlias
	}
	return line
}

func errJoin(sentinel, detail error) error {
	return &configError{sentinel: sentinel, detail: detail}
}

type configError struct {
	sentinel error
	detail   error
}

func (e *configError) Error() string { return e.sentinel.Error() + ": " + e.detail.Error() }
func (e *configError) Unwrap() error { return e.sentinel }

// Logger is the subset of *logging.Logger that Load needs, so tests can
// pass a stub without constructing a real go-logging backend.
type Logger interface {
	Warningf(format string, args ...interface{})
}
