// Package provision obtains the per-session ServerConfig (loopback port and
// bearer token) that is injected into the backend and the gateway.
//
// A session provisions exactly once. Failures are terminal: there is no
// secure channel to the backend without a token, so nothing retries.
package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/nimbus/types"
)

// Provisioner produces a ServerConfig.
type Provisioner interface {
	Provision(ctx context.Context) (types.ServerConfig, error)
}

// ProvisioningError indicates no usable config could be obtained.
type ProvisioningError struct {
	// Source names the provisioner (host, static, ipc).
	Source string
	Err    error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning failed (%s): %v", e.Source, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// IsProvisioningError reports whether err is or wraps a ProvisioningError.
func IsProvisioningError(err error) bool {
	var pe *ProvisioningError
	return errors.As(err, &pe)
}

// sourcer is implemented by provisioners that name themselves in errors.
type sourcer interface {
	source() string
}

// Obtain runs p once and validates the result.
// Any failure, including an empty token, is returned as *ProvisioningError.
func Obtain(ctx context.Context, p Provisioner) (types.ServerConfig, error) {
	src := "unknown"
	if s, ok := p.(sourcer); ok {
		src = s.source()
	}

	cfg, err := p.Provision(ctx)
	if err != nil {
		if IsProvisioningError(err) {
			return types.ServerConfig{}, err
		}
		return types.ServerConfig{}, &ProvisioningError{Source: src, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return types.ServerConfig{}, &ProvisioningError{Source: src, Err: err}
	}
	return cfg, nil
}

// StaticProvisioner returns a fixed config, typically from the config file.
type StaticProvisioner struct {
	Config types.ServerConfig
}

// Provision implements Provisioner.
func (p *StaticProvisioner) Provision(context.Context) (types.ServerConfig, error) {
	return p.Config, nil
}

func (p *StaticProvisioner) source() string { return "static" }

// ConfigReader reads a config pushed by an embedding host.
// Implemented by *ipc.HostChannel.
type ConfigReader interface {
	ReadConfig(ctx context.Context) (types.ServerConfig, error)
}

// HostChannelProvisioner waits for the embedding host to send a config.
type HostChannelProvisioner struct {
	Reader ConfigReader
}

// Provision implements Provisioner.
func (p *HostChannelProvisioner) Provision(ctx context.Context) (types.ServerConfig, error) {
	if p.Reader == nil {
		return types.ServerConfig{}, errors.New("no host channel")
	}
	return p.Reader.ReadConfig(ctx)
}

func (p *HostChannelProvisioner) source() string { return "ipc" }
