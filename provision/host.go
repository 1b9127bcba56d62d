package provision

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net"

	"github.com/pithecene-io/nimbus/iox"
	"github.com/pithecene-io/nimbus/types"
)

// DefaultTokenLength is the length of generated tokens.
const DefaultTokenLength = 32

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// HostProvisioner allocates a config in-process: a free loopback port and a
// random alphanumeric token.
type HostProvisioner struct {
	// Port pins the port. Zero picks a free one.
	Port int
	// TokenLength overrides DefaultTokenLength when positive.
	TokenLength int
}

// Provision implements Provisioner.
func (p *HostProvisioner) Provision(ctx context.Context) (types.ServerConfig, error) {
	port := p.Port
	if port == 0 {
		var err error
		port, err = FreePort(ctx)
		if err != nil {
			return types.ServerConfig{}, err
		}
	}

	n := p.TokenLength
	if n <= 0 {
		n = DefaultTokenLength
	}
	token, err := GenerateToken(n)
	if err != nil {
		return types.ServerConfig{}, err
	}

	return types.ServerConfig{Port: port, Token: token}, nil
}

func (p *HostProvisioner) source() string { return "host" }

// FreePort asks the kernel for an unused loopback port.
// The listener is closed before returning, so the port is only likely free.
func FreePort(ctx context.Context) (int, error) {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", net.JoinHostPort(types.LoopbackHost, "0"))
	if err != nil {
		return 0, fmt.Errorf("allocate port: %w", err)
	}
	defer iox.DiscardClose(l)

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("allocate port: unexpected address %v", l.Addr())
	}
	return addr.Port, nil
}

// GenerateToken returns n random characters from [A-Za-z0-9].
func GenerateToken(n int) (string, error) {
	limit := big.NewInt(int64(len(tokenAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		buf[i] = tokenAlphabet[idx.Int64()]
	}
	return string(buf), nil
}
