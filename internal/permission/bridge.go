package permission

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// HostBridge is the optional permission surface of an embedding host.
type HostBridge interface {
	HasPermission(ctx context.Context, capability string) (bool, error)
	RequestPermission(ctx context.Context, capability string) (bool, error)
}

// CommandBridge asks a helper program installed by the host:
//
//	<cmd> has <capability>      prints "true" or "false"
//	<cmd> request <capability>  prints "granted" or anything else
type CommandBridge struct {
	Path string
	Args []string
}

// DetectBridge returns nil when the host configured no bridge.
func DetectBridge(command string) HostBridge {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	if _, err := exec.LookPath(fields[0]); err != nil {
		log.Warn().Err(err).Str("module", "permission").Str("bridge", fields[0]).Msg("host bridge not found, ignoring")
		return nil
	}
	return &CommandBridge{Path: fields[0], Args: fields[1:]}
}

func (b *CommandBridge) run(ctx context.Context, verb, capability string) (string, error) {
	args := append(append([]string{}, b.Args...), verb, capability)
	cmd := exec.CommandContext(ctx, b.Path, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("host bridge %s %s: %w", verb, capability, err)
	}
	return strings.TrimSpace(out.String()), nil
}

func (b *CommandBridge) HasPermission(ctx context.Context, capability string) (bool, error) {
	out, err := b.run(ctx, "has", capability)
	if err != nil {
		return false, err
	}
	return out == "true", nil
}

func (b *CommandBridge) RequestPermission(ctx context.Context, capability string) (bool, error) {
	out, err := b.run(ctx, "request", capability)
	if err != nil {
		return false, err
	}
	return out == "granted", nil
}
