package node

import (
	"fmt"
	"sort"
	"strings"
)

const (
	KindGeth = "geth"
	KindEth  = "eth"

	NetworkMain = "main"
	NetworkTest = "test"
)

// KindSpec describes how to launch one node implementation.
type KindSpec struct {
	Name        string
	Description string
	// IPCFlag names the flag that moves the IPC endpoint, if supported.
	IPCFlag string
	// Networks maps a network name onto its launch arguments.
	Networks map[string][]string
}

var catalog = map[string]KindSpec{
	KindGeth: {
		Name:        KindGeth,
		Description: "go-ethereum client",
		IPCFlag:     "--ipcpath",
		Networks: map[string][]string{
			NetworkMain: {"--fast", "--cache", "512"},
			NetworkTest: {"--testnet", "--fast", "--cache", "512"},
		},
	},
	KindEth: {
		Name:        KindEth,
		Description: "cpp-ethereum client",
		IPCFlag:     "--ipcpath",
		Networks: map[string][]string{
			NetworkMain: {},
			NetworkTest: {"--morden"},
		},
	},
}

// Kinds lists supported node kinds in stable order.
func Kinds() []KindSpec {
	out := make([]KindSpec, 0, len(catalog))
	for _, spec := range catalog {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

func LookupKind(kind string) (KindSpec, bool) {
	spec, ok := catalog[strings.ToLower(strings.TrimSpace(kind))]
	return spec, ok
}

// LaunchArgs builds the argument vector for kind on network. ipcPath is
// forwarded only when non-empty.
func LaunchArgs(kind, network, ipcPath string, extra []string) ([]string, error) {
	spec, ok := LookupKind(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	netArgs, ok := spec.Networks[strings.ToLower(strings.TrimSpace(network))]
	if !ok {
		return nil, fmt.Errorf("%w: %q for %s", ErrUnknownNetwork, network, spec.Name)
	}

	args := make([]string, 0, len(netArgs)+len(extra)+2)
	args = append(args, netArgs...)
	if strings.TrimSpace(ipcPath) != "" && spec.IPCFlag != "" {
		args = append(args, spec.IPCFlag, ipcPath)
	}
	for _, arg := range extra {
		if v := strings.TrimSpace(arg); v != "" {
			args = append(args, v)
		}
	}
	return args, nil
}
