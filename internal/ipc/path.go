package ipc

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	socketFile   = "geth.ipc"
	windowsPipe  = `\\.\pipe\geth.ipc`
	testnetDir   = "testnet"
	networkTest  = "test"
	darwinSubdir = "Library/Ethereum"
	unixSubdir   = ".ethereum"
)

// DefaultPath returns the node's IPC endpoint for network on this platform.
func DefaultPath(network string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return defaultPath(runtime.GOOS, home, network)
}

func defaultPath(goos, home, network string) string {
	if goos == "windows" {
		return windowsPipe
	}
	base := filepath.Join(home, unixSubdir)
	if goos == "darwin" {
		base = filepath.Join(home, darwinSubdir)
	}
	if network == networkTest {
		base = filepath.Join(base, testnetDir)
	}
	return filepath.Join(base, socketFile)
}
