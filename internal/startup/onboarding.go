package startup

import (
	"context"
	"fmt"
	"strings"

	"github.com/danmuck/nodectl/internal/ipc"
	logs "github.com/danmuck/nodectl/internal/logging"
)

// Onboarding is the first-run flow reached when the sync check asks for it.
// Its actions are only valid while the orchestrator is in Onboarding.
type Onboarding struct {
	o *Orchestrator
}

func (ob *Onboarding) Network() string {
	return ob.o.Network()
}

func (ob *Onboarding) active() error {
	if state := ob.o.State(); state != StateOnboarding {
		return fmt.Errorf("%w: state=%s", ErrNotOnboarding, state)
	}
	return nil
}

// ChangeNetwork restarts the node on network with the same kind and
// reconnects. Failures are reported and leave the flow in Onboarding.
func (ob *Onboarding) ChangeNetwork(ctx context.Context, network string) error {
	o := ob.o
	o.opMu.Lock()
	defer o.opMu.Unlock()
	if err := ob.active(); err != nil {
		return err
	}
	network = strings.ToLower(strings.TrimSpace(network))
	if network == "" {
		return fmt.Errorf("startup: empty network")
	}

	// Only a node this instance spawned can be restarted.
	o.mu.Lock()
	managed := o.managed
	current := o.network
	o.mu.Unlock()
	if !managed {
		logs.Warnf("startup.Onboarding.ChangeNetwork refused unmanaged node network=%q requested=%q", current, network)
		o.reporter.Status(StatusEvent{Key: StatusNodeNotManaged, Detail: current})
		return fmt.Errorf("%w: running on %s", ErrUnmanagedNode, current)
	}

	logs.Infof("startup.Onboarding.ChangeNetwork kind=%q from=%q to=%q", o.cfg.Kind, current, network)
	o.releaseStartup()
	if err := o.node.Restart(ctx, o.cfg.Kind, network); err != nil {
		logs.Errf("startup.Onboarding.ChangeNetwork restart failed network=%q err=%v", network, err)
		o.reporter.Status(StatusEvent{Key: StatusNodeBinaryNotFound, Detail: err.Error()})
		return err
	}
	o.mu.Lock()
	o.managed = true
	o.network = network
	o.mu.Unlock()

	conn, err := o.registry.Get(ipc.SocketStartup).Connect(ctx, ipc.ConnectOptions{
		Path:    o.cfg.IPCPath,
		Timeout: o.cfg.ReadyTimeout,
	})
	if err != nil {
		logs.Errf("startup.Onboarding.ChangeNetwork reconnect failed network=%q err=%v", network, err)
		o.reporter.Status(StatusEvent{Key: StatusNodeConnectionTimeout, Detail: o.cfg.IPCPath})
		return err
	}
	o.attachStartupMux(conn)
	o.reporter.Status(StatusEvent{Key: StatusChangedNetwork, Detail: network})
	logs.Infof("startup.Onboarding.ChangeNetwork changed kind=%q network=%q", o.cfg.Kind, network)
	return nil
}

// Launch tears down the startup connection and hands the session to the main
// application. On failure the flow stays in Onboarding.
func (ob *Onboarding) Launch(ctx context.Context) (*Session, error) {
	o := ob.o
	o.opMu.Lock()
	defer o.opMu.Unlock()
	if err := ob.active(); err != nil {
		return nil, err
	}
	session, err := o.handoff(ctx)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.session = session
	o.mu.Unlock()
	o.fire(EventLaunch)
	return session, nil
}
