// Package portforward is the Port-Forward Registry (C5): in developer
// mode, it tunnels an ephemeral local port to a pod's remote port so a
// developer on the same machine as the engine can reach a task's UI
// without cluster-level networking. Realised as a local TCP relay
// (net.Listener + io.Copy) rather than a subprocess wrapping the
// orchestrator CLI's own port-forward command, since containerd has no
// such CLI to wrap — in-cluster mode never uses this package at all,
// proxying straight to the pod IP instead.
package portforward
