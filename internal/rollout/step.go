// Package rollout builds the per-server upgrade step and provides the
// in-process SSH transport that can run it.
//
// A rollout step feeds the upgrade script to a remote shell on one server,
// passing the image reference and project name as positional parameters:
//
//	ssh <server> bash -s -- <registry:tag> <name>  < internals/docker/image-upgrade.sh
//
// With the exec transport the step runs through the local ssh binary via
// [runner.ExecRunner]. With the native transport the same step is executed by
// [SSHRunner] over golang.org/x/crypto/ssh. Either way the script's exit
// status is the only success signal.
package rollout

import (
	"alorg/internal/runner"
)

// StepName is the runner step name used for every rollout step.
const StepName = "rollout"

// Transport names; these match the values accepted in tool config.
const (
	TransportExec   = "exec"
	TransportNative = "native"
)

// Settings control how rollout steps are built.
type Settings struct {
	// Transport is [TransportExec] or [TransportNative].
	Transport string

	// SSHBinary is the ssh client used by the exec transport.
	SSHBinary string

	// Script is the absolute path of the upgrade script.
	Script string
}

// Target identifies one server rollout.
type Target struct {
	// Server is an ssh-style address: host, user@host or user@host:port.
	Server string

	// Image is the fully-qualified reference registry:tag.
	Image string

	// Name is the project name the container runs under.
	Name string
}

// NewStep builds the runner step that upgrades target.Server.
func NewStep(s Settings, target Target) runner.Step {
	remote := []string{"bash", "-s", "--", target.Image, target.Name}

	step := runner.Step{
		Name:      StepName,
		Target:    target.Server,
		StdinPath: s.Script,
	}

	if s.Transport == TransportNative {
		step.Program = remote[0]
		step.Args = remote[1:]
		return step
	}

	binary := s.SSHBinary
	if binary == "" {
		binary = "ssh"
	}
	step.Program = binary
	step.Args = append([]string{target.Server}, remote...)
	return step
}
