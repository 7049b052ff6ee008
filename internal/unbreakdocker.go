package internal

import (
	"os"
	"os/exec"
)

// UnbreakDocker attaches the current container to the default bridge network
// so that tests running inside a dev container can reach containers started by
// testcontainers.
func UnbreakDocker() {
	// XXX: This only works when the hostname is the container id, which is the
	// docker default.
	if hostname, err := os.Hostname(); err == nil {
		exec.Command("docker", "network", "connect", "bridge", hostname).Run()
	}
}
