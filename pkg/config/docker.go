package config

import (
	"net"
	"os"
	"strings"
	"sync"
)

// dockerHostAlias reaches the host machine from inside a container.
const dockerHostAlias = "host.docker.internal"

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether the process runs inside a Docker container,
// detected by /.dockerenv. The result is cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker rewrites loopback warehouse and target hosts to
// host.docker.internal when running in Docker, so a containerized replica can
// sample a warehouse published on the host. REPLICA_DOCKER_HOST replaces the alias
// for runtimes that name the host differently (e.g. podman's host.containers.internal).
func ResolveHostForDocker(host string) string {
	return resolveHost(host, IsRunningInDocker())
}

func resolveHost(host string, inDocker bool) string {
	if !inDocker || !isLoopback(host) {
		return host
	}
	if alias := strings.TrimSpace(os.Getenv("REPLICA_DOCKER_HOST")); alias != "" {
		return alias
	}
	return dockerHostAlias
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
