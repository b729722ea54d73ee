package config

import (
	"os"
	"strings"
	"sync"
)

var (
	dockerOnce   sync.Once
	dockerResult bool
)

// IsRunningInDocker reports whether the engine is inside a container.
// Detection checks /.dockerenv first, then the cgroup of PID 1. The result
// is cached after the first call.
func IsRunningInDocker() bool {
	dockerOnce.Do(func() {
		if _, err := os.Stat("/.dockerenv"); err == nil {
			dockerResult = true
			return
		}
		if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
			dockerResult = strings.Contains(string(data), "docker") ||
				strings.Contains(string(data), "containerd")
		}
	})
	return dockerResult
}

// ResolveHostForDocker maps localhost warehouse and provider addresses to
// host.docker.internal so a containerized engine can reach services running
// on the host machine. Non-local hosts pass through unchanged.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}

	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}

	return host
}
