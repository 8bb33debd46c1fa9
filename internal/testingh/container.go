// Package testingh starts throwaway docker containers for integration suites.
package testingh

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/ory/dockertest"
	"github.com/ory/dockertest/docker"
)

var hostName = os.Getenv("OVERRIDE_HOSTNAME")

func init() {
	const defaultHostName = "localhost"

	if hostName == "" {
		hostName = defaultHostName
	}
}

type Container struct {
	resource *dockertest.Resource
}

// Spec describes the image to run. ContainerPort is the exposed port, e.g. "9000/tcp".
// When Cmd needs the published host port, BuildCmd receives it.
type Spec struct {
	Repository    string
	Tag           string
	Env           []string
	ContainerPort docker.Port
	BuildCmd      func(host string, hostPort int) []string
}

// NewContainer runs spec and retries connectFn with the published address until it succeeds.
func NewContainer(spec Spec, connectFn func(addr string) error) (*Container, error) {
	hostPort, err := getFreePort()
	if err != nil {
		return nil, fmt.Errorf("could not get free host port: %w", err)
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, fmt.Errorf("could not connect to docker: %w", err)
	}

	opts := &dockertest.RunOptions{
		Repository: spec.Repository,
		Tag:        spec.Tag,
		Env:        spec.Env,
		Auth: docker.AuthConfiguration{
			Username: os.Getenv("ARTIFACTORY_USER"),
			Password: os.Getenv("ARTIFACTORY_PWD"),
		},
		PortBindings: map[docker.Port][]docker.PortBinding{
			spec.ContainerPort: {{
				HostIP:   hostName,
				HostPort: strconv.Itoa(hostPort),
			}},
		},
	}
	if spec.BuildCmd != nil {
		opts.Cmd = spec.BuildCmd(hostName, hostPort)
	}

	resource, err := pool.RunWithOptions(opts, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{
			Name: "no",
		}
	})
	if err != nil {
		return nil, fmt.Errorf("could not create a container: %w", err)
	}

	container := &Container{
		resource: resource,
	}
	addr := fmt.Sprintf("%s:%s", hostName, resource.GetPort(string(spec.ContainerPort)))
	// the application in the container might not accept connections yet
	if err := pool.Retry(func() error {
		return connectFn(addr)
	}); err != nil {
		_ = resource.Close()
		return nil, fmt.Errorf("could not connect to container: %w", err)
	}

	return container, nil
}

func (c *Container) Purge() error {
	return c.resource.Close()
}

func Redpanda() Spec {
	return Spec{
		Repository:    "redpandadata/redpanda",
		Tag:           "latest",
		ContainerPort: "9092/tcp",
		BuildCmd: func(host string, hostPort int) []string {
			return []string{
				"redpanda start",
				"--overprovisioned",
				"--smp 1",
				"--memory 1G",
				"--reserve-memory 0M",
				"--node-id 0",
				"--check=false",
				fmt.Sprintf("--advertise-kafka-addr %s:%v", host, hostPort),
			}
		},
	}
}

func Clickhouse() Spec {
	return Spec{
		Repository: "clickhouse/clickhouse-server",
		Tag:        "latest-alpine",
		Env: []string{
			"CLICKHOUSE_DB=test_db",
			"CLICKHOUSE_DEFAULT_ACCESS_MANAGEMENT=1",
			"CLICKHOUSE_USER=su",
			"CLICKHOUSE_PASSWORD=su",
		},
		ContainerPort: "9000/tcp",
	}
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
