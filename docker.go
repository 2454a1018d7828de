package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/docker/docker/pkg/namesgenerator"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"go.uber.org/zap"
)

// runLabel marks networks and containers created by this harness so an
// interrupted run can be cleaned up by label.
const runLabel = "basalt.harness.run"

type DockerOpt func(*Docker)

// NewDocker returns a fixture owning a docker pool and a network for the
// containers of one test run.
func NewDocker(opts ...DockerOpt) *Docker {
	f := &Docker{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func DockerName(name string) DockerOpt {
	return func(f *Docker) {
		f.name = name
	}
}

func DockerNamePrefix(namePrefix string) DockerOpt {
	return func(f *Docker) {
		f.namePrefix = namePrefix
	}
}

func DockerNetworkName(networkName string) DockerOpt {
	return func(f *Docker) {
		f.networkName = networkName
	}
}

type Docker struct {
	BaseFixture
	log            *zap.Logger
	name           string
	namePrefix     string
	networkName    string
	networkExisted bool
	pool           *dockertest.Pool
	network        *dockertest.Network
}

func (f *Docker) GetName() string {
	return f.name
}

func (f *Docker) GetNamePrefix() string {
	return f.namePrefix
}

func (f *Docker) GetNetworkName() string {
	return f.networkName
}

func (f *Docker) GetPool() *dockertest.Pool {
	return f.pool
}

func (f *Docker) GetNetwork() *dockertest.Network {
	return f.network
}

func (f *Docker) SetUp(ctx context.Context) error {
	f.log = logger()
	if f.namePrefix == "" {
		if f.name != "" {
			f.namePrefix = f.name
		} else {
			f.namePrefix = "basalt_test"
		}
	}

	if f.name == "" {
		f.name = f.namePrefix + "_" + namesgenerator.GetRandomName(0)
	}

	if f.networkName == "" {
		f.networkName = f.name
	}

	var err error
	if f.pool, err = dockertest.NewPool(""); err != nil {
		return err
	}

	if f.network, err = f.getOrCreateNetwork(); err != nil {
		return err
	}
	f.log.Debug("docker ready",
		zap.String("name", f.name), zap.String("network", f.networkName))
	return nil
}

func (f *Docker) TearDown(context.Context) error {
	if !f.networkExisted {
		if err := f.GetNetwork().Close(); err != nil {
			return err
		}
	}
	return nil
}

func (f *Docker) getOrCreateNetwork() (*dockertest.Network, error) {
	ns, err := f.GetPool().Client.FilteredListNetworks(map[string]map[string]bool{
		"name": {f.GetNetworkName(): true},
	})
	if err != nil {
		return nil, fmt.Errorf("error listing docker networks: %w", err)
	}
	if len(ns) == 1 {
		f.networkExisted = true
		// dockertest gives no way to build a Network with its pool set, so
		// Close() on this struct would panic. Pre-existing networks are
		// never closed anyway; the host container may be attached to them.
		return &dockertest.Network{Network: &ns[0]}, nil
	}

	nw, err := f.GetPool().CreateNetwork(f.networkName, func(config *docker.CreateNetworkOptions) {
		config.Labels = map[string]string{runLabel: CurrentRunID()}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create docker network: %w", err)
	}
	return nw, nil
}

// WaitForContainer blocks until the container exits and returns its exit
// code.
func WaitForContainer(pool *dockertest.Pool, resource *dockertest.Resource) (int, error) {
	exitCode, err := pool.Client.WaitContainer(resource.Container.ID)
	if err != nil {
		err = fmt.Errorf("unable to wait for container: %w", err)
	}
	return exitCode, err
}

// GetHostIP returns the container's address on the given network.
func GetHostIP(resource *dockertest.Resource, network *dockertest.Network) string {
	if n, ok := resource.Container.NetworkSettings.Networks[network.Network.Name]; ok {
		return n.IPAddress
	}
	return ""
}

// GetHostName returns the container name without the leading slash docker
// prepends.
func GetHostName(resource *dockertest.Resource) string {
	return resource.Container.Name[1:]
}

// GetContainerAddress returns the address tests should dial to reach the
// container. Inside a host container on a shared bridge network that is
// the container's own address; inside a host container without a shared
// network it is the gateway; otherwise it is localhost.
func GetContainerAddress(resource *dockertest.Resource, network *dockertest.Network) string {
	if UseBridgeNetwork(network) {
		return GetHostIP(resource, network)
	}
	if IsRunningInContainer() {
		gw := resource.Container.NetworkSettings.Gateway
		if gw != "" {
			return gw
		}
		if nw, ok := resource.Container.NetworkSettings.Networks[network.Network.Name]; ok {
			return nw.Gateway
		}
	}
	return "localhost"
}

// GetContainerTcpPort returns the port tests should dial. On a shared
// bridge network the exposed port works directly; otherwise the mapped
// port must be used.
func GetContainerTcpPort(resource *dockertest.Resource, network *dockertest.Network, port string) string {
	if UseBridgeNetwork(network) {
		return port
	}
	return resource.GetPort(fmt.Sprintf("%s/tcp", port))
}

// UseBridgeNetwork reports whether the current process runs in a container
// attached to the given network.
func UseBridgeNetwork(network *dockertest.Network) bool {
	hostname, err := os.Hostname()
	if err != nil {
		panic(fmt.Errorf("error retrieving hostname: %w", err))
	}
	for _, v := range network.Network.Containers {
		if v.Name == hostname {
			return true
		}
	}
	return false
}

// IsRunningInContainer checks if the current executable runs inside a
// docker container. Other engines, like podman, are not detected.
func IsRunningInContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	} else if errors.Is(err, os.ErrNotExist) {
		return false
	} else {
		panic(fmt.Errorf("error detecting if running inside container: %w", err))
	}
}

func getLogs(log *zap.Logger, containerID string, pool *dockertest.Pool) string {
	var buf bytes.Buffer
	logsOpts := docker.LogsOptions{
		Container:    containerID,
		OutputStream: &buf,
		Follow:       true,
		Stdout:       true,
		Stderr:       true,
		Timestamps:   true,
	}
	if err := pool.Client.Logs(logsOpts); err != nil {
		log.Warn("failed to read logs", zap.Error(err))
	}
	return buf.String()
}

func purge(p *dockertest.Pool, r *dockertest.Resource) {
	p.Purge(r)
	wg.Done()
}
