package brokertest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RabbitMQ starts a RabbitMQ container with an admin/admin account and
// returns its AMQP URL. The container is terminated when the test finishes.
func RabbitMQ(t testing.TB) string {
	t.Helper()
	return startContainer(t, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-alpine",
		ExposedPorts: []string{"5672/tcp"},
		Env: map[string]string{
			"RABBITMQ_DEFAULT_USER": "admin",
			"RABBITMQ_DEFAULT_PASS": "admin",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5672/tcp"),
			wait.ForLog("Server startup complete"),
		).WithDeadline(90 * time.Second),
	}, "5672", "amqp://%s:%s/")
}

// Mosquitto starts an anonymous-access MQTT broker and returns its tcp URL.
func Mosquitto(t testing.TB) string {
	t.Helper()
	return startContainer(t, testcontainers.ContainerRequest{
		Image:        "eclipse-mosquitto:2",
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort("1883/tcp").WithStartupTimeout(30 * time.Second),
	}, "1883", "tcp://%s:%s")
}

func startContainer(t testing.TB, req testcontainers.ContainerRequest, port, urlFormat string) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start %s container: %v", req.Image, err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, tcpPort(port))
	if err != nil {
		t.Fatalf("failed to get mapped port: %v", err)
	}
	return fmt.Sprintf(urlFormat, host, mapped.Port())
}

func tcpPort(port string) nat.Port {
	return nat.Port(port + "/tcp")
}
