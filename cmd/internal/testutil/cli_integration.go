//go:build integration

// Package testutil runs CLI binaries against a disposable MySQL in containers.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/go-sql-driver/mysql"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	mysqlImage     = "mysql:8.0.36"
	mysqlAlias     = "mysql"
	mysqlDatabase  = "outbox"
	mysqlPassword  = "secret"
	cliImage       = "alpine:3.20"
	cliPath        = "/outbox-sync"
	cliExitTimeout = 2 * time.Minute
	startupTimeout = 2 * time.Minute
)

// MySQL is a running MySQL container reachable from the host (DB) and from sibling containers on
// Network (DSN).
type MySQL struct {
	Network *testcontainers.DockerNetwork
	DB      *sql.DB
	DSN     string
}

func dsn(host, port string) string {
	return fmt.Sprintf("root:%s@tcp(%s:%s)/%s?parseTime=true", mysqlPassword, host, port, mysqlDatabase)
}

// StartMySQL starts MySQL on a fresh network. The test is skipped when Docker is unavailable.
func StartMySQL(t *testing.T, ctx context.Context) MySQL {
	t.Helper()

	net, err := network.New(ctx)
	if err != nil {
		t.Skipf("create network: %v", err)
	}
	t.Cleanup(func() {
		_ = net.Remove(ctx)
	})

	port := nat.Port("3306/tcp")
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        mysqlImage,
			ExposedPorts: []string{string(port)},
			Env: map[string]string{
				"MYSQL_ROOT_PASSWORD": mysqlPassword,
				"MYSQL_DATABASE":      mysqlDatabase,
			},
			Networks:       []string{net.Name},
			NetworkAliases: map[string][]string{net.Name: {mysqlAlias}},
			WaitingFor: wait.ForSQL(port, "mysql", func(host string, port nat.Port) string {
				return dsn(host, port.Port())
			}).WithStartupTimeout(startupTimeout),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("start mysql container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("resolve host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("resolve port: %v", err)
	}

	db, err := sql.Open("mysql", dsn(host, mapped.Port()))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return MySQL{Network: net, DB: db, DSN: dsn(mysqlAlias, "3306")}
}

// BuildBinary compiles pkg for linux so it can run inside the CLI container.
func BuildBinary(t *testing.T, pkg string) string {
	t.Helper()

	bin := filepath.Join(t.TempDir(), "outbox-sync")
	cmd := exec.Command("go", "build", "-o", bin, pkg)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0", "GOOS=linux", "GOARCH="+runtime.GOARCH)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build %s: %v\n%s", pkg, err, out)
	}

	return bin
}

// RunCLI runs the binary with args and env on networkName and returns its exit code and combined
// output.
func RunCLI(t *testing.T, ctx context.Context, networkName, binary string, env map[string]string, args ...string) (int, string) {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      cliImage,
			Entrypoint: []string{cliPath},
			Cmd:        args,
			Env:        env,
			Networks:   []string{networkName},
			Files: []testcontainers.ContainerFile{{
				HostFilePath:      binary,
				ContainerFilePath: cliPath,
				FileMode:          0o755,
			}},
			WaitingFor: wait.ForExit().WithExitTimeout(cliExitTimeout),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start cli container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	logs, err := container.Logs(ctx)
	if err != nil {
		t.Fatalf("read cli logs: %v", err)
	}
	defer logs.Close()
	out, err := io.ReadAll(logs)
	if err != nil {
		t.Fatalf("read cli logs: %v", err)
	}

	state, err := container.State(ctx)
	if err != nil {
		t.Fatalf("read cli state: %v", err)
	}

	return state.ExitCode, string(out)
}
