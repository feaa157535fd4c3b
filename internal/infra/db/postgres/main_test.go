//go:build integration

package postgres

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

var testPool *pgxpool.Pool

// TestMain uses SHOP_TEST_DATABASE_URL when set, otherwise a throwaway postgres container.
func TestMain(m *testing.M) {
	ctx := context.Background()

	dsn := os.Getenv("SHOP_TEST_DATABASE_URL")
	stop := func() {}
	if dsn == "" {
		var containerID string
		dsn, containerID = startContainer()
		stop = func() {
			if err := exec.Command("docker", "stop", containerID).Run(); err != nil {
				log.Printf("could not stop postgres container %s: %v", containerID, err)
			}
		}
	}

	// the container needs a few seconds before it accepts connections
	var err error
	logger := zerolog.Nop()
	for i := 0; i < 6; i++ {
		if testPool, err = Connect(ctx, dsn, &logger); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		stop()
		log.Fatalf("unable to connect to test database: %v", err)
	}
	if err := Migrate(ctx, testPool); err != nil {
		testPool.Close()
		stop()
		log.Fatalf("could not apply schema: %v", err)
	}

	code := m.Run()

	testPool.Close()
	stop()
	os.Exit(code)
}

func startContainer() (dsn, containerID string) {
	const (
		db, user, pass = "activation", "shop", "shop"
		port           = "55432"
	)
	cmd := exec.Command("docker", "run", "-d", "--rm",
		"-p", port+":5432",
		"-e", "POSTGRES_DB="+db,
		"-e", "POSTGRES_USER="+user,
		"-e", "POSTGRES_PASSWORD="+pass,
		"postgres:16-alpine",
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		log.Fatalf("could not start postgres container: %v. Is Docker running?", err)
	}
	id := strings.TrimSpace(out.String())
	if len(id) > 12 {
		id = id[:12]
	}
	return fmt.Sprintf("postgres://%s:%s@localhost:%s/%s?sslmode=disable", user, pass, port, db), id
}

func cleanup(t *testing.T) {
	t.Helper()
	if _, err := testPool.Exec(context.Background(), `TRUNCATE activation_codes, license, accounts`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}
