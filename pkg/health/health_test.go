package health

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func TestServeAnswersWithStatus(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "health.sock")
	provider := func() Status {
		return Status{Status: "ok", Stage: StageStream, SnapshotRowsTotal: 10, SnapshotRowsParsed: 10}
	}
	srv, err := NewServer(sockPath, provider, logrus.New())
	assert.NoError(t, err)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		srv.Serve(stop)
		close(done)
	}()

	conn, err := net.DialTimeout("unix", sockPath, time.Second)
	assert.NoError(t, err)
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	assert.NoError(t, err)

	var status Status
	assert.NoError(t, json.Unmarshal([]byte(line), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, StageStream, status.Stage)
	assert.Equal(t, int64(10), status.SnapshotRowsTotal)

	close(stop)
	assert.NoError(t, srv.Close())
	<-done
}

func TestNewServerUnlinksStaleSocket(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "health.sock")
	assert.NoError(t, os.WriteFile(sockPath, []byte("stale"), 0o644))

	srv, err := NewServer(sockPath, func() Status { return Status{} }, logrus.New())
	assert.NoError(t, err)
	assert.NoError(t, srv.Close())
}

func TestGTIDDiffNilInputs(t *testing.T) {
	consumer := "0-1-10"
	assert.Equal(t, uint64(0), GTIDDiff(nil, &consumer))
	server := "0-1-10"
	assert.Equal(t, uint64(0), GTIDDiff(&server, nil))
}

func TestGTIDDiffComputesLag(t *testing.T) {
	server := "0-1-100"
	consumer := "0-1-80"
	assert.Equal(t, uint64(20), GTIDDiff(&server, &consumer))
}

func TestGTIDDiffUnparseableYieldsZero(t *testing.T) {
	server := "garbage"
	consumer := "0-1-80"
	assert.Equal(t, uint64(0), GTIDDiff(&server, &consumer))
}
