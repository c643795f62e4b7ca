package engine

import (
	"os"
	"testing"

	"github.com/mdbcdc/replicator/pkg/repl"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func TestSettingsDSN(t *testing.T) {
	s := Settings{Host: "127.0.0.1", Port: 3306, User: "repl", Password: "secret", DBName: "app"}
	assert.Equal(t, "repl:secret@tcp(127.0.0.1:3306)/app", s.DSN())
}

func TestSettingsDSNDefaultsPort(t *testing.T) {
	s := Settings{Host: "127.0.0.1", User: "repl", Password: "secret", DBName: "app"}
	assert.Equal(t, "repl:secret@tcp(127.0.0.1:3306)/app", s.DSN())
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, dedupe([]string{"a", "b", "a", "c", "b"}))
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, 4, s.SnapshotWorkers)
	assert.Equal(t, int64(1000), s.SnapshotBatch)
	assert.NotNil(t, s.DBConfig)
}

func TestEngineStatusBeforeRun(t *testing.T) {
	e := New(DefaultSettings(), logrus.New())
	status := e.status()
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "INIT", string(status.Stage))
	assert.Nil(t, status.Error)
	assert.Nil(t, status.ConsumerGTID)
}

func TestEngineStatusReflectsStageAndGTID(t *testing.T) {
	e := New(DefaultSettings(), logrus.New())
	e.setStage(StageStream)
	e.gtids.Observe(0, 42)

	status := e.status()
	assert.Equal(t, "STREAM", string(status.Stage))
	assert.NotNil(t, status.ConsumerGTID)
	assert.Equal(t, repl.GTIDSet{0: 42}.String(), *status.ConsumerGTID)
}

func TestEngineStatusReflectsError(t *testing.T) {
	e := New(DefaultSettings(), logrus.New())
	e.setError(assert.AnError)

	status := e.status()
	assert.Equal(t, "error", status.Status)
	assert.NotNil(t, status.Error)
	assert.Equal(t, assert.AnError.Error(), *status.Error)
}
