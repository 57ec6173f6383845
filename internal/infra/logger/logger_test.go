package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureProductionUsesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	Configure(l, &buf, "debug", "production")

	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	l.WithField("membership_id", 7).Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.EqualValues(t, 7, line["membership_id"])
}

func TestConfigureInvalidLevelFallsBackToInfo(t *testing.T) {
	l := logrus.New()
	Configure(l, &bytes.Buffer{}, "loud", "development")
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}

func TestCritical(t *testing.T) {
	l, hook := test.NewNullLogger()
	entry := logrus.NewEntry(l)

	Critical(entry).Error("no new billing cycle created")
	entry.Error("plain error")

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.True(t, IsCritical(entries[0]))
	assert.False(t, IsCritical(entries[1]))
}
