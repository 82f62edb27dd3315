package sysinfo_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/solverops/simtriage/pkg/sysinfo"
	"github.com/stretchr/testify/require"
)

func TestCollect(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	info := sysinfo.Collect(context.Background(), log)
	require.NotNil(t, info)

	// Probes may fail on exotic hosts, but Collect must always return a
	// usable struct.
	require.GreaterOrEqual(t, info.CPUCores, 0)
	require.GreaterOrEqual(t, info.MemoryTotalGB, 0.0)
}
