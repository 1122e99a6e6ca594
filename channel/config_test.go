package channel_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/channel"
)

func TestParseConfig(t *testing.T) {
	cfgs, err := channel.ParseConfig("root.mail:2, export:1:sequential ,root:4,sync:3:throttle=10:enqueued_delta=60:started_delta=0:removal_interval=7")
	require.NoError(t, err)
	require.Len(t, cfgs, 4)

	assert.Equal(t, "root", cfgs[0].Path, "root comes first")
	assert.Equal(t, 4, cfgs[0].Capacity)

	byPath := map[string]channel.Config{}
	for _, c := range cfgs {
		byPath[c.Path] = c
	}
	assert.Equal(t, 2, byPath["root.mail"].Capacity)
	assert.True(t, byPath["root.export"].Sequential)

	sync := byPath["root.sync"]
	assert.Equal(t, 10*time.Second, sync.Throttle)
	require.NotNil(t, sync.EnqueuedDelta)
	assert.Equal(t, time.Minute, *sync.EnqueuedDelta)
	require.NotNil(t, sync.StartedDelta)
	assert.Equal(t, time.Duration(0), *sync.StartedDelta)
	assert.Equal(t, 7*24*time.Hour, sync.RemovalInterval)
}

func TestParseConfig_DefaultsRoot(t *testing.T) {
	cfgs, err := channel.ParseConfig("root.mail:2")
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	assert.Equal(t, channel.Config{Path: "root", Capacity: 1}, cfgs[0])

	cfgs, err = channel.ParseConfig("")
	require.NoError(t, err)
	assert.Equal(t, []channel.Config{{Path: "root", Capacity: 1}}, cfgs)
}

func TestParseConfig_Errors(t *testing.T) {
	for _, in := range []string{
		"root:-1",
		"root:4:bogus",
		"root:4:throttle=abc",
		"root:4:throttle=-3",
		"root.mail:1,mail:2",
		"root..mail:1",
		":3",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := channel.ParseConfig(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, queuejob.ErrInvalidChannel), "err = %v", err)
		})
	}
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "root", channel.NormalizePath(""))
	assert.Equal(t, "root", channel.NormalizePath("root"))
	assert.Equal(t, "root.mail", channel.NormalizePath("mail"))
	assert.Equal(t, "root.mail", channel.NormalizePath("root.mail"))
	assert.Equal(t, "root.rooted", channel.NormalizePath("rooted"))
	assert.Equal(t, "root.a", channel.Parent("root.a.b")[:6])
	assert.Equal(t, "", channel.Parent("root"))
}
