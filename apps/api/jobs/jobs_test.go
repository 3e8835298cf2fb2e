package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/session"
	"github.com/trezcool/edusmart/tests"
)

func TestScheduler_PurgeSessions(t *testing.T) {
	ctx := context.Background()
	schools, _ := testutil.NewSchoolService(t, testutil.NewStore(t))
	clock := testutil.NewClock(time.Date(2024, time.March, 1, 8, 0, 0, 0, time.UTC))
	schools.SetClock(clock.Now)
	sessions := testutil.NewSessionService(schools)

	old, err := sessions.Create(ctx, session.Session{Role: session.RoleSuper})
	require.NoError(t, err)
	clock.Advance(sessions.TTL() / 2)
	fresh, err := sessions.Create(ctx, session.Session{Role: session.RoleSuper})
	require.NoError(t, err)
	clock.Advance(sessions.TTL()/2 + time.Second)

	s := NewScheduler(core.NewTestConfig(), sessions, core.NopLogger{})
	s.PurgeSessions()

	_, err = sessions.Get(ctx, old.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, err = sessions.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestScheduler_Start(t *testing.T) {
	schools, _ := testutil.NewSchoolService(t, testutil.NewStore(t))
	sessions := testutil.NewSessionService(schools)

	conf := core.NewTestConfig()
	conf.Server.SessionGCSpec = "every now and then"
	assert.Error(t, NewScheduler(conf, sessions, core.NopLogger{}).Start())

	s := NewScheduler(core.NewTestConfig(), sessions, core.NopLogger{})
	require.NoError(t, s.Start())
	<-s.Stop().Done()
}

func TestKVMap(t *testing.T) {
	assert.Equal(t, map[string]interface{}{"now": 1, "entry": "x"}, kvMap([]interface{}{"now", 1, "entry", "x", "dangling"}))
}
