package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alnorchestrator/internal/catalog"
	"alnorchestrator/internal/clock"
	"alnorchestrator/internal/eventbus"
	"alnorchestrator/internal/idgen"
	"alnorchestrator/internal/models"
	"alnorchestrator/internal/store"
	"alnorchestrator/internal/transaction"
)

func newTestService(t *testing.T) (*Service, *eventbus.Bus, store.Store) {
	t.Helper()
	bus := eventbus.New()
	st := store.NewMemory()
	t.Cleanup(func() { st.Close() })
	clk := clock.New(bus)
	cat := catalog.New([]models.Token{{ID: "tok1", Value: 100}})
	txSvc := transaction.New(cat, bus, transaction.WithIDGenerator(&idgen.Sequence{Prefix: "tx"}))
	svc := New(st, bus, clk, txSvc, WithIDGenerator(&idgen.Sequence{Prefix: "sess"}))
	return svc, bus, st
}

func TestCreateSession(t *testing.T) {
	svc, bus, _ := newTestService(t)
	var created []models.Session
	bus.Subscribe(EventSessionCreated, func(data any) { created = append(created, data.(models.Session)) })

	sess, err := svc.CreateSession(context.Background(), "Game 1", []string{"Team Alpha", "Team Beta"})
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusActive, sess.Status)
	require.Len(t, sess.Scores, 2)
	require.Len(t, created, 1)
}

func TestCreateSession_EndsPrevious(t *testing.T) {
	svc, bus, _ := newTestService(t)
	var updated []models.Session
	bus.Subscribe(EventSessionUpdated, func(data any) { updated = append(updated, data.(models.Session)) })

	first, _ := svc.CreateSession(context.Background(), "Game 1", []string{"Team Alpha"})
	_, err := svc.CreateSession(context.Background(), "Game 2", []string{"Team Beta"})
	require.NoError(t, err)

	require.NotEmpty(t, updated)
	require.Equal(t, first.ID, updated[0].ID)
	require.Equal(t, models.SessionStatusEnded, updated[0].Status)
}

func TestUpdateSessionStatus_PauseResume(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.CreateSession(context.Background(), "Game 1", []string{"Team Alpha"})

	require.NoError(t, svc.UpdateSessionStatus(context.Background(), models.SessionStatusPaused))
	require.Equal(t, models.SessionStatusPaused, svc.Current().Status)

	require.NoError(t, svc.UpdateSessionStatus(context.Background(), models.SessionStatusActive))
	require.Equal(t, models.SessionStatusActive, svc.Current().Status)
}

func TestUpdateSessionStatus_IllegalTransition(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.CreateSession(context.Background(), "Game 1", []string{"Team Alpha"})
	require.NoError(t, svc.UpdateSessionStatus(context.Background(), models.SessionStatusEnded))

	err := svc.UpdateSessionStatus(context.Background(), models.SessionStatusActive)
	require.Error(t, err)
}

func TestAddTeamToSession(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.CreateSession(context.Background(), "Game 1", []string{"Team Alpha"})

	require.NoError(t, svc.AddTeamToSession(context.Background(), "Team Beta"))
	require.Len(t, svc.Current().Scores, 2)

	err := svc.AddTeamToSession(context.Background(), "Team Beta")
	require.Error(t, err)
}

func TestProcessScan_PersistsSession(t *testing.T) {
	svc, _, st := newTestService(t)
	sess, _ := svc.CreateSession(context.Background(), "Game 1", []string{"Team Alpha"})

	resp, err := svc.ProcessScan(context.Background(), models.ScanRequest{
		TokenID: "tok1", DeviceID: "gm1", DeviceType: models.DeviceTypeGM, TeamID: "Team Alpha",
	})
	require.NoError(t, err)
	require.Equal(t, "accepted", resp.Status)

	var reloaded models.Session
	found, err := store.LoadJSON(context.Background(), st, store.SessionKey(sess.ID), &reloaded)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, reloaded.Transactions, 1)
}

func TestRestore_RebuildsFromPersistedSession(t *testing.T) {
	svc, bus, st := newTestService(t)
	sess, _ := svc.CreateSession(context.Background(), "Game 1", []string{"Team Alpha"})
	svc.ProcessScan(context.Background(), models.ScanRequest{
		TokenID: "tok1", DeviceID: "gm1", DeviceType: models.DeviceTypeGM, TeamID: "Team Alpha",
	})
	wantScore := svc.Current().Scores[0].CurrentScore
	_ = sess

	clk2 := clock.New(bus)
	cat := catalog.New([]models.Token{{ID: "tok1", Value: 100}})
	txSvc2 := transaction.New(cat, bus)
	svc2 := New(st, bus, clk2, txSvc2)

	require.NoError(t, svc2.Restore(context.Background()))
	require.NotNil(t, svc2.Current())
	require.Equal(t, wantScore, svc2.Current().Scores[0].CurrentScore)
	require.True(t, svc2.Current().HasDeviceScannedToken("gm1", "tok1"))
}

func TestEndSession_Archives(t *testing.T) {
	svc, _, st := newTestService(t)
	sess, _ := svc.CreateSession(context.Background(), "Game 1", []string{"Team Alpha"})

	require.NoError(t, svc.EndSession(context.Background()))

	exists, err := st.Exists(context.Background(), store.ArchiveKey(sess.ID))
	require.NoError(t, err)
	require.True(t, exists)

	current, err := st.Exists(context.Background(), store.KeySessionCurrent)
	require.NoError(t, err)
	require.False(t, current)
}

func TestOvertimeWarningFiresOnce(t *testing.T) {
	bus := eventbus.New()
	st := store.NewMemory()
	t.Cleanup(func() { st.Close() })
	clk := clock.New(bus)
	cat := catalog.New(nil)
	txSvc := transaction.New(cat, bus)
	svc := New(st, bus, clk, txSvc, WithOvertimeWarning(5*time.Millisecond))

	fired := make(chan struct{}, 1)
	bus.Subscribe(EventSessionOvertime, func(data any) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	svc.CreateSession(context.Background(), "Game 1", []string{"Team Alpha"})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected session:overtime to fire")
	}
}
