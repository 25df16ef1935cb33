package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djyosi/rubisos/internal/models"
	"github.com/djyosi/rubisos/internal/push"
	"github.com/djyosi/rubisos/internal/repository"
)

// Tel Aviv, and a helper to offset a point north by roughly km kilometers.
var origin = models.Location{Lat: 32.0853, Lng: 34.7818}

func northOf(base models.Location, km float64) models.Location {
	return models.Location{Lat: base.Lat + km/111.195, Lng: base.Lng}
}

type fakeConn struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (c *fakeConn) Send(event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) eventsOf(eventType string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, e := range c.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakePush struct {
	Token string
	Note  push.Notification
}

type fakePusher struct {
	mu     sync.Mutex
	pushes []fakePush
}

func (p *fakePusher) Push(_ context.Context, deviceToken string, n push.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, fakePush{Token: deviceToken, Note: n})
	return nil
}

func (p *fakePusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushes)
}

type testEngine struct {
	registry   *PresenceRegistry
	alerts     *AlertManager
	dispatcher *Dispatcher
	pusher     *fakePusher
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	store := repository.NewMemoryStore()
	registry := NewPresenceRegistry(10, store)
	pusher := &fakePusher{}
	alerts := NewAlertManager(time.Hour, store)
	notifier := NewNotifier(registry, pusher)
	return &testEngine{
		registry:   registry,
		alerts:     alerts,
		dispatcher: NewDispatcher(registry, NewMatcher(registry), alerts, notifier),
		pusher:     pusher,
	}
}

// connect registers a profile and attaches a live connection at loc.
func (e *testEngine) connect(t *testing.T, phone, name string, loc models.Location) (string, *fakeConn) {
	t.Helper()
	user := e.registry.UpsertProfile(models.User{Phone: phone, Name: name})
	conn := &fakeConn{}
	_, err := e.dispatcher.Register(user.ID, conn, &loc, "")
	require.NoError(t, err)
	return user.ID, conn
}

func waitForEvent(t *testing.T, conn *fakeConn, eventType string) Event {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(conn.eventsOf(eventType)) > 0
	}, time.Second, 5*time.Millisecond, "expected %s event", eventType)
	return conn.eventsOf(eventType)[0]
}

func TestSendSOSNotifiesOnlyUsersInsideBothRadii(t *testing.T) {
	e := newTestEngine(t)
	senderID, senderConn := e.connect(t, "+972500000001", "Dana", origin)
	_, nearConn := e.connect(t, "+972500000002", "Noa", northOf(origin, 2))
	_, farConn := e.connect(t, "+972500000003", "Avi", northOf(origin, 15))

	sent, err := e.dispatcher.SendSOS(senderID, models.AlertMedical, origin, "chest pain")
	require.NoError(t, err)
	assert.Equal(t, 1, sent.HelpersNotified)
	assert.NotEmpty(t, sent.AlertID)

	incoming := waitForEvent(t, nearConn, "incoming-alert")
	payload := incoming.Data.(IncomingAlertPayload)
	assert.Equal(t, sent.AlertID, payload.AlertID)
	assert.Equal(t, "Dana", payload.SenderName)
	assert.Equal(t, models.AlertMedical, payload.Type)
	assert.Equal(t, "critical", payload.Priority)
	assert.InDelta(t, 2, payload.DistanceKm, 0.1)

	assert.Empty(t, farConn.eventsOf("incoming-alert"))
	assert.Empty(t, senderConn.eventsOf("incoming-alert"))

	alert, err := e.alerts.Get(sent.AlertID)
	require.NoError(t, err)
	require.Len(t, alert.Recipients, 1)
	assert.Equal(t, models.MethodLive, alert.Recipients[0].Method)
}

func TestSendSOSRespectsRecipientOwnRadius(t *testing.T) {
	e := newTestEngine(t)
	senderID, _ := e.connect(t, "+972500000001", "Dana", origin)
	require.NoError(t, e.registry.UpdateSettings(senderID, 50, true, nil))

	// 8 km away, but opted into a 5 km catchment.
	helperID, helperConn := e.connect(t, "+972500000002", "Noa", northOf(origin, 8))
	require.NoError(t, e.registry.UpdateSettings(helperID, 5, true, nil))

	sent, err := e.dispatcher.SendSOS(senderID, models.AlertFire, origin, "")
	require.NoError(t, err)
	assert.Equal(t, 0, sent.HelpersNotified)
	assert.Empty(t, helperConn.eventsOf("incoming-alert"))
}

func TestSendSOSDefersToPushForOfflineRecipients(t *testing.T) {
	e := newTestEngine(t)
	senderID, _ := e.connect(t, "+972500000001", "Dana", origin)

	helperID, _ := e.connect(t, "+972500000002", "Noa", northOf(origin, 2))
	require.NoError(t, e.registry.SetPushToken(helperID, "device-token-1"))
	e.dispatcher.Disconnect(helperID)

	sent, err := e.dispatcher.SendSOS(senderID, models.AlertSecurity, origin, "")
	require.NoError(t, err)
	assert.Equal(t, 1, sent.HelpersNotified)

	require.Eventually(t, func() bool { return e.pusher.count() == 1 }, time.Second, 5*time.Millisecond)
	e.pusher.mu.Lock()
	defer e.pusher.mu.Unlock()
	assert.Equal(t, "device-token-1", e.pusher.pushes[0].Token)
	assert.Equal(t, sent.AlertID, e.pusher.pushes[0].Note.AlertID)

	alert, err := e.alerts.Get(sent.AlertID)
	require.NoError(t, err)
	require.Len(t, alert.Recipients, 1)
	assert.Equal(t, models.MethodDeferred, alert.Recipients[0].Method)
}

func TestSendSOSRequiresLivePresence(t *testing.T) {
	e := newTestEngine(t)
	user := e.registry.UpsertProfile(models.User{Phone: "+972500000001", Name: "Dana"})

	_, err := e.dispatcher.SendSOS(user.ID, models.AlertOther, origin, "")
	assert.ErrorIs(t, err, ErrSenderNotRegistered)

	id, _ := e.connect(t, "+972500000002", "Noa", origin)
	_, err = e.dispatcher.SendSOS(id, models.AlertOther, models.Location{Lat: 95, Lng: 0}, "")
	assert.ErrorIs(t, err, ErrInvalidCoordinates)
}

func TestRespondComputesNavigationAndNotifiesSender(t *testing.T) {
	e := newTestEngine(t)
	senderID, senderConn := e.connect(t, "+972500000001", "Dana", origin)
	responderID, _ := e.connect(t, "+972500000002", "Noa", northOf(origin, 6))

	sent, err := e.dispatcher.SendSOS(senderID, models.AlertAccident, origin, "")
	require.NoError(t, err)

	nav, err := e.dispatcher.Respond(responderID, sent.AlertID)
	require.NoError(t, err)
	// 6 km driving at 30 km/h.
	assert.Equal(t, 12, nav.ETA.Minutes)
	assert.InDelta(t, 6, nav.DistanceKm, 0.05)
	assert.Equal(t, sent.AlertID, nav.AlertID)
	assert.Contains(t, nav.MapURLs.Waze, "waze://")

	help := waitForEvent(t, senderConn, "help-coming")
	payload := help.Data.(HelpComingPayload)
	assert.Equal(t, "Noa", payload.ResponderName)
	assert.Equal(t, 12, payload.ETA.Minutes)

	responder, ok := e.registry.Get(responderID)
	require.True(t, ok)
	assert.Equal(t, 1, responder.AlertsResponded)
}

func TestRespondTwiceSurfacesAlreadyResponded(t *testing.T) {
	e := newTestEngine(t)
	senderID, _ := e.connect(t, "+972500000001", "Dana", origin)
	responderID, _ := e.connect(t, "+972500000002", "Noa", northOf(origin, 3))

	sent, err := e.dispatcher.SendSOS(senderID, models.AlertMedical, origin, "")
	require.NoError(t, err)

	_, err = e.dispatcher.Respond(responderID, sent.AlertID)
	require.NoError(t, err)
	_, err = e.dispatcher.Respond(responderID, sent.AlertID)
	assert.ErrorIs(t, err, ErrAlreadyResponded)

	alert, err := e.alerts.Get(sent.AlertID)
	require.NoError(t, err)
	assert.Len(t, alert.Responders, 1)
}

func TestMarkArrivedNotifiesSender(t *testing.T) {
	e := newTestEngine(t)
	senderID, senderConn := e.connect(t, "+972500000001", "Dana", origin)
	responderID, _ := e.connect(t, "+972500000002", "Noa", northOf(origin, 3))

	sent, err := e.dispatcher.SendSOS(senderID, models.AlertMedical, origin, "")
	require.NoError(t, err)
	_, err = e.dispatcher.Respond(responderID, sent.AlertID)
	require.NoError(t, err)

	require.NoError(t, e.dispatcher.MarkArrived(responderID, sent.AlertID))

	arrived := waitForEvent(t, senderConn, "responder-arrived")
	assert.Equal(t, "Noa", arrived.Data.(ResponderArrivedPayload).ResponderName)

	// Never responded: surfaced as an error, not a crash.
	strangerID, _ := e.connect(t, "+972500000003", "Avi", origin)
	assert.ErrorIs(t, e.dispatcher.MarkArrived(strangerID, sent.AlertID), ErrResponderNotFound)
}

func TestCancelFansOutToAllResponders(t *testing.T) {
	e := newTestEngine(t)
	senderID, _ := e.connect(t, "+972500000001", "Dana", origin)
	firstID, firstConn := e.connect(t, "+972500000002", "Noa", northOf(origin, 2))
	secondID, secondConn := e.connect(t, "+972500000003", "Avi", northOf(origin, 4))

	sent, err := e.dispatcher.SendSOS(senderID, models.AlertFire, origin, "")
	require.NoError(t, err)
	_, err = e.dispatcher.Respond(firstID, sent.AlertID)
	require.NoError(t, err)
	_, err = e.dispatcher.Respond(secondID, sent.AlertID)
	require.NoError(t, err)

	// Only the sender may cancel.
	assert.ErrorIs(t, e.dispatcher.Cancel(firstID, sent.AlertID), ErrNotAuthorized)

	require.NoError(t, e.dispatcher.Cancel(senderID, sent.AlertID))

	first := waitForEvent(t, firstConn, "alert-cancelled")
	second := waitForEvent(t, secondConn, "alert-cancelled")
	assert.Equal(t, sent.AlertID, first.Data.(AlertClosedPayload).AlertID)
	assert.Equal(t, sent.AlertID, second.Data.(AlertClosedPayload).AlertID)

	// The alert is terminal now.
	lateID, _ := e.connect(t, "+972500000004", "Tal", origin)
	_, err = e.dispatcher.Respond(lateID, sent.AlertID)
	assert.ErrorIs(t, err, ErrAlertNotActive)
}

func TestResponderMayResolve(t *testing.T) {
	e := newTestEngine(t)
	senderID, _ := e.connect(t, "+972500000001", "Dana", origin)
	responderID, responderConn := e.connect(t, "+972500000002", "Noa", northOf(origin, 2))
	strangerID, _ := e.connect(t, "+972500000003", "Avi", northOf(origin, 3))

	sent, err := e.dispatcher.SendSOS(senderID, models.AlertMedical, origin, "")
	require.NoError(t, err)
	_, err = e.dispatcher.Respond(responderID, sent.AlertID)
	require.NoError(t, err)

	assert.ErrorIs(t, e.dispatcher.Resolve(strangerID, sent.AlertID, ""), ErrNotAuthorized)
	require.NoError(t, e.dispatcher.Resolve(responderID, sent.AlertID, "all clear"))

	waitForEvent(t, responderConn, "alert-resolved")

	alert, err := e.alerts.Get(sent.AlertID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, alert.Status)
	assert.Equal(t, responderID, alert.ResolvedBy)
	assert.Equal(t, "all clear", alert.ResolutionNotes)
}

func TestRegisterReportsNearbyHelpers(t *testing.T) {
	e := newTestEngine(t)
	e.connect(t, "+972500000001", "Noa", northOf(origin, 2))
	e.connect(t, "+972500000002", "Avi", northOf(origin, 15))

	user := e.registry.UpsertProfile(models.User{Phone: "+972500000003", Name: "Dana"})
	loc := origin
	payload, err := e.dispatcher.Register(user.ID, &fakeConn{}, &loc, "token-1")
	require.NoError(t, err)
	assert.True(t, payload.Success)
	assert.Equal(t, 1, payload.NearbyCount)

	stored, _ := e.registry.Get(user.ID)
	assert.Equal(t, "token-1", stored.PushToken)
}

func TestStatsReflectEngineState(t *testing.T) {
	e := newTestEngine(t)
	senderID, _ := e.connect(t, "+972500000001", "Dana", origin)
	e.connect(t, "+972500000002", "Noa", northOf(origin, 2))

	_, err := e.dispatcher.SendSOS(senderID, models.AlertOther, origin, "")
	require.NoError(t, err)

	stats := e.dispatcher.Stats()
	assert.Equal(t, 2, stats.OnlineUsers)
	assert.Equal(t, 1, stats.ActiveAlerts)
}
