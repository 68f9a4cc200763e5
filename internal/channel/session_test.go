package channel

import (
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/tank-monitor/internal/mqtt"
	"github.com/sweeney/tank-monitor/internal/tank"
)

// recorder is a Consumer that keeps everything it is given.
type recorder struct {
	mu      sync.Mutex
	states  []State
	updates []Update
}

func (r *recorder) OnState(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) OnUpdate(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, len(r.states))
	for i, s := range r.states {
		out[i] = s.Status
	}
	return out
}

func (r *recorder) lastState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return State{}
	}
	return r.states[len(r.states)-1]
}

func (r *recorder) allUpdates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestManager returns a manager that connects synchronously on the
// caller's goroutine and never fires timers on its own.
func newTestManager(d *mqtt.FakeDialer) (*Manager, *FakeClock) {
	clock := NewFakeClock()
	m := NewManager(d, Options{
		RetryDelay: 5 * time.Second,
		Clock:      clock,
		Spawn:      func(fn func()) { fn() },
		Now:        func() time.Time { return fixedNow },
	})
	return m, clock
}

var sampleGeometry = tank.Geometry{
	Shape:      tank.ShapeVerticalCylinder,
	Height:     tank.Float(100),
	Diameter:   tank.Float(50),
	DailyUsage: tank.Float(10),
}

func equalStatuses(a, b []Status) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOpenTankConnectsAndSubscribes(t *testing.T) {
	d := mqtt.NewFakeDialer()
	m, clock := newTestManager(d)
	rec := &recorder{}

	s := m.OpenTank("t1", sampleGeometry, nil, rec)
	defer s.Close()

	want := []Status{StatusConnecting, StatusConnected}
	if got := rec.statuses(); !equalStatuses(got, want) {
		t.Fatalf("statuses: got %v, want %v", got, want)
	}
	st := s.State()
	if st.Status != StatusConnected {
		t.Errorf("status: got %s, want Connected", st.Status)
	}
	if st.Broker != "ssl://broker.test:8883" {
		t.Errorf("broker: got %q", st.Broker)
	}
	if st.Text() != "Connected" {
		t.Errorf("text: got %q, want Connected", st.Text())
	}
	topics := d.Last().Topics()
	if len(topics) != len(mqtt.AllMetrics) {
		t.Fatalf("topics: got %v", topics)
	}
	if topics[0] != "tanks/t1/waterLevel" || topics[len(topics)-1] != "tanks/t1/togglepump" {
		t.Errorf("topics: got %v", topics)
	}
	if len(st.Topics) != len(topics) {
		t.Errorf("state topics: got %v, want %v", st.Topics, topics)
	}
	if clock.Created() != 0 {
		t.Errorf("timers: got %d, want 0", clock.Created())
	}
}

func TestOpenTankSubscribesRequestedMetricsOnly(t *testing.T) {
	d := mqtt.NewFakeDialer()
	m, _ := newTestManager(d)

	s := m.OpenTank("t1", sampleGeometry, []mqtt.Metric{mqtt.MetricLevel, mqtt.MetricPump}, nil)
	defer s.Close()

	topics := d.Last().Topics()
	want := []string{"tanks/t1/waterLevel", "tanks/t1/togglepump"}
	if strings.Join(topics, ",") != strings.Join(want, ",") {
		t.Errorf("topics: got %v, want %v", topics, want)
	}
}

func TestConnectFailureSchedulesOneRetry(t *testing.T) {
	d := mqtt.NewFakeDialer()
	d.ConnectErrors = []error{errors.New("broker unreachable")}
	m, clock := newTestManager(d)
	rec := &recorder{}

	s := m.OpenTank("t1", sampleGeometry, nil, rec)
	defer s.Close()

	want := []Status{StatusConnecting, StatusReconnecting}
	if got := rec.statuses(); !equalStatuses(got, want) {
		t.Fatalf("statuses: got %v, want %v", got, want)
	}
	st := s.State()
	if st.LastError != "Connection failed: broker unreachable" {
		t.Errorf("last error: got %q", st.LastError)
	}
	if st.Text() != st.LastError {
		t.Errorf("text: got %q, want %q", st.Text(), st.LastError)
	}
	pending := clock.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending timers: got %d, want 1", len(pending))
	}
	if pending[0].Delay != 5*time.Second {
		t.Errorf("delay: got %v, want 5s", pending[0].Delay)
	}

	// A late lost callback from the failed attempt must not add a timer.
	d.Conn(0).SimulateConnectionLost(errors.New("late"))
	if clock.Created() != 1 {
		t.Errorf("timers created: got %d, want 1", clock.Created())
	}
	if s.State().Status != StatusReconnecting {
		t.Errorf("status: got %s, want Reconnecting", s.State().Status)
	}
}

func TestRetryFailsAgainKeepsSingleTimer(t *testing.T) {
	d := mqtt.NewFakeDialer()
	d.ConnectErrors = []error{errors.New("one"), errors.New("two")}
	m, clock := newTestManager(d)

	s := m.OpenTank("t1", sampleGeometry, nil, nil)
	defer s.Close()

	if n := clock.FireAll(); n != 1 {
		t.Fatalf("fired: got %d, want 1", n)
	}
	if d.Dials() != 2 {
		t.Fatalf("dials: got %d, want 2", d.Dials())
	}
	if got := len(clock.Pending()); got != 1 {
		t.Fatalf("pending timers: got %d, want 1", got)
	}
	if s.State().LastError != "Connection failed: two" {
		t.Errorf("last error: got %q", s.State().LastError)
	}

	clock.FireAll()
	if s.State().Status != StatusConnected {
		t.Fatalf("status: got %s, want Connected", s.State().Status)
	}
	if s.State().Attempts != 3 {
		t.Errorf("attempts: got %d, want 3", s.State().Attempts)
	}
	if len(clock.Pending()) != 0 {
		t.Errorf("pending timers after connect: got %d", len(clock.Pending()))
	}
}

func TestCloseWhileReconnectingCancelsRetry(t *testing.T) {
	d := mqtt.NewFakeDialer()
	d.ConnectErrors = []error{errors.New("down")}
	m, clock := newTestManager(d)
	rec := &recorder{}

	s := m.OpenTank("t1", sampleGeometry, nil, rec)
	timer := clock.Pending()[0]

	s.Close()

	if !timer.Stopped() {
		t.Error("retry timer was not stopped")
	}
	if timer.Fire() {
		t.Error("stopped timer fired")
	}
	if d.Dials() != 1 {
		t.Errorf("dials after close: got %d, want 1", d.Dials())
	}
	st := rec.lastState()
	if st.Status != StatusDisconnected || !st.Closed {
		t.Errorf("final state: got %+v", st)
	}
}

func TestRetryCallbackAfterCloseDoesNothing(t *testing.T) {
	d := mqtt.NewFakeDialer()
	d.ConnectErrors = []error{errors.New("down")}
	clock := NewFakeClock()
	m := NewManager(d, Options{Clock: clock, Spawn: func(fn func()) { fn() }})

	s := m.OpenTank("t1", sampleGeometry, nil, nil)
	timer := clock.Pending()[0]
	s.Close()

	// Simulate a timer whose Stop lost the race with expiry.
	timer.fn()

	if d.Dials() != 1 {
		t.Errorf("dials: got %d, want 1", d.Dials())
	}
}

func TestCloseDisconnectsAndIsIdempotent(t *testing.T) {
	d := mqtt.NewFakeDialer()
	m, _ := newTestManager(d)
	rec := &recorder{}

	s := m.OpenTank("t1", sampleGeometry, nil, rec)
	conn := d.Last()

	s.Close()
	s.Close()

	if conn.IsConnected() {
		t.Error("conn still connected after Close")
	}
	if len(conn.Topics()) != 0 {
		t.Errorf("topics after Close: got %v", conn.Topics())
	}
	if conn.Disconnects() != 1 {
		t.Errorf("disconnects: got %d, want 1", conn.Disconnects())
	}
	want := []Status{StatusConnecting, StatusConnected, StatusDisconnected}
	if got := rec.statuses(); !equalStatuses(got, want) {
		t.Errorf("statuses: got %v, want %v", got, want)
	}
	if err := s.Reconnect(); !errors.Is(err, ErrClosed) {
		t.Errorf("Reconnect after Close: got %v, want ErrClosed", err)
	}
	if err := s.SetPump(true); !errors.Is(err, ErrClosed) {
		t.Errorf("SetPump after Close: got %v, want ErrClosed", err)
	}
}

func TestInFlightConnectAfterCloseIsDiscarded(t *testing.T) {
	d := mqtt.NewFakeDialer()
	d.Block = make(chan struct{})
	var wg sync.WaitGroup
	m := NewManager(d, Options{
		Clock: NewFakeClock(),
		Spawn: func(fn func()) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fn()
			}()
		},
	})
	rec := &recorder{}

	s := m.OpenTank("t1", sampleGeometry, nil, rec)
	// Close only once the attempt is blocked inside Connect.
	waitFor(t, func() bool { return d.Dials() == 1 })
	s.Close()
	close(d.Block)
	wg.Wait()

	conn := d.Conn(0)
	if conn == nil {
		t.Fatal("no conn dialed")
	}
	if conn.IsConnected() {
		t.Error("stale connection left open")
	}
	if conn.Disconnects() != 1 {
		t.Errorf("disconnects: got %d, want 1", conn.Disconnects())
	}
	if len(conn.Topics()) != 0 {
		t.Errorf("stale attempt subscribed: %v", conn.Topics())
	}
	st := s.State()
	if st.Status != StatusDisconnected || !st.Closed {
		t.Errorf("state: got %+v", st)
	}
	for _, status := range rec.statuses() {
		if status == StatusConnected {
			t.Error("stale attempt reported Connected")
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestQueuedConnectAfterCloseNeverDials(t *testing.T) {
	d := mqtt.NewFakeDialer()
	var queued []func()
	m := NewManager(d, Options{
		Clock: NewFakeClock(),
		Spawn: func(fn func()) { queued = append(queued, fn) },
	})

	s := m.OpenTank("t1", sampleGeometry, nil, nil)
	s.Close()
	for _, fn := range queued {
		fn()
	}
	if d.Dials() != 0 {
		t.Errorf("dials after teardown: got %d, want 0", d.Dials())
	}
}

func TestQueuedConnectSupersededByReconnect(t *testing.T) {
	d := mqtt.NewFakeDialer()
	var queued []func()
	m := NewManager(d, Options{
		Clock: NewFakeClock(),
		Spawn: func(fn func()) { queued = append(queued, fn) },
	})

	s := m.OpenTank("t1", sampleGeometry, nil, nil)
	defer s.Close()
	if err := s.Reconnect(); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	for _, fn := range queued {
		fn()
	}
	if d.Dials() != 1 {
		t.Errorf("dials: got %d, want 1", d.Dials())
	}
	if st := s.State(); st.Status != StatusConnected {
		t.Errorf("status: got %s, want Connected", st.Status)
	}
}

// blockingConsumer holds its first Connected callback until release is closed.
type blockingConsumer struct {
	recorder
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingConsumer) OnState(st State) {
	b.recorder.OnState(st)
	if st.Status == StatusConnected {
		b.once.Do(func() {
			close(b.entered)
			<-b.release
		})
	}
}

func TestCloseIsReportedAfterConcurrentConnected(t *testing.T) {
	d := mqtt.NewFakeDialer()
	m := NewManager(d, Options{Clock: NewFakeClock()})
	c := &blockingConsumer{entered: make(chan struct{}), release: make(chan struct{})}

	s := m.OpenTank("t1", sampleGeometry, nil, c)
	<-c.entered

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	waitFor(t, func() bool { return s.State().Closed })
	close(c.release)
	<-closed

	last := c.lastState()
	if last.Status != StatusDisconnected || !last.Closed {
		t.Errorf("last state seen: got %s closed=%v, want Disconnected closed=true", last.Status, last.Closed)
	}
}

func TestStaleStateIsDropped(t *testing.T) {
	d := mqtt.NewFakeDialer()
	m, _ := newTestManager(d)
	rec := &recorder{}
	s := m.OpenTank("t1", sampleGeometry, nil, rec)

	s.mu.Lock()
	stale := s.eventLocked()
	s.mu.Unlock()
	s.Close()
	s.notify(stale)

	if last := rec.lastState(); !last.Closed {
		t.Errorf("stale state overwrote close: got %+v", last)
	}
}

func TestSessionsDialDistinctClientIDs(t *testing.T) {
	d := mqtt.NewFakeDialer()
	m, _ := newTestManager(d)

	a := m.OpenTank("t1", sampleGeometry, nil, nil)
	defer a.Close()
	b := m.OpenTank("t2", sampleGeometry, nil, nil)
	defer b.Close()
	dev := m.OpenDevice("pump-7", nil)
	defer dev.Close()

	seen := make(map[string]bool)
	for i := 0; i < d.Dials(); i++ {
		id := d.Conn(i).ClientID()
		if seen[id] {
			t.Errorf("client id %q used twice", id)
		}
		seen[id] = true
	}
	if got := d.Conn(0).Scope(); got != "tank-t1" {
		t.Errorf("tank scope: got %q", got)
	}
	if got := d.Conn(2).Scope(); got != "device-pump-7" {
		t.Errorf("device scope: got %q", got)
	}
}

func TestSubscribeFailureReconnects(t *testing.T) {
	d := mqtt.NewFakeDialer()
	d.SubscribeErrors = []error{errors.New("not authorized")}
	m, clock := newTestManager(d)
	rec := &recorder{}

	s := m.OpenTank("t1", sampleGeometry, nil, rec)
	defer s.Close()

	want := []Status{StatusConnecting, StatusReconnecting}
	if got := rec.statuses(); !equalStatuses(got, want) {
		t.Fatalf("statuses: got %v, want %v", got, want)
	}
	if s.State().LastError != "Subscription failed: not authorized" {
		t.Errorf("last error: got %q", s.State().LastError)
	}
	if d.Conn(0).IsConnected() {
		t.Error("conn left open after subscribe failure")
	}
	if len(clock.Pending()) != 1 {
		t.Fatalf("pending timers: got %d, want 1", len(clock.Pending()))
	}

	clock.FireAll()
	if s.State().Status != StatusConnected {
		t.Errorf("status after retry: got %s", s.State().Status)
	}
}

func TestConnectionLostReconnects(t *testing.T) {
	d := mqtt.NewFakeDialer()
	m, clock := newTestManager(d)
	rec := &recorder{}

	s := m.OpenTank("t1", sampleGeometry, nil, rec)
	defer s.Close()
	first := d.Last()

	first.SimulateConnectionLost(errors.New("EOF"))

	want := []Status{StatusConnecting, StatusConnected, StatusDisconnected, StatusReconnecting}
	if got := rec.statuses(); !equalStatuses(got, want) {
		t.Fatalf("statuses: got %v, want %v", got, want)
	}
	if s.State().LastError != "Connection lost: EOF" {
		t.Errorf("last error: got %q", s.State().LastError)
	}
	if first.Disconnects() != 1 {
		t.Errorf("lost conn disconnects: got %d, want 1", first.Disconnects())
	}

	// A second loss report for the same conn is stale.
	first.SimulateConnectionLost(errors.New("EOF"))
	if clock.Created() != 1 {
		t.Errorf("timers created: got %d, want 1", clock.Created())
	}

	clock.FireAll()
	if d.Dials() != 2 {
		t.Fatalf("dials: got %d, want 2", d.Dials())
	}
	if s.State().Status != StatusConnected {
		t.Errorf("status: got %s, want Connected", s.State().Status)
	}

	// Messages on the dropped conn are ignored.
	if first.SimulateMessage("tanks/t1/waterLevel", "30") {
		t.Error("dropped conn still has a handler")
	}
}

func TestReconnectCancelsPendingTimer(t *testing.T) {
	d := mqtt.NewFakeDialer()
	d.ConnectErrors = []error{errors.New("down")}
	m, clock := newTestManager(d)

	s := m.OpenTank("t1", sampleGeometry, nil, nil)
	defer s.Close()
	timer := clock.Pending()[0]

	if err := s.Reconnect(); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if !timer.Stopped() {
		t.Error("pending timer not cancelled")
	}
	if d.Dials() != 2 {
		t.Errorf("dials: got %d, want 2", d.Dials())
	}
	if s.State().Status != StatusConnected {
		t.Errorf("status: got %s, want Connected", s.State().Status)
	}
	if len(clock.Pending()) != 0 {
		t.Errorf("pending timers: got %d, want 0", len(clock.Pending()))
	}
}

func TestReconnectWhileConnectedDropsOldConn(t *testing.T) {
	d := mqtt.NewFakeDialer()
	m, _ := newTestManager(d)

	s := m.OpenTank("t1", sampleGeometry, nil, nil)
	defer s.Close()
	old := d.Last()

	if err := s.Reconnect(); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if old.IsConnected() {
		t.Error("old conn still connected")
	}
	if d.Last() == old || !d.Last().IsConnected() {
		t.Error("no fresh conn after Reconnect")
	}

	// The old conn's lost callback must not disturb the new connection.
	old.SimulateConnectionLost(errors.New("late"))
	if s.State().Status != StatusConnected {
		t.Errorf("status: got %s, want Connected", s.State().Status)
	}
}

func TestSetPumpPublishes(t *testing.T) {
	d := mqtt.NewFakeDialer()
	m, _ := newTestManager(d)

	s := m.OpenTank("t1", sampleGeometry, nil, nil)
	defer s.Close()

	if err := s.SetPump(true); err != nil {
		t.Fatalf("SetPump(true): %v", err)
	}
	if err := s.SetPump(false); err != nil {
		t.Fatalf("SetPump(false): %v", err)
	}
	pub := d.Last().Published()
	if len(pub) != 2 {
		t.Fatalf("published: got %d, want 2", len(pub))
	}
	if pub[0].Topic != "tanks/t1/togglepump" || string(pub[0].Payload) != "0" {
		t.Errorf("pump on: got %s %q", pub[0].Topic, pub[0].Payload)
	}
	if string(pub[1].Payload) != "1" {
		t.Errorf("pump off payload: got %q, want 1", pub[1].Payload)
	}
}

func TestSendRejectedWhenNotConnected(t *testing.T) {
	d := mqtt.NewFakeDialer()
	d.ConnectErrors = []error{errors.New("down")}
	m, _ := newTestManager(d)

	s := m.OpenTank("t1", sampleGeometry, nil, nil)
	defer s.Close()

	if err := s.SetPump(true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SetPump while Reconnecting: got %v, want ErrNotConnected", err)
	}
	if err := s.Publish("tanks/t1/togglepump", []byte("0")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish while Reconnecting: got %v, want ErrNotConnected", err)
	}
	for i := 0; i < d.Dials(); i++ {
		if n := len(d.Conn(i).Published()); n != 0 {
			t.Errorf("conn %d published %d messages", i, n)
		}
	}
}

func TestPublishErrorIsWrapped(t *testing.T) {
	d := mqtt.NewFakeDialer()
	boom := errors.New("queue full")
	d.PublishError = boom
	m, _ := newTestManager(d)

	s := m.OpenTank("t1", sampleGeometry, nil, nil)
	defer s.Close()

	err := s.SetPump(true)
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want wrapped %v", err, boom)
	}
	if s.State().Status != StatusConnected {
		t.Errorf("publish error changed status to %s", s.State().Status)
	}
}

func TestLevelMessageRunsEstimator(t *testing.T) {
	d := mqtt.NewFakeDialer()
	m, _ := newTestManager(d)
	rec := &recorder{}

	s := m.OpenTank("t1", sampleGeometry, nil, rec)
	defer s.Close()

	d.Last().SimulateMessage("tanks/t1/waterLevel", "30")

	updates := rec.allUpdates()
	if len(updates) != 1 {
		t.Fatalf("updates: got %d, want 1", len(updates))
	}
	u := updates[0]
	if u.Metric != mqtt.MetricLevel || u.TankID != "t1" || u.Raw != "30" {
		t.Errorf("update: got %+v", u)
	}
	if !u.ReceivedAt.Equal(fixedNow) {
		t.Errorf("received at: got %v", u.ReceivedAt)
	}
	if u.Value == nil || *u.Value != 30 {
		t.Fatalf("value: got %v", u.Value)
	}
	if u.Estimate == nil || u.Estimate.VolumeLiters == nil {
		t.Fatal("missing estimate")
	}
	wantVol := math.Pi * 25 * 25 * 70 * 0.001
	if math.Abs(*u.Estimate.VolumeLiters-wantVol) > 1e-6 {
		t.Errorf("volume: got %v, want %v", *u.Estimate.VolumeLiters, wantVol)
	}
	if u.Estimate.FillPercent == nil || math.Abs(*u.Estimate.FillPercent-70) > 1e-9 {
		t.Errorf("fill: got %v, want 70", u.Estimate.FillPercent)
	}
}

func TestNonNumericLevelIsUnavailable(t *testing.T) {
	d := mqtt.NewFakeDialer()
	m, _ := newTestManager(d)
	rec := &recorder{}

	s := m.OpenTank("t1", sampleGeometry, nil, rec)
	defer s.Close()

	d.Last().SimulateMessage("tanks/t1/waterLevel", "sensor error")

	u := rec.allUpdates()[0]
	if u.Value != nil {
		t.Errorf("value: got %v, want nil", *u.Value)
	}
	if u.Estimate == nil {
		t.Fatal("estimate should be present and empty")
	}
	if u.Estimate.VolumeLiters != nil || u.Estimate.FillPercent != nil || u.Estimate.DaysUntilEmpty != nil {
		t.Errorf("estimate: got %+v, want all nil", *u.Estimate)
	}
}

func TestSetGeometryAppliesToNextReading(t *testing.T) {
	d := mqtt.NewFakeDialer()
	m, _ := newTestManager(d)
	rec := &recorder{}

	s := m.OpenTank("t1", tank.Geometry{Shape: tank.ShapeRectangle}, nil, rec)
	defer s.Close()

	d.Last().SimulateMessage("tanks/t1/waterLevel", "10")
	s.SetGeometry(tank.Geometry{
		Shape:  tank.ShapeRectangle,
		Height: tank.Float(100),
		Width:  tank.Float(10),
		Length: tank.Float(10),
	})
	d.Last().SimulateMessage("tanks/t1/waterLevel", "10")

	updates := rec.allUpdates()
	if updates[0].Estimate.VolumeLiters != nil {
		t.Errorf("incomplete geometry produced volume %v", *updates[0].Estimate.VolumeLiters)
	}
	if v := updates[1].Estimate.VolumeLiters; v == nil || math.Abs(*v-9) > 1e-9 {
		t.Errorf("volume after SetGeometry: got %v, want 9", v)
	}
}

func TestScalarAndPumpMessages(t *testing.T) {
	d := mqtt.NewFakeDialer()
	m, _ := newTestManager(d)
	rec := &recorder{}

	s := m.OpenTank("t1", sampleGeometry, nil, rec)
	defer s.Close()
	conn := d.Last()

	conn.SimulateMessage("tanks/t1/temperature", "21.5")
	conn.SimulateMessage("tanks/t1/pH", "n/a")
	conn.SimulateMessage("tanks/t1/togglepump", "0")
	conn.SimulateMessage("tanks/other/temperature", "99")
	conn.SimulateMessage("tanks/t1/unknown", "1")

	updates := rec.allUpdates()
	if len(updates) != 3 {
		t.Fatalf("updates: got %d, want 3", len(updates))
	}
	if updates[0].Metric != mqtt.MetricTemperature || updates[0].Value == nil || *updates[0].Value != 21.5 {
		t.Errorf("temperature: got %+v", updates[0])
	}
	if updates[1].Metric != mqtt.MetricPH || updates[1].Value != nil {
		t.Errorf("pH: got %+v", updates[1])
	}
	if updates[1].Estimate != nil {
		t.Error("scalar metric carried an estimate")
	}
	if updates[2].PumpOn == nil || !*updates[2].PumpOn {
		t.Errorf("pump: got %+v", updates[2])
	}

	// Every delivery is logged, routed or not.
	if n := len(s.Recent()); n != 5 {
		t.Errorf("recent: got %d, want 5", n)
	}
}

func TestDeviceSessionCommands(t *testing.T) {
	d := mqtt.NewFakeDialer()
	m, _ := newTestManager(d)
	rec := &recorder{}

	s := m.OpenDevice("dev-9", rec)
	defer s.Close()

	topics := d.Last().Topics()
	if len(topics) != 1 || topics[0] != "devices/dev-9/commands" {
		t.Fatalf("topics: got %v", topics)
	}

	err := s.SendDeviceCommand(mqtt.DeviceCommand{Command: mqtt.CommandAttach, TankID: "t1"})
	if err != nil {
		t.Fatalf("SendDeviceCommand: %v", err)
	}
	pub := d.Last().Published()
	if len(pub) != 1 || string(pub[0].Payload) != `{"command":"attach","tankId":"t1"}` {
		t.Fatalf("published: got %+v", pub)
	}

	if err := s.SendDeviceCommand(mqtt.DeviceCommand{Command: "reboot", TankID: "t1"}); !errors.Is(err, mqtt.ErrInvalidCommand) {
		t.Errorf("invalid command: got %v", err)
	}
	if err := s.SetPump(true); !errors.Is(err, ErrWrongScope) {
		t.Errorf("SetPump on device session: got %v, want ErrWrongScope", err)
	}

	d.Last().SimulateMessage("devices/dev-9/commands", `{"command":"detach","tankId":"t2"}`)
	updates := rec.allUpdates()
	if len(updates) != 1 || updates[0].Command == nil {
		t.Fatalf("updates: got %+v", updates)
	}
	if updates[0].Command.Command != "detach" || updates[0].Command.TankID != "t2" {
		t.Errorf("command: got %+v", *updates[0].Command)
	}
	if updates[0].DeviceID != "dev-9" {
		t.Errorf("device: got %q", updates[0].DeviceID)
	}
}

func TestTankSessionRejectsDeviceCommand(t *testing.T) {
	d := mqtt.NewFakeDialer()
	m, _ := newTestManager(d)

	s := m.OpenTank("t1", sampleGeometry, nil, nil)
	defer s.Close()

	err := s.SendDeviceCommand(mqtt.DeviceCommand{Command: mqtt.CommandAttach, TankID: "t1"})
	if !errors.Is(err, ErrWrongScope) {
		t.Errorf("got %v, want ErrWrongScope", err)
	}
}

func TestRecentMessagesClear(t *testing.T) {
	d := mqtt.NewFakeDialer()
	m, _ := newTestManager(d)

	s := m.OpenDevice("dev-1", nil)
	defer s.Close()

	d.Last().SimulateMessage("devices/dev-1/commands", "hello")
	recent := s.Recent()
	if len(recent) != 1 || recent[0].Payload != "hello" || recent[0].Topic != "devices/dev-1/commands" {
		t.Fatalf("recent: got %+v", recent)
	}
	s.ClearRecent()
	if len(s.Recent()) != 0 {
		t.Error("recent not cleared")
	}
}

func TestWithTankClosesOnError(t *testing.T) {
	d := mqtt.NewFakeDialer()
	m, _ := newTestManager(d)
	boom := errors.New("render failed")

	var opened *Session
	err := m.WithTank("t1", sampleGeometry, nil, nil, func(s *Session) error {
		opened = s
		return boom
	})

	if !errors.Is(err, boom) {
		t.Errorf("err: got %v, want %v", err, boom)
	}
	if !opened.State().Closed {
		t.Error("session not closed")
	}
	if d.Last().IsConnected() {
		t.Error("conn still connected")
	}
}

func TestWithTankClosesOnPanic(t *testing.T) {
	d := mqtt.NewFakeDialer()
	m, clock := newTestManager(d)
	d.ConnectErrors = []error{errors.New("down")}

	var opened *Session
	func() {
		defer func() { _ = recover() }()
		_ = m.WithTank("t1", sampleGeometry, nil, nil, func(s *Session) error {
			opened = s
			panic("boom")
		})
	}()

	if opened == nil || !opened.State().Closed {
		t.Fatal("session not closed after panic")
	}
	if len(clock.Pending()) != 0 {
		t.Error("retry timer survived panic")
	}
}

func TestStateText(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{State{Status: StatusConnecting}, "Connecting..."},
		{State{Status: StatusConnected, LastError: "stale"}, "Connected"},
		{State{Status: StatusReconnecting}, "Reconnecting..."},
		{State{Status: StatusReconnecting, LastError: "Connection failed: x"}, "Connection failed: x"},
		{State{Status: StatusDisconnected}, "Disconnected"},
		{State{Status: StatusDisconnected, LastError: "Connection lost: EOF"}, "Connection lost: EOF"},
	}
	for _, tt := range tests {
		if got := tt.state.Text(); got != tt.want {
			t.Errorf("%+v: got %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestNewManagerDefaults(t *testing.T) {
	m := NewManager(mqtt.NewFakeDialer(), Options{})
	if m.RetryDelay() != DefaultRetryDelay {
		t.Errorf("retry delay: got %v, want %v", m.RetryDelay(), DefaultRetryDelay)
	}
	if m.opts.RecentLimit != DefaultRecentLimit {
		t.Errorf("recent limit: got %d", m.opts.RecentLimit)
	}
	if m.Broker() != "ssl://broker.test:8883" {
		t.Errorf("broker: got %q", m.Broker())
	}
}

func TestFuncsSkipsNil(t *testing.T) {
	var got []Status
	f := Funcs{State: func(s State) { got = append(got, s.Status) }}
	f.OnState(State{Status: StatusConnected})
	f.OnUpdate(Update{})
	if len(got) != 1 || got[0] != StatusConnected {
		t.Errorf("got %v", got)
	}
}
