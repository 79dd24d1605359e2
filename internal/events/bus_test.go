package events_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/bleanalyzer/internal/events"
	"github.com/srg/bleanalyzer/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type BusTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
	bus    *events.Bus
}

func (s *BusTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	bus, err := events.NewBus(s.helper.Logger, 64)
	s.Require().NoError(err)
	s.bus = bus
	s.T().Cleanup(bus.Close)
}

func (s *BusTestSuite) collect() (func() []events.Event, func()) {
	var mu sync.Mutex
	var got []events.Event
	unsubscribe := s.bus.Subscribe(func(ev events.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	return func() []events.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]events.Event(nil), got...)
	}, unsubscribe
}

func (s *BusTestSuite) TestDeliversInPublishOrder() {
	got, _ := s.collect()

	s.bus.Publish(events.ScanStarted{})
	s.bus.Publish(events.DeviceDiscovered{Address: "AA", Name: "a", RSSI: -40, IntervalUnits: -1})
	s.bus.Publish(events.FrameReceived{Address: "AA", RSSI: -41})
	s.bus.Publish(events.ScanEnded{})

	s.Eventually(func() bool { return len(got()) == 4 }, time.Second, 5*time.Millisecond)
	kinds := make([]events.Kind, 0, 4)
	for _, ev := range got() {
		kinds = append(kinds, ev.Kind())
	}
	s.Equal([]events.Kind{
		events.KindScanStarted,
		events.KindDeviceDiscovered,
		events.KindFrameReceived,
		events.KindScanEnded,
	}, kinds)
}

func (s *BusTestSuite) TestUnsubscribeStopsDelivery() {
	got, unsubscribe := s.collect()

	s.bus.Publish(events.ScanStarted{})
	s.Eventually(func() bool { return len(got()) == 1 }, time.Second, 5*time.Millisecond)

	unsubscribe()
	unsubscribe()
	s.bus.Publish(events.ScanEnded{})

	s.Eventually(func() bool { return s.bus.GetMetrics().Processed == 2 }, time.Second, 5*time.Millisecond)
	s.Len(got(), 1)
}

func (s *BusTestSuite) TestChannelSubscription() {
	rc, unsubscribe := s.bus.Channel(8)
	defer unsubscribe()

	s.bus.Publish(events.DeviceConnected{Address: "AA"})

	select {
	case ev := <-rc.C():
		s.Equal(events.DeviceConnected{Address: "AA"}, ev)
	case <-time.After(time.Second):
		s.FailNow("no event on channel")
	}
}

func (s *BusTestSuite) TestSlowChannelKeepsNewest() {
	// GOAL: Verify a reader that never drains its channel only loses the oldest events
	//
	// TEST SCENARIO: capacity-2 channel, 5 events published → channel holds the last 2
	rc, _ := s.bus.Channel(2)

	for i := 0; i < 5; i++ {
		s.bus.Publish(events.FrameReceived{RSSI: -i})
	}
	s.Eventually(func() bool { return s.bus.GetMetrics().Processed == 5 }, time.Second, 5*time.Millisecond)

	first, ok := rc.TryReceive()
	s.Require().True(ok)
	second, ok := rc.TryReceive()
	s.Require().True(ok)
	s.Equal(-3, first.(events.FrameReceived).RSSI)
	s.Equal(-4, second.(events.FrameReceived).RSSI)
	s.Equal(int64(3), rc.GetMetrics().Overwritten)
}

func (s *BusTestSuite) TestOverflowIsCountedAndLogged() {
	// GOAL: Verify events overwritten in a full bus are not lost silently
	//
	// TEST SCENARIO: size-4 bus, dispatcher stuck in a subscriber, 32 events published → Overwritten > 0 and a warn entry
	hook := logtest.NewLocal(s.helper.Logger)
	bus, err := events.NewBus(s.helper.Logger, 4)
	s.Require().NoError(err)

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	bus.Subscribe(func(events.Event) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	})

	bus.Publish(events.ScanStarted{})
	<-entered
	for i := 0; i < 32; i++ {
		bus.Publish(events.FrameReceived{RSSI: -i})
	}
	close(release)
	bus.Close()

	s.Positive(bus.GetMetrics().Overwritten)
	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "Event buffer full, oldest events lost" {
			warned = true
		}
	}
	s.True(warned, "overflow logged at warn")
}

func (s *BusTestSuite) TestPanickingSubscriberIsIsolated() {
	s.bus.Subscribe(func(events.Event) { panic("listener bug") })
	got, _ := s.collect()

	s.bus.Publish(events.ScanStarted{})

	s.Eventually(func() bool { return len(got()) == 1 }, time.Second, 5*time.Millisecond)
	s.Equal(int64(1), s.bus.GetMetrics().Errors)
}

func (s *BusTestSuite) TestCloseDrainsAndClosesChannels() {
	rc, _ := s.bus.Channel(16)
	got, _ := s.collect()

	for i := 0; i < 10; i++ {
		s.bus.Publish(events.FrameReceived{RSSI: i})
	}
	s.bus.Close()
	s.bus.Publish(events.ScanEnded{})

	s.Len(got(), 10)
	n := 0
	for range rc.C() {
		n++
	}
	s.Equal(10, n)
}

func TestBusTestSuite(t *testing.T) {
	suite.Run(t, new(BusTestSuite))
}

func TestNewBus_RejectsOversizedBuffer(t *testing.T) {
	_, err := events.NewBus(nil, events.MaxBufferSize+1)
	assert.Error(t, err)
}

func TestEventHelpers(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		ev      events.Event
		kind    string
		address string
		err     error
	}{
		{events.ScanStarted{}, "scan_started", "", nil},
		{events.ScanFailed{Err: boom}, "scan_failed", "", boom},
		{events.DeviceDiscovered{Address: "A"}, "device_discovered", "A", nil},
		{events.DeviceDisconnected{Address: "B", Err: boom}, "device_disconnected", "B", boom},
		{events.PushSuccess{Address: "C"}, "push_success", "C", nil},
		{events.PushFailure{Address: "D", Err: boom}, "push_failure", "D", boom},
		{events.CharacteristicRead{Address: "E"}, "characteristic_read", "E", nil},
		{events.DescriptorWritten{Address: "F"}, "descriptor_written", "F", nil},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.ev.Kind().String())
			assert.Equal(t, tt.address, events.Address(tt.ev))
			assert.Equal(t, tt.err, events.Err(tt.ev))
		})
	}

	assert.Equal(t, "event(99)", events.Kind(99).String())
	assert.Equal(t, "dead", events.CharacteristicRead{Value: []byte{0xde, 0xad}}.HexValue())
}
