package registry_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/srg/bleanalyzer/internal/registry"
	"github.com/srg/bleanalyzer/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type RegistryTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
	reg    *registry.Registry
}

func (s *RegistryTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.reg = registry.New(s.helper.Logger)
}

func (s *RegistryTestSuite) TestRememberIsIdempotent() {
	rec := registry.DeviceRecord{Address: "AA:BB:CC:DD:EE:FF", Name: "RFdroid", RSSI: -40, IntervalUnits: 100}

	s.True(s.reg.Remember(rec))
	s.False(s.reg.Remember(rec))
	s.True(s.reg.IsKnown(rec.Address))
	s.Equal(1, s.reg.Len())
}

func (s *RegistryTestSuite) TestRememberKeepsFirstSnapshot() {
	s.reg.Remember(registry.DeviceRecord{Address: "11:22:33:44:55:66", Name: "first", RSSI: -40})
	s.reg.Remember(registry.DeviceRecord{Address: "11:22:33:44:55:66", Name: "second", RSSI: -90})

	rec, ok := s.reg.Lookup("11:22:33:44:55:66")
	s.Require().True(ok)
	s.Equal("first", rec.Name)
	s.Equal(-40, rec.RSSI)
}

func (s *RegistryTestSuite) TestResetForgetsEveryAddress() {
	addrs := []string{"AA:00:00:00:00:01", "AA:00:00:00:00:02", "AA:00:00:00:00:03"}
	for _, a := range addrs {
		s.reg.Remember(registry.DeviceRecord{Address: a})
	}

	s.reg.Reset()

	for _, a := range addrs {
		s.False(s.reg.IsKnown(a), a)
	}
	s.Equal(0, s.reg.Len())
	s.Empty(s.reg.Records())
}

func (s *RegistryTestSuite) TestUnknownAddress() {
	s.False(s.reg.IsKnown("FF:FF:FF:FF:FF:FF"))
	_, ok := s.reg.Lookup("FF:FF:FF:FF:FF:FF")
	s.False(ok)
}

func (s *RegistryTestSuite) TestConcurrentRememberReportsEachAddressOnce() {
	// GOAL: Verify only one caller wins the first sighting of an address under contention
	//
	// TEST SCENARIO: 8 goroutines remember the same 50 addresses → exactly 50 first sightings
	const workers, devices = 8, 50

	var mu sync.Mutex
	firsts := 0
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < devices; i++ {
				if s.reg.Remember(registry.DeviceRecord{Address: fmt.Sprintf("AA:00:00:00:00:%02X", i)}) {
					mu.Lock()
					firsts++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	s.Equal(devices, firsts)
	s.Len(s.reg.Records(), devices)
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}
