package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type CenterTestSuite struct {
	suite.Suite
	center *Center
}

func (s *CenterTestSuite) SetupTest() {
	center, err := NewCenter(time.Minute)
	s.Require().NoError(err)
	s.center = center
}

func (s *CenterTestSuite) TearDownTest() {
	s.center.Close()
}

func (s *CenterTestSuite) TestPushAndList() {
	first := s.center.Info("session-a", "Liquidity Added!", "Supplied 1 ETH")
	second := s.center.Error("session-a", "Connection Failed", errors.New("wallet unavailable"))
	s.center.Info("session-b", "Other", "")

	list := s.center.List("session-a")
	s.Require().Len(list, 2)
	s.Equal(first.ID, list[0].ID)
	s.Equal(VariantDefault, list[0].Variant)
	s.Equal(second.ID, list[1].ID)
	s.Equal(VariantDestructive, list[1].Variant)
	s.Equal("wallet unavailable", list[1].Description)
	s.True(list[0].ExpiresAt.After(list[0].CreatedAt))
}

func (s *CenterTestSuite) TestDismiss() {
	n := s.center.Info("session-a", "Hello", "")

	s.NoError(s.center.Dismiss("session-a", n.ID))
	s.Empty(s.center.List("session-a"))
	s.ErrorIs(s.center.Dismiss("session-a", n.ID), ErrNotificationNotFound)
	s.ErrorIs(s.center.Dismiss("session-b", "missing"), ErrNotificationNotFound)
}

func (s *CenterTestSuite) TestDismissIsScopedToSession() {
	n := s.center.Info("session-a", "Hello", "")

	s.ErrorIs(s.center.Dismiss("session-b", n.ID), ErrNotificationNotFound)
	s.Len(s.center.List("session-a"), 1)
}

func (s *CenterTestSuite) TestClear() {
	s.center.Info("session-a", "One", "")
	s.center.Info("session-a", "Two", "")

	s.center.Clear("session-a")
	s.Empty(s.center.List("session-a"))
}

func TestCenterTestSuite(t *testing.T) {
	suite.Run(t, new(CenterTestSuite))
}

func TestCenter_Expiry(t *testing.T) {
	center, err := NewCenter(50 * time.Millisecond)
	require.NoError(t, err)
	defer center.Close()

	n := center.Info("session", "Short lived", "")
	require.Len(t, center.List("session"), 1)

	assert.Eventually(t, func() bool {
		return len(center.List("session")) == 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.ErrorIs(t, center.Dismiss("session", n.ID), ErrNotificationNotFound)
}

func TestNewCenter_DefaultTTL(t *testing.T) {
	center, err := NewCenter(0)
	require.NoError(t, err)
	defer center.Close()
	assert.Equal(t, DefaultTTL, center.ttl)
}

func TestCenter_RefusedSetIsNotIndexed(t *testing.T) {
	center, err := NewCenter(time.Minute)
	require.NoError(t, err)
	center.Close()

	n := center.Info("session", "Liquidity Added!", "")
	assert.NotEmpty(t, n.ID)
	assert.Empty(t, center.List("session"))

	center.mu.Lock()
	defer center.mu.Unlock()
	assert.NotContains(t, center.index, "session")
}
