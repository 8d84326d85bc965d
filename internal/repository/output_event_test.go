package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/wfunc/latchctl/internal/models"
)

// OutputEventRepositoryTestSuite 输出记录仓库测试套件
type OutputEventRepositoryTestSuite struct {
	suite.Suite
	repo *OutputEventRepository
	ctx  context.Context
	base time.Time
}

func (suite *OutputEventRepositoryTestSuite) SetupTest() {
	suite.repo = NewOutputEventRepository(SetupTestDB(suite.T()))
	suite.ctx = context.Background()
	suite.base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func (suite *OutputEventRepositoryTestSuite) event(ch int, op string, offset time.Duration) *models.OutputEvent {
	return &models.OutputEvent{
		SessionID: "session-1",
		Operation: op,
		Channel:   ch,
		State:     true,
		NewMask:   1 << uint(ch),
		Polarity:  "active_high",
		Source:    "api",
		CreatedAt: suite.base.Add(offset),
	}
}

func (suite *OutputEventRepositoryTestSuite) TestCreateAndRecent() {
	suite.Require().NoError(suite.repo.Create(suite.ctx, suite.event(1, "set_channel", 0)))
	suite.Require().NoError(suite.repo.Create(suite.ctx, suite.event(2, "set_channel", time.Second)))
	suite.Require().NoError(suite.repo.Create(suite.ctx, suite.event(3, "toggle", 2*time.Second)))

	events, err := suite.repo.Recent(suite.ctx, 2)
	suite.Require().NoError(err)
	suite.Require().Len(events, 2)
	suite.Equal(3, events[0].Channel)
	suite.Equal(2, events[1].Channel)
	suite.NotZero(events[0].ID)
}

func (suite *OutputEventRepositoryTestSuite) TestCreateBatch() {
	var events []*models.OutputEvent
	for i := 0; i < 8; i++ {
		events = append(events, suite.event(i, "set_channel", time.Duration(i)*time.Millisecond))
	}
	suite.Require().NoError(suite.repo.CreateBatch(suite.ctx, events))
	suite.Require().NoError(suite.repo.CreateBatch(suite.ctx, nil))

	count, err := suite.repo.Count(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(int64(8), count)
}

func (suite *OutputEventRepositoryTestSuite) TestQueryFilters() {
	suite.Require().NoError(suite.repo.CreateBatch(suite.ctx, []*models.OutputEvent{
		suite.event(1, "set_channel", 0),
		suite.event(1, "toggle", time.Minute),
		suite.event(-1, "set_all", 2*time.Minute),
		suite.event(4, "set_channel", 3*time.Minute),
	}))

	ch := 1
	events, err := suite.repo.Query(suite.ctx, &models.OutputEventQuery{Channel: &ch})
	suite.Require().NoError(err)
	suite.Len(events, 2)

	events, err = suite.repo.Query(suite.ctx, &models.OutputEventQuery{Operation: "set_all"})
	suite.Require().NoError(err)
	suite.Require().Len(events, 1)
	suite.Equal(-1, events[0].Channel)

	events, err = suite.repo.Query(suite.ctx, &models.OutputEventQuery{Since: suite.base.Add(90 * time.Second)})
	suite.Require().NoError(err)
	suite.Len(events, 2)
}

func (suite *OutputEventRepositoryTestSuite) TestPrune() {
	suite.Require().NoError(suite.repo.CreateBatch(suite.ctx, []*models.OutputEvent{
		suite.event(0, "set_channel", -48*time.Hour),
		suite.event(1, "set_channel", -25*time.Hour),
		suite.event(2, "set_channel", 0),
	}))

	deleted, err := suite.repo.Prune(suite.ctx, suite.base.Add(-24*time.Hour))
	suite.Require().NoError(err)
	suite.Equal(int64(2), deleted)

	events, err := suite.repo.Recent(suite.ctx, 0)
	suite.Require().NoError(err)
	suite.Require().Len(events, 1)
	suite.Equal(2, events[0].Channel)
}

func TestOutputEventRepositorySuite(t *testing.T) {
	suite.Run(t, new(OutputEventRepositoryTestSuite))
}

func TestClampLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{-1, DefaultEventLimit},
		{0, DefaultEventLimit},
		{10, 10},
		{MaxEventLimit + 1, MaxEventLimit},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
