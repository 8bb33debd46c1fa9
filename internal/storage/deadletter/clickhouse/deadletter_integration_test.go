//go:build integration

package clickhouse

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/leshachaplin/feedbackhook/internal/domain"
	"github.com/leshachaplin/feedbackhook/internal/testingh"
)

type IntegrationTestSuite struct {
	ctx      context.Context
	cancelFn context.CancelFunc

	container *testingh.Container
	db        *Clickhouse

	suite.Suite
}

func (i *IntegrationTestSuite) SetupSuite() {
	var err error
	i.ctx, i.cancelFn = context.WithTimeout(context.Background(), time.Minute*2)

	i.container, err = testingh.NewContainer(testingh.Clickhouse(), func(addr string) error {
		db, err := New(i.ctx, Config{Addr: addr, DB: "test_db", Username: "su", Password: "su"}, zerolog.Nop())
		if err != nil {
			return err
		}
		i.db = db
		return nil
	})
	i.Require().NoError(err)
	i.Require().NoError(i.db.Migrate(i.ctx))
}

func (i *IntegrationTestSuite) TearDownSuite() {
	i.cancelFn()
	i.Assert().NoError(i.db.Close())
	i.Assert().NoError(i.container.Purge())
}

func TestIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(IntegrationTestSuite))
}

func (i *IntegrationTestSuite) TestStoreAndLoadFailure() {
	failed := domain.FailedBatch{
		Batch: domain.EventBatch{
			ID:        "batch-it",
			FlushedAt: time.Now().UTC().Truncate(time.Millisecond),
			Events: []domain.Event{
				{Name: "item_viewed", DistinctID: "u1", Properties: json.RawMessage(`{"item_id":"p1"}`)},
				{Name: "item_viewed", DistinctID: "u2", Properties: json.RawMessage(`{"item_id":"p2"}`)},
				{Name: "item_purchased", DistinctID: "u3", Properties: json.RawMessage(`{"item_id":"p3"}`)},
			},
		},
		Reason:     "unexpected status 500",
		StatusCode: 500,
		FailedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}

	i.Require().NoError(i.db.StoreFailure(i.ctx, failed))

	loaded, err := i.db.LoadFailure(i.ctx, "batch-it")
	i.Require().NoError(err)
	i.Require().Len(loaded.Batch.Events, 3)
	i.Equal("u1", loaded.Batch.Events[0].DistinctID)
	i.Equal("item_purchased", loaded.Batch.Events[2].Name)
	i.Equal(500, loaded.StatusCode)
}
