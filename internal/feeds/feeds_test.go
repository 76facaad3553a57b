package feeds

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/marketsync/internal/marketplace"
	"github.com/javajoker/marketsync/internal/models"
	"github.com/javajoker/marketsync/internal/store"
)

func feedRequest(t *testing.T, account uuid.UUID, code string, payload models.FeedPayload) models.FeedRequest {
	t.Helper()
	req, err := models.NewFeedRequest(account, code, payload)
	require.NoError(t, err)
	req.ID = uuid.New()
	return *req
}

func TestBuildDocumentStock(t *testing.T) {
	account := uuid.New()
	doc, err := BuildDocument(models.FeedTypeUpdateStock, []models.FeedRequest{
		feedRequest(t, account, "FR", models.StockPayload{SKU: "W-1", Quantity: "3"}),
		feedRequest(t, account, "FR", models.StockPayload{SKU: "W-2", Quantity: "0"}),
		feedRequest(t, account, "FR", models.StockPayload{SKU: "W-1", Quantity: "5"}),
	})
	require.NoError(t, err)
	assert.Equal(t, "sku\tquantity\nW-1\t5\nW-2\t0\n", string(doc))
}

func TestBuildDocumentNewListings(t *testing.T) {
	account := uuid.New()
	row := models.NewListingPayload{
		SKU: "W-1", ProductID: "B0WIDGET", ProductIDType: "ASIN", Price: "16,47",
		ItemCondition: "11", Quantity: "0", AddDelete: "a", HandlingTime: "2",
	}
	doc, err := BuildDocument(models.FeedTypeAddProducts, []models.FeedRequest{
		feedRequest(t, account, "FR", row),
		feedRequest(t, account, "FR", row),
	})
	require.NoError(t, err)
	assert.Equal(t,
		"sku\tproduct-id\tproduct-id-type\tprice\titem-condition\tquantity\tadd-delete\thandling-time\n"+
			"W-1\tB0WIDGET\tASIN\t16,47\t11\t0\ta\t2\n"+
			"W-1\tB0WIDGET\tASIN\t16,47\t11\t0\ta\t2\n",
		string(doc))
}

func TestBuildDocumentRejectsMixedTypes(t *testing.T) {
	account := uuid.New()
	_, err := BuildDocument(models.FeedTypeUpdateStock, []models.FeedRequest{
		feedRequest(t, account, "FR", models.StockPricePayload{SKU: "W-1"}),
	})
	assert.Error(t, err)

	_, err = BuildDocument("Delete_everything", nil)
	assert.Error(t, err)
}

type fakeS3 struct {
	keys   []string
	bodies []string
	err    error
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.keys = append(f.keys, aws.StringValue(in.Key))
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func seed(t *testing.T, mem *store.Memory, reqs ...models.FeedRequest) {
	t.Helper()
	for i := range reqs {
		reqs[i].ID = uuid.Nil
		require.NoError(t, mem.CreateFeedRequest(context.Background(), &reqs[i]))
	}
}

func TestExportPendingGroups(t *testing.T) {
	mem := store.NewMemory()
	adapter := marketplace.NewMockAdapter()
	s3c := &fakeS3{}
	account := uuid.New()

	seed(t, mem,
		feedRequest(t, account, "FR", models.StockPayload{SKU: "W-1", Quantity: "3"}),
		feedRequest(t, account, "DE", models.StockPayload{SKU: "W-1", Quantity: "3"}),
		feedRequest(t, account, "FR", models.StockPricePayload{SKU: "W-2", Quantity: "1", Price: "9,90", Currency: "EUR", HandlingTime: "1"}),
		feedRequest(t, account, "FR", models.StockPayload{SKU: "W-3", Quantity: "0"}),
	)

	e := NewExporter(mem, adapter, NewS3Archiver(s3c, "feeds-bucket", "archive"), 0)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return at }

	subs, err := e.ExportPending(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, models.FeedTypeUpdateStock, subs[0].Type)
	assert.Equal(t, "FR", subs[0].MarketplaceCode)
	assert.Equal(t, 2, subs[0].Requests)
	assert.Equal(t, "DE", subs[1].MarketplaceCode)
	assert.Equal(t, models.FeedTypeUpdateStockPrice, subs[2].Type)

	submitted := adapter.Submitted()
	require.Len(t, submitted, 3)
	assert.Equal(t, "sku\tquantity\nW-1\t3\nW-3\t0\n", string(submitted[0].Document))

	for _, f := range mem.FeedRequests() {
		assert.True(t, f.Launched)
		assert.NotEmpty(t, f.FeedID)
		assert.Equal(t, at, *f.LaunchedAt)
	}

	require.Len(t, s3c.keys, 3)
	assert.Equal(t, "archive/"+account.String()+"/Update_stock/2024/03/01/"+subs[0].FeedID+".tsv", s3c.keys[0])
	assert.Equal(t, s3c.keys[0], subs[0].ArchiveKey)

	subs, err = e.ExportPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestExportPendingFailureLeavesRequestsPending(t *testing.T) {
	mem := store.NewMemory()
	adapter := marketplace.NewMockAdapter()
	adapter.Err = &marketplace.ThrottledError{Status: 429}
	account := uuid.New()
	seed(t, mem, feedRequest(t, account, "FR", models.StockPayload{SKU: "W-1", Quantity: "3"}))

	e := NewExporter(mem, adapter, nil, 10)
	subs, err := e.ExportPending(context.Background())
	require.Error(t, err)
	assert.True(t, marketplace.IsThrottled(err))
	require.Len(t, subs, 1)
	assert.NotEmpty(t, subs[0].Error)
	assert.False(t, mem.FeedRequests()[0].Launched)

	adapter.Err = nil
	_, err = e.ExportPending(context.Background())
	require.NoError(t, err)
	assert.True(t, mem.FeedRequests()[0].Launched)
}

func TestArchiveFailureStillLaunches(t *testing.T) {
	mem := store.NewMemory()
	account := uuid.New()
	seed(t, mem, feedRequest(t, account, "FR", models.StockPayload{SKU: "W-1", Quantity: "3"}))

	e := NewExporter(mem, marketplace.NewMockAdapter(), NewS3Archiver(&fakeS3{err: errors.New("denied")}, "b", ""), 10)
	subs, err := e.ExportPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, subs[0].ArchiveKey)
	assert.True(t, mem.FeedRequests()[0].Launched)
}

// flakyLaunchStore fails the next failLaunches launch writes.
type flakyLaunchStore struct {
	*store.Memory
	failLaunches int
}

func (f *flakyLaunchStore) MarkFeedRequestsLaunched(ctx context.Context, ids []uuid.UUID, feedID string, at time.Time) error {
	if f.failLaunches > 0 {
		f.failLaunches--
		return errors.New("connection reset")
	}
	return f.Memory.MarkFeedRequestsLaunched(ctx, ids, feedID, at)
}

func TestSubmittedFeedIsNotResentWhenLaunchWriteFails(t *testing.T) {
	mem := store.NewMemory()
	st := &flakyLaunchStore{Memory: mem, failLaunches: 2}
	adapter := marketplace.NewMockAdapter()
	s3c := &fakeS3{}
	account := uuid.New()
	seed(t, mem, feedRequest(t, account, "FR", models.StockPayload{SKU: "W-1", Quantity: "3"}))

	e := NewExporter(st, adapter, NewS3Archiver(s3c, "b", ""), 10)

	subs, err := e.ExportPending(context.Background())
	require.Error(t, err)
	require.Len(t, subs, 1)
	feedID := subs[0].FeedID
	assert.NotEmpty(t, feedID)
	assert.False(t, mem.FeedRequests()[0].Launched)
	assert.Empty(t, s3c.keys)

	// The launch write still fails: nothing is resubmitted.
	subs, err = e.ExportPending(context.Background())
	require.Error(t, err)
	assert.Empty(t, subs)
	assert.Len(t, adapter.Submitted(), 1)

	subs, err = e.ExportPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, subs)
	assert.Len(t, adapter.Submitted(), 1)

	stored := mem.FeedRequests()[0]
	assert.True(t, stored.Launched)
	assert.Equal(t, feedID, stored.FeedID)
}
