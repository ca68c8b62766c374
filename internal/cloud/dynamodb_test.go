package cloud

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-nexus/sentinel/internal/domain"
)

// fakeDynamo keeps items per table and ignores key conditions and filters.
type fakeDynamo struct {
	mu      sync.Mutex
	tables  map[string][]map[string]types.AttributeValue
	batches []int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{tables: map[string][]map[string]types.AttributeValue{}}
}

func (f *fakeDynamo) put(table string, item map[string]types.AttributeValue) {
	key := item["device_id"].(*types.AttributeValueMemberS).Value
	sk, hasSK := item["sk"]
	rows := f.tables[table]
	for i, row := range rows {
		if row["device_id"].(*types.AttributeValueMemberS).Value != key {
			continue
		}
		if !hasSK || row["sk"].(*types.AttributeValueMemberS).Value == sk.(*types.AttributeValueMemberS).Value {
			rows[i] = item
			return
		}
	}
	f.tables[table] = append(rows, item)
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(aws.ToString(in.TableName), in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := in.Key["device_id"].(*types.AttributeValueMemberS).Value
	for _, row := range f.tables[aws.ToString(in.TableName)] {
		if row["device_id"].(*types.AttributeValueMemberS).Value == want {
			return &dynamodb.GetItemOutput{Item: row}, nil
		}
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for table, reqs := range in.RequestItems {
		f.batches = append(f.batches, len(reqs))
		for _, r := range reqs {
			f.put(table, r.PutRequest.Item)
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := in.ExpressionAttributeValues[":d"].(*types.AttributeValueMemberS).Value
	var items []map[string]types.AttributeValue
	for _, row := range f.tables[aws.ToString(in.TableName)] {
		if row["device_id"].(*types.AttributeValueMemberS).Value == want {
			items = append(items, row)
		}
	}
	forward := aws.ToBool(in.ScanIndexForward)
	sort.SliceStable(items, func(i, j int) bool {
		a := items[i]["sk"].(*types.AttributeValueMemberS).Value
		b := items[j]["sk"].(*types.AttributeValueMemberS).Value
		if forward {
			return a < b
		}
		return a > b
	})
	return &dynamodb.QueryOutput{Items: items}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.ScanOutput{Items: append([]map[string]types.AttributeValue(nil), f.tables[aws.ToString(in.TableName)]...)}, nil
}

var t0 = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func TestSortKeyOrdersByTime(t *testing.T) {
	early := sortKey(t0, "b")
	late := sortKey(t0.Add(time.Millisecond), "a")
	assert.Less(t, early, late)
	assert.Less(t, sortKeyPrefix(t0), early)
}

func TestDynamoInsertManyBatches(t *testing.T) {
	fake := newFakeDynamo()
	store := NewDynamoStoreWithClient(fake, "Readings", "Devices")

	rs := make([]domain.Reading, 60)
	for i := range rs {
		rs[i] = domain.Reading{DeviceID: "DEV-001", EnergyWh: float64(i), Timestamp: t0.Add(time.Duration(i) * time.Second)}
	}
	require.NoError(t, store.InsertMany(context.Background(), rs))
	assert.Equal(t, []int{25, 25, 10}, fake.batches)
	for _, r := range rs {
		assert.NotEmpty(t, r.ID)
	}

	out, err := store.List(context.Background(), domain.ReadingFilter{DeviceID: "DEV-001", Limit: 3, Order: domain.Desc})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, 59.0, out[0].EnergyWh)
	assert.Equal(t, t0.Add(59*time.Second), out[0].Timestamp)
}

func TestDynamoListAllDevicesAndSpans(t *testing.T) {
	fake := newFakeDynamo()
	store := NewDynamoStoreWithClient(fake, "Readings", "Devices")
	ctx := context.Background()

	for _, r := range []domain.Reading{
		{DeviceID: "DEV-B", EnergyWh: 150, Timestamp: t0.Add(time.Hour)},
		{DeviceID: "DEV-A", EnergyWh: 10, Timestamp: t0},
		{DeviceID: "DEV-B", EnergyWh: 100, Timestamp: t0},
	} {
		r := r
		require.NoError(t, store.Insert(ctx, &r))
	}

	all, err := store.List(ctx, domain.ReadingFilter{Order: domain.Asc})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 150.0, all[2].EnergyWh)

	spans, err := store.EnergySpans(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, domain.EnergySpan{DeviceID: "DEV-B", FirstWh: 100, LastWh: 150}, spans[1])
}

func TestDynamoDevices(t *testing.T) {
	fake := newFakeDynamo()
	store := NewDynamoStoreWithClient(fake, "Readings", "Devices")
	ctx := context.Background()

	_, err := store.GetDevice(ctx, "DEV-404")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.UpsertDevice(ctx, domain.Device{DeviceID: "DEV-001", Name: "a", Type: domain.DeviceMeter, Status: domain.StatusOnline, RegisteredAt: t0}))
	require.NoError(t, store.UpsertDevice(ctx, domain.Device{DeviceID: "DEV-001", Name: "b", Type: domain.DeviceMeter, Status: domain.StatusOffline, RegisteredAt: t0.Add(time.Hour)}))

	d, err := store.GetDevice(ctx, "DEV-001")
	require.NoError(t, err)
	assert.Equal(t, "b", d.Name)
	assert.Equal(t, domain.StatusOffline, d.Status)
	assert.Equal(t, t0, d.RegisteredAt)

	var raw dynamoDevice
	require.NoError(t, attributevalue.UnmarshalMap(fake.tables["Devices"][0], &raw))
	assert.Equal(t, t0.UnixMilli(), raw.RegisteredAt)

	ds, err := store.ListDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, ds, 1)
}
