package cloud

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/sentinel-nexus/sentinel/internal/domain"
)

// batchWriteLimit is the DynamoDB maximum number of items per BatchWriteItem.
const batchWriteLimit = 25

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	dynamodb.QueryAPIClient
	dynamodb.ScanAPIClient
}

// DynamoStore keeps readings and devices in two DynamoDB tables.
//
// Readings are partitioned by device_id with a sort key of zero padded
// epoch milliseconds plus the reading id, so a device's history is a single
// ordered Query. Listing across all devices falls back to a Scan.
type DynamoStore struct {
	svc           DynamoAPI
	readingsTable string
	devicesTable  string
}

// NewDynamoStore loads the default AWS configuration for region.
func NewDynamoStore(ctx context.Context, region, readingsTable, devicesTable string) (*DynamoStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return NewDynamoStoreWithClient(dynamodb.NewFromConfig(cfg), readingsTable, devicesTable), nil
}

func NewDynamoStoreWithClient(svc DynamoAPI, readingsTable, devicesTable string) *DynamoStore {
	return &DynamoStore{svc: svc, readingsTable: readingsTable, devicesTable: devicesTable}
}

type dynamoReading struct {
	DeviceID  string   `dynamodbav:"device_id"`
	SortKey   string   `dynamodbav:"sk"`
	ID        string   `dynamodbav:"id"`
	EnergyWh  float64  `dynamodbav:"energyWh"`
	PowerW    float64  `dynamodbav:"powerW"`
	VoltageV  *float64 `dynamodbav:"voltageV,omitempty"`
	CurrentA  *float64 `dynamodbav:"currentA,omitempty"`
	Timestamp int64    `dynamodbav:"ts"`
}

type dynamoDevice struct {
	DeviceID     string `dynamodbav:"device_id"`
	UserID       string `dynamodbav:"user_id"`
	Name         string `dynamodbav:"name"`
	Type         string `dynamodbav:"type"`
	Status       string `dynamodbav:"status"`
	RegisteredAt int64  `dynamodbav:"registeredAt"`
}

// sortKeyPrefix renders t so that lexical order equals time order.
func sortKeyPrefix(t time.Time) string {
	return fmt.Sprintf("%015d", t.UnixMilli())
}

func sortKey(t time.Time, id string) string {
	return sortKeyPrefix(t) + "#" + id
}

func toDynamoReading(r domain.Reading) dynamoReading {
	return dynamoReading{
		DeviceID:  r.DeviceID,
		SortKey:   sortKey(r.Timestamp, r.ID),
		ID:        r.ID,
		EnergyWh:  r.EnergyWh,
		PowerW:    r.PowerW,
		VoltageV:  r.VoltageV,
		CurrentA:  r.CurrentA,
		Timestamp: r.Timestamp.UnixMilli(),
	}
}

func (d dynamoReading) toDomain() domain.Reading {
	return domain.Reading{
		ID:        d.ID,
		DeviceID:  d.DeviceID,
		EnergyWh:  d.EnergyWh,
		PowerW:    d.PowerW,
		VoltageV:  d.VoltageV,
		CurrentA:  d.CurrentA,
		Timestamp: time.UnixMilli(d.Timestamp).UTC(),
	}
}

func (s *DynamoStore) Insert(ctx context.Context, r *domain.Reading) error {
	r.ID = uuid.NewString()
	item, err := attributevalue.MarshalMap(toDynamoReading(*r))
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	_, err = s.svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.readingsTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put item in DynamoDB: %w", err)
	}
	return nil
}

func (s *DynamoStore) InsertMany(ctx context.Context, rs []domain.Reading) error {
	requests := make([]types.WriteRequest, 0, len(rs))
	ids := make([]string, len(rs))
	for i := range rs {
		r := rs[i]
		r.ID = uuid.NewString()
		ids[i] = r.ID
		item, err := attributevalue.MarshalMap(toDynamoReading(r))
		if err != nil {
			return fmt.Errorf("failed to marshal reading: %w", err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}

	for start := 0; start < len(requests); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(requests))
		if err := s.batchWrite(ctx, requests[start:end]); err != nil {
			return err
		}
	}
	for i := range rs {
		rs[i].ID = ids[i]
	}
	return nil
}

// batchWrite retries unprocessed items a bounded number of times.
func (s *DynamoStore) batchWrite(ctx context.Context, reqs []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.readingsTable: reqs}
	for attempt := 0; attempt < 5 && len(pending[s.readingsTable]) > 0; attempt++ {
		out, err := s.svc.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("failed to batch write readings: %w", err)
		}
		pending = out.UnprocessedItems
		if len(pending[s.readingsTable]) > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(50*(attempt+1)) * time.Millisecond):
			}
		}
	}
	if n := len(pending[s.readingsTable]); n > 0 {
		return fmt.Errorf("failed to batch write readings: %d items unprocessed", n)
	}
	return nil
}

func (s *DynamoStore) List(ctx context.Context, f domain.ReadingFilter) ([]domain.Reading, error) {
	if f.DeviceID != "" {
		return s.queryDevice(ctx, f)
	}

	items, err := s.scanReadings(ctx, f.Since, f.Until)
	if err != nil {
		return nil, err
	}
	sortReadings(items, f.Order)
	if f.Limit > 0 && len(items) > f.Limit {
		items = items[:f.Limit]
	}
	out := make([]domain.Reading, len(items))
	for i, it := range items {
		out[i] = it.toDomain()
	}
	return out, nil
}

func (s *DynamoStore) queryDevice(ctx context.Context, f domain.ReadingFilter) ([]domain.Reading, error) {
	cond := "device_id = :d"
	values := map[string]types.AttributeValue{
		":d": &types.AttributeValueMemberS{Value: f.DeviceID},
	}
	switch {
	case !f.Since.IsZero() && !f.Until.IsZero():
		cond += " AND sk BETWEEN :from AND :to"
		values[":from"] = &types.AttributeValueMemberS{Value: sortKeyPrefix(f.Since)}
		values[":to"] = &types.AttributeValueMemberS{Value: sortKeyPrefix(f.Until)}
	case !f.Since.IsZero():
		cond += " AND sk >= :from"
		values[":from"] = &types.AttributeValueMemberS{Value: sortKeyPrefix(f.Since)}
	case !f.Until.IsZero():
		cond += " AND sk < :to"
		values[":to"] = &types.AttributeValueMemberS{Value: sortKeyPrefix(f.Until)}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.readingsTable),
		KeyConditionExpression:    aws.String(cond),
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(f.Order == domain.Asc),
	}
	if f.Limit > 0 {
		input.Limit = aws.Int32(int32(f.Limit))
	}

	var out []domain.Reading
	p := dynamodb.NewQueryPaginator(s.svc, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query DynamoDB: %w", err)
		}
		var items []dynamoReading
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal readings: %w", err)
		}
		for _, it := range items {
			out = append(out, it.toDomain())
			if f.Limit > 0 && len(out) == f.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (s *DynamoStore) scanReadings(ctx context.Context, since, until time.Time) ([]dynamoReading, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(s.readingsTable)}
	values := map[string]types.AttributeValue{}
	var filter string
	if !since.IsZero() {
		filter = "ts >= :since"
		values[":since"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(since.UnixMilli(), 10)}
	}
	if !until.IsZero() {
		if filter != "" {
			filter += " AND "
		}
		filter += "ts < :until"
		values[":until"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(until.UnixMilli(), 10)}
	}
	if filter != "" {
		input.FilterExpression = aws.String(filter)
		input.ExpressionAttributeValues = values
	}

	var out []dynamoReading
	p := dynamodb.NewScanPaginator(s.svc, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan DynamoDB: %w", err)
		}
		var items []dynamoReading
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal readings: %w", err)
		}
		out = append(out, items...)
	}
	return out, nil
}

func sortReadings(items []dynamoReading, order domain.Order) {
	sort.SliceStable(items, func(i, j int) bool {
		if order == domain.Asc {
			return items[i].SortKey < items[j].SortKey
		}
		return items[i].SortKey > items[j].SortKey
	})
}

func (s *DynamoStore) EnergySpans(ctx context.Context, since time.Time) ([]domain.EnergySpan, error) {
	items, err := s.scanReadings(ctx, since, time.Time{})
	if err != nil {
		return nil, err
	}
	sortReadings(items, domain.Asc)

	spans := make(map[string]*domain.EnergySpan)
	var ids []string
	for _, it := range items {
		sp, ok := spans[it.DeviceID]
		if !ok {
			sp = &domain.EnergySpan{DeviceID: it.DeviceID, FirstWh: it.EnergyWh}
			spans[it.DeviceID] = sp
			ids = append(ids, it.DeviceID)
		}
		sp.LastWh = it.EnergyWh
	}
	sort.Strings(ids)
	out := make([]domain.EnergySpan, len(ids))
	for i, id := range ids {
		out[i] = *spans[id]
	}
	return out, nil
}

func (s *DynamoStore) ListDevices(ctx context.Context) ([]domain.Device, error) {
	var out []domain.Device
	p := dynamodb.NewScanPaginator(s.svc, &dynamodb.ScanInput{TableName: aws.String(s.devicesTable)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan devices: %w", err)
		}
		var items []dynamoDevice
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal devices: %w", err)
		}
		for _, it := range items {
			out = append(out, it.toDomain())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out, nil
}

func (d dynamoDevice) toDomain() domain.Device {
	return domain.Device{
		DeviceID:     d.DeviceID,
		UserID:       d.UserID,
		Name:         d.Name,
		Type:         domain.DeviceType(d.Type),
		Status:       domain.DeviceStatus(d.Status),
		RegisteredAt: time.UnixMilli(d.RegisteredAt).UTC(),
	}
}

func (s *DynamoStore) GetDevice(ctx context.Context, deviceID string) (domain.Device, error) {
	out, err := s.svc.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.devicesTable),
		Key: map[string]types.AttributeValue{
			"device_id": &types.AttributeValueMemberS{Value: deviceID},
		},
	})
	if err != nil {
		return domain.Device{}, fmt.Errorf("failed to get device: %w", err)
	}
	if len(out.Item) == 0 {
		return domain.Device{}, domain.ErrNotFound
	}
	var d dynamoDevice
	if err := attributevalue.UnmarshalMap(out.Item, &d); err != nil {
		return domain.Device{}, fmt.Errorf("failed to unmarshal device: %w", err)
	}
	return d.toDomain(), nil
}

// UpsertDevice writes the device and keeps the first registration time.
func (s *DynamoStore) UpsertDevice(ctx context.Context, d domain.Device) error {
	prev, err := s.GetDevice(ctx, d.DeviceID)
	switch {
	case err == nil:
		d.RegisteredAt = prev.RegisteredAt
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	item, err := attributevalue.MarshalMap(dynamoDevice{
		DeviceID:     d.DeviceID,
		UserID:       d.UserID,
		Name:         d.Name,
		Type:         string(d.Type),
		Status:       string(d.Status),
		RegisteredAt: d.RegisteredAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal device: %w", err)
	}
	_, err = s.svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.devicesTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put device: %w", err)
	}
	return nil
}
