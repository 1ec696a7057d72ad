package dynamo

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeClient is an in-memory table keyed by application and id.
type fakeClient struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int
	err      error

	tableCreated bool
	createErr    error
	updates      []*dynamodb.UpdateItemInput
	scans        []dynamodb.ScanInput
	gets         []*dynamodb.GetItemInput
}

var _ API = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{items: make(map[string]map[string]types.AttributeValue)}
}

func stringAttr(m map[string]types.AttributeValue, name string) string {
	if v, ok := m[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func itemKey(m map[string]types.AttributeValue) string {
	return stringAttr(m, "application") + "\x00" + stringAttr(m, "id")
}

func (f *fakeClient) put(raw map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[itemKey(raw)] = raw
}

func (f *fakeClient) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, in)
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeClient) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, in)
	if f.err != nil {
		return nil, f.err
	}

	k := itemKey(in.Key)
	next := map[string]types.AttributeValue{
		"application": in.Key["application"],
		"id":          in.Key["id"],
		"name":        in.ExpressionAttributeValues[":name"],
		"body":        in.ExpressionAttributeValues[":body"],
		"updated_at":  in.ExpressionAttributeValues[":now"],
		"created_at":  in.ExpressionAttributeValues[":now"],
	}
	if prev, ok := f.items[k]; ok {
		if created, ok := prev["created_at"]; ok {
			next["created_at"] = created
		}
	}
	f.items[k] = next
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeClient) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	delete(f.items, itemKey(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeClient) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, *in)
	if f.err != nil {
		return nil, f.err
	}

	var keys []string
	for k := range f.items {
		if in.TotalSegments != nil {
			h := fnv.New32a()
			h.Write([]byte(k))
			if int32(h.Sum32()%uint32(*in.TotalSegments)) != aws.ToInt32(in.Segment) {
				continue
			}
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if len(in.ExclusiveStartKey) > 0 {
		after := itemKey(in.ExclusiveStartKey)
		start = sort.SearchStrings(keys, after)
		if start < len(keys) && keys[start] == after {
			start++
		}
	}
	end := len(keys)
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
	}

	out := &dynamodb.ScanOutput{}
	for _, k := range keys[start:end] {
		out.Items = append(out.Items, f.items[k])
	}
	if end < len(keys) {
		last := f.items[keys[end-1]]
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"application": last["application"],
			"id":          last["id"],
		}
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func (f *fakeClient) CreateTable(_ context.Context, _ *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.tableCreated = true
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeClient) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableName:   in.TableName,
			TableStatus: types.TableStatusActive,
		},
	}, nil
}
