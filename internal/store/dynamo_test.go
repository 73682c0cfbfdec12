package store

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo serves items keyed by PK and pages Scan results pageSize at a time.
type fakeDynamo struct {
	items    map[string]map[string]types.AttributeValue
	order    []string
	pageSize int

	updates []*dynamodb.UpdateItemInput
	scans   int
}

func newFakeDynamo(t *testing.T, cinemas ...Cinema) *fakeDynamo {
	t.Helper()
	f := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}, pageSize: 2}
	for _, c := range cinemas {
		item, err := attributevalue.MarshalMap(c)
		if err != nil {
			t.Fatal(err)
		}
		item["PK"] = &types.AttributeValueMemberS{Value: cinemaPK(c.ID)}
		item["SK"] = &types.AttributeValueMemberS{Value: skMeta}
		f.items[cinemaPK(c.ID)] = item
		f.order = append(f.order, cinemaPK(c.ID))
	}
	return f
}

func pkOf(key map[string]types.AttributeValue) string {
	return key["PK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[pkOf(in.Key)]}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updates = append(f.updates, in)
	item, ok := f.items[pkOf(in.Key)]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	item["movieIds"] = in.ExpressionAttributeValues[":ids"]
	item["updatedAt"] = in.ExpressionAttributeValues[":now"]
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.scans++
	start := 0
	if in.ExclusiveStartKey != nil {
		last := pkOf(in.ExclusiveStartKey)
		for i, pk := range f.order {
			if pk == last {
				start = i + 1
			}
		}
	}
	end := min(start+f.pageSize, len(f.order))
	out := &dynamodb.ScanOutput{}
	for _, pk := range f.order[start:end] {
		out.Items = append(out.Items, f.items[pk])
	}
	if end < len(f.order) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: f.order[end-1]},
		}
	}
	return out, nil
}

func TestGetCinema(t *testing.T) {
	f := newFakeDynamo(t, Cinema{ID: "c1", Name: "Cines Verdi", URL: "https://cines-verdi.com", MovieIDs: []int{1, 2}})
	s := NewDynamoStore(f, "cinemas")

	c, err := s.GetCinema(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetCinema: %v", err)
	}
	if c.ID != "c1" || c.Name != "Cines Verdi" || !reflect.DeepEqual(c.MovieIDs, []int{1, 2}) {
		t.Errorf("unexpected cinema %+v", c)
	}

	if _, err := s.GetCinema(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveMovieIDsReplacesList(t *testing.T) {
	f := newFakeDynamo(t, Cinema{ID: "c1", Name: "Yelmo", MovieIDs: []int{1, 2, 3}})
	s := NewDynamoStore(f, "cinemas")
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	ctx := context.Background()

	if err := s.SaveMovieIDs(ctx, "c1", []int{9}); err != nil {
		t.Fatalf("SaveMovieIDs: %v", err)
	}
	c, _ := s.GetCinema(ctx, "c1")
	if !reflect.DeepEqual(c.MovieIDs, []int{9}) {
		t.Errorf("expected list replaced with [9], got %v", c.MovieIDs)
	}
	if c.Name != "Yelmo" || c.UpdatedAt != 1700000000 {
		t.Errorf("unexpected record after update %+v", c)
	}

	if err := s.SaveMovieIDs(ctx, "c1", nil); err != nil {
		t.Fatal(err)
	}
	c, _ = s.GetCinema(ctx, "c1")
	if len(c.MovieIDs) != 0 {
		t.Errorf("expected empty list, got %#v", c.MovieIDs)
	}
}

func TestSaveMovieIDsMissingCinema(t *testing.T) {
	s := NewDynamoStore(newFakeDynamo(t), "cinemas")
	if err := s.SaveMovieIDs(context.Background(), "nope", []int{1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListCinemasFiltersAcrossPages(t *testing.T) {
	f := newFakeDynamo(t,
		Cinema{ID: "e", Name: "Kinepolis", URL: "https://kinepolis.es", Address: Address{Country: "España"}},
		Cinema{ID: "a", Name: "Renoir", URL: "https://renoir.es", Address: Address{Country: "spain"}},
		Cinema{ID: "b", Name: "Golem", Address: Address{Country: "ES"}},
		Cinema{ID: "c", Name: "Gaumont", URL: "https://gaumont.fr", Address: Address{Country: "France"}},
		Cinema{ID: "d", Name: "Closed", URL: "https://closed.es", Address: Address{Country: "España"}, IsDeleted: true},
	)
	s := NewDynamoStore(f, "cinemas")
	spain := regexp.MustCompile(`(?i)^(españa|spain|es)$`)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"country only", Filter{Country: spain}, []string{"a", "b", "e"}},
		{"country with url", Filter{Country: spain, RequireURL: true}, []string{"a", "e"}},
		{"everything live", Filter{}, []string{"a", "b", "c", "e"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cinemas, err := s.ListCinemas(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("ListCinemas: %v", err)
			}
			var got []string
			for _, c := range cinemas {
				got = append(got, c.ID)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
	if f.scans != 9 {
		t.Errorf("expected 3 pages per listing, got %d scans", f.scans)
	}
}
