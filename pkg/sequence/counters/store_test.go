package counters

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mongoseq/pkg/apperror"
)

// fakeCounterColl implements counterCollection through settable functions.
type fakeCounterColl struct {
	findOneFunc          func(ctx context.Context, filter any, opts ...*options.FindOneOptions) *mongo.SingleResult
	findOneAndUpdateFunc func(ctx context.Context, filter any, update any, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult
	updateOneFunc        func(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

func (f *fakeCounterColl) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) *mongo.SingleResult {
	return f.findOneFunc(ctx, filter, opts...)
}

func (f *fakeCounterColl) FindOneAndUpdate(ctx context.Context, filter any, update any, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult {
	return f.findOneAndUpdateFunc(ctx, filter, update, opts...)
}

func (f *fakeCounterColl) UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return f.updateOneFunc(ctx, filter, update, opts...)
}

var _ counterCollection = (*fakeCounterColl)(nil)

// inMemoryCounter simulates the server-side find-and-update for fixed
// startAt and incrementBy values, keyed the way the store keys records.
func inMemoryCounter(startAt, incrementBy int64) *fakeCounterColl {
	var mu sync.Mutex
	counts := make(map[string]int64)

	key := func(filter any) string {
		d := filter.(bson.D)
		return d[0].Value.(string) + "/" + d[1].Value.(string)
	}

	return &fakeCounterColl{
		findOneAndUpdateFunc: func(ctx context.Context, filter any, update any, _ ...*options.FindOneAndUpdateOptions) *mongo.SingleResult {
			mu.Lock()
			defer mu.Unlock()
			k := key(filter)
			if current, ok := counts[k]; ok {
				counts[k] = current + incrementBy
			} else {
				counts[k] = startAt
			}
			return mongo.NewSingleResultFromDocument(counterRecord{Count: counts[k]}, nil, nil)
		},
		findOneFunc: func(ctx context.Context, filter any, _ ...*options.FindOneOptions) *mongo.SingleResult {
			mu.Lock()
			defer mu.Unlock()
			current, ok := counts[key(filter)]
			if !ok {
				return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
			}
			return mongo.NewSingleResultFromDocument(counterRecord{Count: current}, nil, nil)
		},
		updateOneFunc: func(ctx context.Context, filter any, update any, _ ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
			mu.Lock()
			defer mu.Unlock()
			value := update.(bson.D)[0].Value.(bson.D)[0].Value.(int64)
			counts[key(filter)] = value
			return &mongo.UpdateResult{MatchedCount: 1}, nil
		},
	}
}

func errorResult(err error) *mongo.SingleResult {
	return mongo.NewSingleResultFromDocument(bson.D{}, err, nil)
}

// --- Allocate ---

func TestAllocate_CommandShape(t *testing.T) {
	var gotFilter, gotUpdate any
	var gotOpts []*options.FindOneAndUpdateOptions
	fake := &fakeCounterColl{
		findOneAndUpdateFunc: func(ctx context.Context, filter any, update any, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult {
			gotFilter, gotUpdate, gotOpts = filter, update, opts
			return mongo.NewSingleResultFromDocument(counterRecord{Count: 100}, nil, nil)
		},
	}
	store := newStore(fake)

	count, err := store.Allocate(context.Background(), "order", "number", 100, 5)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if count != 100 {
		t.Errorf("expected 100, got %d", count)
	}

	wantFilter := bson.D{{Key: "model", Value: "order"}, {Key: "field", Value: "number"}}
	if !reflect.DeepEqual(gotFilter, wantFilter) {
		t.Errorf("filter mismatch:\n got  %v\n want %v", gotFilter, wantFilter)
	}

	wantUpdate := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.D{{Key: "count", Value: bson.D{{Key: "$cond", Value: bson.D{
			{Key: "if", Value: bson.D{{Key: "$eq", Value: bson.A{bson.D{{Key: "$type", Value: "$count"}}, "missing"}}}},
			{Key: "then", Value: int64(100)},
			{Key: "else", Value: bson.D{{Key: "$add", Value: bson.A{"$count", int64(5)}}}},
		}}}}}}},
	}
	if !reflect.DeepEqual(gotUpdate, wantUpdate) {
		t.Errorf("update mismatch:\n got  %v\n want %v", gotUpdate, wantUpdate)
	}

	if len(gotOpts) != 1 {
		t.Fatalf("expected one options value, got %d", len(gotOpts))
	}
	if gotOpts[0].Upsert == nil || !*gotOpts[0].Upsert {
		t.Errorf("upsert not set")
	}
	if gotOpts[0].ReturnDocument == nil || *gotOpts[0].ReturnDocument != options.After {
		t.Errorf("return-document not set to After")
	}
}

func TestAllocate_Sequence(t *testing.T) {
	store := newStore(inMemoryCounter(100, 5))
	ctx := context.Background()

	want := []int64{100, 105, 110}
	for i, expected := range want {
		got, err := store.Allocate(ctx, "order", "number", 100, 5)
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		if got != expected {
			t.Errorf("allocation %d: expected %d, got %d", i, expected, got)
		}
	}
}

func TestAllocate_IndependentTargets(t *testing.T) {
	store := newStore(inMemoryCounter(1, 1))
	ctx := context.Background()

	if got, _ := store.Allocate(ctx, "order", "number", 1, 1); got != 1 {
		t.Errorf("order/number: expected 1, got %d", got)
	}
	if got, _ := store.Allocate(ctx, "invoice", "number", 1, 1); got != 1 {
		t.Errorf("invoice/number: expected 1, got %d", got)
	}
	if got, _ := store.Allocate(ctx, "order", "code", 1, 1); got != 1 {
		t.Errorf("order/code: expected 1, got %d", got)
	}
	if got, _ := store.Allocate(ctx, "order", "number", 1, 1); got != 2 {
		t.Errorf("order/number again: expected 2, got %d", got)
	}
}

func TestAllocate_ConcurrentExactSet(t *testing.T) {
	const n = 64
	store := newStore(inMemoryCounter(100, 1))
	ctx := context.Background()

	results := make([]int64, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.Allocate(ctx, "order", "number", 100, 1)
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("allocate %d: %v", i, errs[i])
		}
		if seen[results[i]] {
			t.Fatalf("value %d allocated twice", results[i])
		}
		seen[results[i]] = true
	}
	for want := int64(100); want < 100+n; want++ {
		if !seen[want] {
			t.Errorf("value %d was never allocated", want)
		}
	}
}

func TestAllocate_RetriesLostUpsertRaceOnce(t *testing.T) {
	calls := 0
	fake := &fakeCounterColl{
		findOneAndUpdateFunc: func(ctx context.Context, filter any, update any, _ ...*options.FindOneAndUpdateOptions) *mongo.SingleResult {
			calls++
			if calls == 1 {
				return errorResult(mongo.CommandError{Code: 11000, Message: "E11000 duplicate key error"})
			}
			return mongo.NewSingleResultFromDocument(counterRecord{Count: 101}, nil, nil)
		},
	}
	store := newStore(fake)

	count, err := store.Allocate(context.Background(), "order", "number", 100, 1)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if count != 101 {
		t.Errorf("expected 101, got %d", count)
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 store calls, got %d", calls)
	}
}

func TestAllocate_PersistentDuplicateKeyFails(t *testing.T) {
	calls := 0
	fake := &fakeCounterColl{
		findOneAndUpdateFunc: func(ctx context.Context, filter any, update any, _ ...*options.FindOneAndUpdateOptions) *mongo.SingleResult {
			calls++
			return errorResult(mongo.CommandError{Code: 11000, Message: "E11000 duplicate key error"})
		},
	}
	store := newStore(fake)

	_, err := store.Allocate(context.Background(), "order", "number", 100, 1)
	if !apperror.IsStoreUnavailable(err) {
		t.Fatalf("expected STORE_UNAVAILABLE, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 store calls, got %d", calls)
	}
}

func TestAllocate_StoreFailure(t *testing.T) {
	fake := &fakeCounterColl{
		findOneAndUpdateFunc: func(ctx context.Context, filter any, update any, _ ...*options.FindOneAndUpdateOptions) *mongo.SingleResult {
			return errorResult(errors.New("socket closed"))
		},
	}
	store := newStore(fake)

	_, err := store.Allocate(context.Background(), "order", "number", 100, 1)
	if !apperror.IsStoreUnavailable(err) {
		t.Fatalf("expected STORE_UNAVAILABLE, got %v", err)
	}
	appErr, _ := apperror.AsAppError(err)
	if appErr.Details["model"] != "order" || appErr.Details["field"] != "number" {
		t.Errorf("expected target details, got %v", appErr.Details)
	}
}

// --- Peek ---

func TestPeek_FreshCounter(t *testing.T) {
	store := newStore(inMemoryCounter(100, 5))
	got, err := store.Peek(context.Background(), "order", "number", 100, 5)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if got != 100 {
		t.Errorf("expected the seed 100, got %d", got)
	}
}

func TestPeek_DoesNotAdvance(t *testing.T) {
	store := newStore(inMemoryCounter(100, 5))
	ctx := context.Background()

	if _, err := store.Allocate(ctx, "order", "number", 100, 5); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	for i := 0; i < 3; i++ {
		got, err := store.Peek(ctx, "order", "number", 100, 5)
		if err != nil {
			t.Fatalf("peek %d: %v", i, err)
		}
		if got != 105 {
			t.Errorf("peek %d: expected 105, got %d", i, got)
		}
	}
	got, err := store.Allocate(ctx, "order", "number", 100, 5)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if got != 105 {
		t.Errorf("peeked value not allocated next: got %d", got)
	}
}

func TestPeek_StoreFailure(t *testing.T) {
	fake := &fakeCounterColl{
		findOneFunc: func(ctx context.Context, filter any, _ ...*options.FindOneOptions) *mongo.SingleResult {
			return errorResult(errors.New("socket closed"))
		},
	}
	store := newStore(fake)

	_, err := store.Peek(context.Background(), "order", "number", 100, 1)
	if !apperror.IsStoreUnavailable(err) {
		t.Fatalf("expected STORE_UNAVAILABLE, got %v", err)
	}
	appErr, _ := apperror.AsAppError(err)
	if appErr.Details["operation"] != "peek" {
		t.Errorf("expected peek operation detail, got %v", appErr.Details)
	}
}

// --- Reset ---

func TestReset_CommandShape(t *testing.T) {
	var gotFilter, gotUpdate any
	var gotOpts []*options.UpdateOptions
	fake := &fakeCounterColl{
		updateOneFunc: func(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
			gotFilter, gotUpdate, gotOpts = filter, update, opts
			return &mongo.UpdateResult{MatchedCount: 1}, nil
		},
	}
	store := newStore(fake)

	if err := store.Reset(context.Background(), "order", "number", 100, 5); err != nil {
		t.Fatalf("reset: %v", err)
	}

	wantFilter := bson.D{{Key: "model", Value: "order"}, {Key: "field", Value: "number"}}
	if !reflect.DeepEqual(gotFilter, wantFilter) {
		t.Errorf("filter mismatch:\n got  %v\n want %v", gotFilter, wantFilter)
	}
	// Rewind to one step before the seed.
	wantUpdate := bson.D{{Key: "$set", Value: bson.D{{Key: "count", Value: int64(95)}}}}
	if !reflect.DeepEqual(gotUpdate, wantUpdate) {
		t.Errorf("update mismatch:\n got  %v\n want %v", gotUpdate, wantUpdate)
	}
	if len(gotOpts) != 1 || gotOpts[0].Upsert == nil || !*gotOpts[0].Upsert {
		t.Errorf("upsert not set")
	}
}

func TestReset_ThenAllocateReturnsSeed(t *testing.T) {
	store := newStore(inMemoryCounter(100, 5))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Allocate(ctx, "order", "number", 100, 5); err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
	}
	if err := store.Reset(ctx, "order", "number", 100, 5); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, err := store.Allocate(ctx, "order", "number", 100, 5)
	if err != nil {
		t.Fatalf("allocate after reset: %v", err)
	}
	if got != 100 {
		t.Errorf("expected the seed 100 after reset, got %d", got)
	}
}

func TestReset_RetriesLostUpsertRaceOnce(t *testing.T) {
	calls := 0
	fake := &fakeCounterColl{
		updateOneFunc: func(ctx context.Context, filter any, update any, _ ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
			calls++
			if calls == 1 {
				return nil, mongo.CommandError{Code: 11000, Message: "E11000 duplicate key error"}
			}
			return &mongo.UpdateResult{MatchedCount: 1}, nil
		},
	}
	store := newStore(fake)

	if err := store.Reset(context.Background(), "order", "number", 100, 1); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 store calls, got %d", calls)
	}
}

func TestReset_StoreFailure(t *testing.T) {
	fake := &fakeCounterColl{
		updateOneFunc: func(ctx context.Context, filter any, update any, _ ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
			return nil, errors.New("socket closed")
		},
	}
	store := newStore(fake)

	err := store.Reset(context.Background(), "order", "number", 100, 1)
	if !apperror.IsStoreUnavailable(err) {
		t.Fatalf("expected STORE_UNAVAILABLE, got %v", err)
	}
}

// --- Prepare ---

func TestPrepareNamed_NilDatabase(t *testing.T) {
	_, err := PrepareNamed(context.Background(), nil, "counters")
	if !apperror.IsNotInitialized(err) {
		t.Fatalf("expected NOT_INITIALIZED, got %v", err)
	}
}

func TestIsNamespaceExists(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"namespace exists", mongo.CommandError{Code: 48, Message: "NamespaceExists"}, true},
		{"other server code", mongo.CommandError{Code: 26, Message: "NamespaceNotFound"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNamespaceExists(tt.err); got != tt.want {
				t.Errorf("isNamespaceExists(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
