package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/aurora-insure/concierge/pkg/logging"
)

type mockDynamo struct {
	putInput  *dynamodb.PutItemInput
	putErr    error
	getOutput *dynamodb.GetItemOutput
	getErr    error
}

func (m *mockDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = in
	if m.putErr != nil {
		return nil, m.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.getOutput != nil {
		return m.getOutput, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func TestKeyComposition(t *testing.T) {
	got := Key(" tg:42 ", "policy_purchase", " quote-9 ")
	want := "tg:42|policy_purchase|quote-9"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestDynamoStore_PutIfAbsentWinsRace(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoStore(mock, "tool_idempotency", logging.Default())

	won, rec, err := store.PutIfAbsent(context.Background(), "s1|policy_purchase|q1", []byte(`{"status":"ok"}`))
	if err != nil {
		t.Fatalf("PutIfAbsent returned error: %v", err)
	}
	if !won {
		t.Fatal("expected first writer to win")
	}
	if rec == nil || string(rec.Result) != `{"status":"ok"}` {
		t.Fatalf("expected record with stored result, got %+v", rec)
	}

	if mock.putInput == nil {
		t.Fatal("expected PutItem to be called")
	}
	if expr := mock.putInput.ConditionExpression; expr == nil || *expr != "attribute_not_exists(recordKey)" {
		t.Fatalf("expected first-writer condition expression, got %v", expr)
	}

	var stored Record
	if err := attributevalue.UnmarshalMap(mock.putInput.Item, &stored); err != nil {
		t.Fatalf("failed to unmarshal stored record: %v", err)
	}
	if stored.CreatedAt == "" {
		t.Fatal("expected created timestamp")
	}
	if stored.ExpiresAt <= time.Now().Unix() {
		t.Fatal("expected TTL in the future")
	}
}

func TestDynamoStore_PutIfAbsentLostRaceReturnsWinner(t *testing.T) {
	existing := Record{
		Key:       "s1|policy_purchase|q1",
		Result:    []byte(`{"status":"ok","payload":{"policy_ref":"POL-1"}}`),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	item, err := attributevalue.MarshalMap(existing)
	if err != nil {
		t.Fatalf("failed to marshal fixture: %v", err)
	}

	mock := &mockDynamo{
		putErr:    &types.ConditionalCheckFailedException{},
		getOutput: &dynamodb.GetItemOutput{Item: item},
	}
	store := NewDynamoStore(mock, "tool_idempotency", logging.Default())

	won, rec, err := store.PutIfAbsent(context.Background(), existing.Key, []byte(`{"status":"ok","payload":{"policy_ref":"POL-2"}}`))
	if err != nil {
		t.Fatalf("PutIfAbsent returned error: %v", err)
	}
	if won {
		t.Fatal("expected lost race")
	}
	if string(rec.Result) != string(existing.Result) {
		t.Fatalf("expected winner's result replayed verbatim, got %s", rec.Result)
	}
}

func TestDynamoStore_UnreachableSurfacesSentinel(t *testing.T) {
	mock := &mockDynamo{
		putErr: errors.New("dial tcp: connection refused"),
		getErr: errors.New("dial tcp: connection refused"),
	}
	store := NewDynamoStore(mock, "tool_idempotency", logging.Default())

	if _, err := store.Get(context.Background(), "k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from Get, got %v", err)
	}
	if _, _, err := store.PutIfAbsent(context.Background(), "k", nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from PutIfAbsent, got %v", err)
	}
}

func TestMemoryStore_FirstWriterWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	won, _, err := store.PutIfAbsent(ctx, "k1", []byte("first"))
	if err != nil || !won {
		t.Fatalf("expected first write to win, won=%v err=%v", won, err)
	}

	won, rec, err := store.PutIfAbsent(ctx, "k1", []byte("second"))
	if err != nil {
		t.Fatalf("PutIfAbsent returned error: %v", err)
	}
	if won {
		t.Fatal("expected second write to lose")
	}
	if string(rec.Result) != "first" {
		t.Fatalf("expected first result replayed, got %s", rec.Result)
	}

	got, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got == nil || string(got.Result) != "first" {
		t.Fatalf("expected stored record, got %+v", got)
	}

	missing, err := store.Get(ctx, "k2")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for absent key, got %+v", missing)
	}
}
