package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

type saleRecorded struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

func TestRouterDispatchesByType(t *testing.T) {
	var got saleRecorded
	router := NewRouter()
	router.Handle("SALE_RECORDED", Typed(func(_ context.Context, _ Command, payload saleRecorded) (Result, error) {
		got = payload

		return OK(), nil
	}))
	router.Handle("STOCK_ADJUSTED", TransportFunc(func(context.Context, Command) (Result, error) {
		return Retryable(errors.New("busy")), nil
	}))

	result, err := router.Execute(context.Background(), Command{Type: "SALE_RECORDED", Payload: json.RawMessage(`{"sku":"A-1","qty":2}`)})
	if err != nil || result.Kind != ResultOK {
		t.Fatalf("expected ok, got %v %v", result.Kind, err)
	}
	if got != (saleRecorded{SKU: "A-1", Qty: 2}) {
		t.Fatalf("unexpected payload %+v", got)
	}

	result, _ = router.Execute(context.Background(), Command{Type: "STOCK_ADJUSTED"})
	if result.Kind != ResultRetryable {
		t.Fatalf("expected retryable, got %v", result.Kind)
	}

	if types := router.Types(); !reflect.DeepEqual(types, []string{"SALE_RECORDED", "STOCK_ADJUSTED"}) {
		t.Fatalf("unexpected types %v", types)
	}
}

func TestRouterUnknownTypeIsFatal(t *testing.T) {
	result, err := NewRouter().Execute(context.Background(), Command{Type: "MYSTERY"})
	if err != nil {
		t.Fatalf("expected classified result, got error %v", err)
	}
	if result.Kind != ResultFatal || !errors.Is(result.Err, ErrUnknownCommandType) {
		t.Fatalf("expected fatal unknown type, got %+v", result)
	}
}

func TestTypedRejectsUndecodablePayload(t *testing.T) {
	called := false
	transport := Typed(func(context.Context, Command, saleRecorded) (Result, error) {
		called = true

		return OK(), nil
	})

	result, err := transport.Execute(context.Background(), Command{Type: "SALE_RECORDED", Payload: json.RawMessage(`{"qty":"two"}`)})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if result.Kind != ResultFatal || called {
		t.Fatalf("expected fatal without invoking handler, got %+v called=%v", result, called)
	}
}

func TestRouterHandlePanicsOnInvalidRoute(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	NewRouter().Handle("", TransportFunc(func(context.Context, Command) (Result, error) { return OK(), nil }))
}
