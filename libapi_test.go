package runebus

import (
	"context"
	"errors"
	"testing"
)

type orderStub struct {
	ID int `json:"id"`
}

func TestTypedExportsPropagateErrors(t *testing.T) {
	if _, err := Typed[*orderStub](nil); !errors.Is(err, ErrListenerRequired) {
		t.Fatalf("expected listener required error, got %v", err)
	}

	byValue := func(context.Context, orderStub, *Event) error { return nil }
	if _, err := Typed(byValue); !errors.Is(err, ErrPayloadPointerNeeded) {
		t.Fatalf("expected pointer payload error, got %v", err)
	}

	byPointer := func(context.Context, *orderStub, *Event) error { return nil }
	if _, err := Typed(byPointer); err != nil {
		t.Fatalf("unexpected error adapting typed listener: %v", err)
	}
}

func TestBusExportsDeliver(t *testing.T) {
	b, err := TryNew(nil, nil, context.Background(), Dependencies{})
	if err != nil {
		t.Fatalf("unexpected error creating bus: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	var got string
	if _, err := b.RegisterListener("greeting.*", func(_ context.Context, evt *Event) error {
		got = evt.Name()
		return nil
	}); err != nil {
		t.Fatalf("unexpected error registering listener: %v", err)
	}

	if err := b.Dispatch(context.Background(), "greeting.hello", nil, ModeSync); err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}
	if got != "greeting.hello" {
		t.Fatalf("expected listener to observe greeting.hello, got %q", got)
	}
}

func TestEventExports(t *testing.T) {
	evt := NewEvent("order.created", WithPayload(map[string]any{"id": 7}))
	if evt.Name() != "order.created" {
		t.Fatalf("expected event name to survive construction, got %q", evt.Name())
	}
	if evt.CorrelationID() == "" {
		t.Fatal("expected a correlation id to be stamped")
	}
	if _, ok := evt.Metadata[MetaTimestamp]; !ok {
		t.Fatalf("expected %s metadata, got %#v", MetaTimestamp, evt.Metadata)
	}
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if _, err := MarshalIndent(payload, "", "  "); err != nil {
		t.Fatalf("marshal indent alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
}

func TestServiceLocatorExports(t *testing.T) {
	loc := NewServiceLocator()
	if err := loc.Provide("greeting", "hello"); err != nil {
		t.Fatalf("unexpected error providing service: %v", err)
	}

	got, err := ResolveService[string](loc, "greeting")
	if err != nil {
		t.Fatalf("unexpected error resolving service: %v", err)
	}
	if got != "hello" {
		t.Fatalf("expected resolved service to be hello, got %q", got)
	}

	if _, err := ResolveService[string](loc, "missing"); !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("expected service not found error, got %v", err)
	}
}

type announcerExtension struct {
	ExtensionBase
}

func TestExtensionExports(t *testing.T) {
	b, err := TryNew(nil, nil, context.Background(), Dependencies{})
	if err != nil {
		t.Fatalf("unexpected error creating bus: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	var activations []string
	if _, err := b.RegisterListener(ExtensionActivated, func(_ context.Context, evt *Event) error {
		name, _ := evt.Payload["extension"].(string)
		activations = append(activations, name)
		return nil
	}); err != nil {
		t.Fatalf("unexpected error registering listener: %v", err)
	}

	loader := NewExtensionLoader(b, nil)
	ext := &announcerExtension{ExtensionBase: NewExtensionBase("announcer", "1.0.0")}
	if err := loader.Add(ext); err != nil {
		t.Fatalf("unexpected error adding extension: %v", err)
	}
	if err := loader.Activate(context.Background()); err != nil {
		t.Fatalf("unexpected error activating extensions: %v", err)
	}
	if !loader.Active() {
		t.Fatal("expected loader to report active")
	}
	if len(activations) != 1 || activations[0] != "announcer" {
		t.Fatalf("expected one activation event for announcer, got %v", activations)
	}

	if err := loader.Deactivate(context.Background()); err != nil {
		t.Fatalf("unexpected error deactivating extensions: %v", err)
	}
	if loader.Active() {
		t.Fatal("expected loader to report inactive after deactivation")
	}
}

func TestErrorCategoryConstants(t *testing.T) {
	if ErrorCategoryNone != "none" {
		t.Fatalf("expected ErrorCategoryNone to be 'none', got %q", ErrorCategoryNone)
	}
	if ErrorCategoryListener != "listener" {
		t.Fatalf("expected ErrorCategoryListener to be 'listener', got %q", ErrorCategoryListener)
	}
}

func TestValidNameExport(t *testing.T) {
	if !ValidName("order.created") {
		t.Fatal("expected order.created to be a valid event name")
	}
	if ValidName("order created") {
		t.Fatal("expected a name with spaces to be rejected")
	}
}
