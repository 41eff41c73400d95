package session

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/nerrad567/voicelink-core/internal/infrastructure/config"
)

func TestRouteStartsSession(t *testing.T) {
	factory := &transportFactory{}
	responder := &scriptedResponder{}
	sender := &recordingSender{}
	manager := newTestManager(t, factory, responder, sender, Hooks{})
	router := NewRouter(manager, nil)

	msg := InboundMessage{DeviceID: "d1", Kind: KindASRResult, Text: "hello"}
	if err := router.Route(context.Background(), msg); err != nil {
		t.Fatalf("Route() error = %v", err)
	}

	if _, ok := manager.Lookup("d1"); !ok {
		t.Fatal("no session after routing to an unseen device")
	}

	eventually(t, func() bool { return responder.callCount() == 1 }, "responder not invoked")
	if call := responder.callAt(t, 0); call.input != "hello" {
		t.Errorf("responder input = %q, want %q", call.input, "hello")
	}

	// A second message reuses the session.
	if err := router.Route(context.Background(), msg); err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	eventually(t, func() bool { return responder.callCount() == 2 }, "second message not processed")
	if got := len(factory.forDevice("d1")); got != 1 {
		t.Errorf("built %d transports, want 1", got)
	}
}

func TestRouteFIFOOrdering(t *testing.T) {
	factory := &transportFactory{}
	responder := newGateResponder()
	manager := newTestManager(t, factory, responder, &recordingSender{}, Hooks{})
	router := NewRouter(manager, nil)

	for _, text := range []string{"m1", "m2", "m3"} {
		if err := router.Route(context.Background(), InboundMessage{DeviceID: "d1", Kind: KindASRResult, Text: text}); err != nil {
			t.Fatalf("Route(%s) error = %v", text, err)
		}
	}

	for _, want := range []string{"m1", "m2", "m3"} {
		select {
		case got := <-responder.invoked:
			if got != want {
				t.Fatalf("invocation = %q, want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for invocation %q", want)
		}

		// Strictly serial: nothing else may start while this turn runs.
		select {
		case got := <-responder.invoked:
			t.Fatalf("concurrent invocation %q while %q in flight", got, want)
		case <-time.After(30 * time.Millisecond):
		}

		responder.proceed <- struct{}{}
	}

	eventually(t, func() bool {
		return reflect.DeepEqual(responder.inputs(), []string{"m1", "m2", "m3"})
	}, "invocations out of order")
}

func TestRouteQueueFull(t *testing.T) {
	factory := &transportFactory{}
	responder := newGateResponder()
	manager, err := NewManager(Options{
		Factory:   factory.make,
		Responder: responder,
		Sender:    &recordingSender{},
		Config:    config.SessionConfig{QueueSize: 1, HistoryLimit: 20},
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(manager.Shutdown)
	router := NewRouter(manager, nil)

	route := func(text string) error {
		return router.Route(context.Background(), InboundMessage{DeviceID: "d1", Kind: KindASRResult, Text: text})
	}

	if err := route("m1"); err != nil {
		t.Fatalf("Route(m1) error = %v", err)
	}
	// Wait until m1 is dequeued and in flight, so the queue is empty.
	select {
	case <-responder.invoked:
	case <-time.After(2 * time.Second):
		t.Fatal("first message never reached the responder")
	}

	if err := route("m2"); err != nil {
		t.Fatalf("Route(m2) error = %v", err)
	}
	if err := route("m3"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Route(m3) error = %v, want ErrQueueFull", err)
	}
}

func TestRouteValidation(t *testing.T) {
	manager := newTestManager(t, &transportFactory{}, &scriptedResponder{}, &recordingSender{}, Hooks{})
	router := NewRouter(manager, nil)

	if err := router.Route(context.Background(), InboundMessage{Text: "orphan"}); err == nil {
		t.Error("Route() error = nil for a message without device id")
	}
}

func TestRouteStartFailure(t *testing.T) {
	factory := &transportFactory{makeErr: errors.New("broker unreachable")}
	manager := newTestManager(t, factory, &scriptedResponder{}, &recordingSender{}, Hooks{})
	router := NewRouter(manager, nil)

	err := router.Route(context.Background(), InboundMessage{DeviceID: "d1", Kind: KindASRResult, Text: "hello"})
	if err == nil {
		t.Fatal("Route() error = nil, want transport failure")
	}
	if manager.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after a failed start", manager.Len())
	}
}

func TestKindForMethod(t *testing.T) {
	tests := []struct {
		method string
		want   MessageKind
		ok     bool
	}{
		{MethodASRResult, KindASRResult, true},
		{MethodDeviceMessage, KindDeviceMessage, true},
		{MethodStartDevice, "", false},
		{MethodStopDevice, "", false},
		{"unknown_method", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got, ok := KindForMethod(tt.method)
			if got != tt.want || ok != tt.ok {
				t.Errorf("KindForMethod(%q) = %v, %v, want %v, %v", tt.method, got, ok, tt.want, tt.ok)
			}
		})
	}
}
