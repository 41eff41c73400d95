package session

import (
	"context"
	"reflect"
	"regexp"
	"testing"
)

func newTestStreamer(sender *recordingSender) (*Streamer, *[]string) {
	statuses := &[]string{}
	notify := func(status string) { *statuses = append(*statuses, status) }
	return newStreamer("d1", sender, notify, nil), statuses
}

func TestDrainOrderedSequence(t *testing.T) {
	sender := &recordingSender{}
	streamer, statuses := newTestStreamer(sender)

	result := streamer.Drain(context.Background(), textStream("Hi", " there"))

	if got := sender.methods(); !reflect.DeepEqual(got, []string{
		MethodStreamStart, MethodStreamChunk, MethodStreamChunk, MethodStreamFinish,
	}) {
		t.Fatalf("methods = %v, want start, chunk, chunk, finish", got)
	}

	msgs := sender.snapshot()
	for i, msg := range msgs {
		if msg.TaskID != result.TaskID {
			t.Errorf("message %d task id = %q, want %q", i, msg.TaskID, result.TaskID)
		}
		if msg.DeviceID != "d1" {
			t.Errorf("message %d device id = %q, want d1", i, msg.DeviceID)
		}
	}
	if msgs[1].Text != "Hi" || msgs[2].Text != " there" {
		t.Errorf("chunk texts = %q, %q, want %q, %q", msgs[1].Text, msgs[2].Text, "Hi", " there")
	}

	if result.Reply != "Hi there" {
		t.Errorf("Reply = %q, want %q", result.Reply, "Hi there")
	}
	if result.Chunks != 2 {
		t.Errorf("Chunks = %d, want 2", result.Chunks)
	}
	if result.Errored || result.Cancelled {
		t.Errorf("Errored = %v, Cancelled = %v, want false, false", result.Errored, result.Cancelled)
	}
	if !reflect.DeepEqual(*statuses, []string{"waiting"}) {
		t.Errorf("notices = %v, want a single waiting at first content", *statuses)
	}
}

func TestDrainEmptyStream(t *testing.T) {
	sender := &recordingSender{}
	streamer, _ := newTestStreamer(sender)

	result := streamer.Drain(context.Background(), textStream())

	// No content means no task: no start, no finish.
	if got := len(sender.snapshot()); got != 0 {
		t.Errorf("sent %d messages, want 0", got)
	}
	if result.TaskID != "" {
		t.Errorf("TaskID = %q, want empty", result.TaskID)
	}
}

func TestDrainSkipsEmptyFragments(t *testing.T) {
	sender := &recordingSender{}
	streamer, _ := newTestStreamer(sender)

	result := streamer.Drain(context.Background(), textStream("", "Hi", ""))

	if got := sender.methods(); !reflect.DeepEqual(got, []string{
		MethodStreamStart, MethodStreamChunk, MethodStreamFinish,
	}) {
		t.Fatalf("methods = %v, want start, chunk, finish", got)
	}
	if result.Chunks != 1 {
		t.Errorf("Chunks = %d, want 1", result.Chunks)
	}
}

func TestDrainErrorFragment(t *testing.T) {
	t.Run("with failure text", func(t *testing.T) {
		sender := &recordingSender{}
		streamer, _ := newTestStreamer(sender)

		ch := make(chan Fragment, 1)
		ch <- Fragment{Kind: FragmentError, Text: "backend unreachable"}
		close(ch)

		result := streamer.Drain(context.Background(), ch)
		if !result.Errored {
			t.Fatal("Errored = false, want true")
		}
		if got := sender.methods(); !reflect.DeepEqual(got, []string{
			MethodStreamStart, MethodStreamChunk, MethodStreamFinish,
		}) {
			t.Fatalf("methods = %v, want start, chunk, finish", got)
		}
		if got := sender.snapshot()[1].Text; got != "backend unreachable" {
			t.Errorf("chunk text = %q, want the failure text", got)
		}
	})

	t.Run("empty failure text falls back", func(t *testing.T) {
		sender := &recordingSender{}
		streamer, _ := newTestStreamer(sender)

		ch := make(chan Fragment, 1)
		ch <- Fragment{Kind: FragmentError}
		close(ch)

		streamer.Drain(context.Background(), ch)
		if got := sender.snapshot()[1].Text; got != errorReplyText {
			t.Errorf("chunk text = %q, want %q", got, errorReplyText)
		}
	})

	t.Run("after content", func(t *testing.T) {
		sender := &recordingSender{}
		streamer, _ := newTestStreamer(sender)

		ch := make(chan Fragment, 2)
		ch <- Fragment{Kind: FragmentText, Text: "Hi"}
		ch <- Fragment{Kind: FragmentError, Text: "stream cut"}
		close(ch)

		result := streamer.Drain(context.Background(), ch)
		if !result.Errored {
			t.Fatal("Errored = false, want true")
		}
		if result.Reply != "Hi" {
			t.Errorf("Reply = %q, want %q without the failure text", result.Reply, "Hi")
		}
		if got := sender.methods(); !reflect.DeepEqual(got, []string{
			MethodStreamStart, MethodStreamChunk, MethodStreamChunk, MethodStreamFinish,
		}) {
			t.Fatalf("methods = %v", got)
		}
	})
}

func TestDrainToolCallFragments(t *testing.T) {
	sender := &recordingSender{}
	streamer, _ := newTestStreamer(sender)

	ch := make(chan Fragment, 3)
	ch <- Fragment{Kind: FragmentToolCall, Tool: &ToolInvocation{Name: "set_light"}}
	ch <- Fragment{Kind: FragmentText, Text: "Light is on."}
	ch <- Fragment{Kind: FragmentToolCall, Tool: &ToolInvocation{Name: "read_temp"}}
	close(ch)

	result := streamer.Drain(context.Background(), ch)
	if result.ToolCalls != 2 {
		t.Errorf("ToolCalls = %d, want 2", result.ToolCalls)
	}
	// Tool records are informational; only content reaches the wire.
	if got := sender.methods(); !reflect.DeepEqual(got, []string{
		MethodStreamStart, MethodStreamChunk, MethodStreamFinish,
	}) {
		t.Fatalf("methods = %v, want start, chunk, finish", got)
	}
}

func TestDrainCancelledMidStream(t *testing.T) {
	sender := &recordingSender{}
	streamer, _ := newTestStreamer(sender)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan Fragment)

	done := make(chan DrainResult, 1)
	go func() { done <- streamer.Drain(ctx, ch) }()

	ch <- Fragment{Kind: FragmentText, Text: "Hi"}
	cancel()

	result := <-done
	if !result.Cancelled {
		t.Fatal("Cancelled = false, want true")
	}
	// No finish after cancellation.
	if got := sender.methods(); !reflect.DeepEqual(got, []string{
		MethodStreamStart, MethodStreamChunk,
	}) {
		t.Fatalf("methods = %v, want start, chunk and nothing after", got)
	}
	if result.Reply != "Hi" {
		t.Errorf("Reply = %q, want %q", result.Reply, "Hi")
	}
}

func TestTaskIDFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^task-\d+-[0-9a-f]{8}$`)
	for i := 0; i < 10; i++ {
		id := newTaskID()
		if !pattern.MatchString(id) {
			t.Fatalf("newTaskID() = %q, want task-<unix>-<8 hex chars>", id)
		}
	}
}
