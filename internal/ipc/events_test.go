package ipc

import (
	"sync"
	"testing"
	"time"
)

func TestEventBusPubSub(t *testing.T) {
	eb := NewEventBus()

	ch := eb.Subscribe(TopicAgentSpawned, 10)

	eb.Publish(TopicAgentSpawned, "agent-42", []byte("hello"))

	select {
	case evt := <-ch:
		if evt.Topic != TopicAgentSpawned {
			t.Fatalf("expected topic %s, got %s", TopicAgentSpawned, evt.Topic)
		}
		if evt.Source != "agent-42" {
			t.Fatalf("expected source agent-42, got %s", evt.Source)
		}
		if string(evt.Payload) != "hello" {
			t.Fatalf("expected payload 'hello', got %q", string(evt.Payload))
		}
		if evt.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be set")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("did not receive event")
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	eb := NewEventBus()

	ch1 := eb.Subscribe("topic", 10)
	ch2 := eb.Subscribe("topic", 10)

	eb.Publish("topic", "kernel", []byte("data"))

	for i, ch := range []chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if string(evt.Payload) != "data" {
				t.Fatalf("subscriber %d got wrong payload", i)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d did not receive event", i)
		}
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := NewEventBus()

	ch := eb.Subscribe("topic", 10)
	eb.Unsubscribe("topic", ch)

	if eb.TopicCount("topic") != 0 {
		t.Fatal("expected 0 subscribers after unsubscribe")
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed")
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	eb := NewEventBus()

	// Should not panic even with no subscribers.
	eb.Publish("nobody_listens", "kernel", []byte("void"))
}

func TestEventBusTopicIsolation(t *testing.T) {
	eb := NewEventBus()

	chA := eb.Subscribe("topicA", 10)
	chB := eb.Subscribe("topicB", 10)

	eb.Publish("topicA", "kernel", []byte("for A"))

	select {
	case <-chA:
	case <-time.After(50 * time.Millisecond):
		t.Fatal("topicA subscriber should receive event")
	}

	select {
	case <-chB:
		t.Fatal("topicB subscriber should NOT receive topicA event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBusFullChannelDrops(t *testing.T) {
	eb := NewEventBus()
	ch := eb.Subscribe("topic", 1)

	eb.Publish("topic", "a", nil)
	eb.Publish("topic", "b", nil) // dropped, must not block

	evt := <-ch
	if evt.Source != "a" {
		t.Fatalf("expected first event to survive, got %s", evt.Source)
	}
	select {
	case <-ch:
		t.Fatal("second event should have been dropped")
	default:
	}
}

func TestEventBusSubscribeAll(t *testing.T) {
	eb := NewEventBus()
	topics := AllTopics()
	ch := eb.SubscribeAll(topics, 16)

	eb.Publish(TopicAgentTerminated, "x", nil)
	eb.Publish(TopicEnergyLow, "kernel", nil)

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case evt := <-ch:
			got[evt.Topic] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("did not receive event")
		}
	}
	if !got[TopicAgentTerminated] || !got[TopicEnergyLow] {
		t.Fatalf("unexpected topics: %v", got)
	}

	eb.UnsubscribeAll(topics, ch)
	for _, topic := range topics {
		if eb.TopicCount(topic) != 0 {
			t.Fatalf("topic %s still has subscribers", topic)
		}
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed once")
	}
}

func TestEventBusPublishDuringUnsubscribe(t *testing.T) {
	eb := NewEventBus()
	stop := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					eb.Publish(TopicTaskFailed, "a", nil)
				}
			}
		}()
	}

	for i := 0; i < 2000; i++ {
		ch := eb.Subscribe(TopicTaskFailed, 1024)
		eb.Unsubscribe(TopicTaskFailed, ch)
		all := eb.SubscribeAll(AllTopics(), 1024)
		eb.UnsubscribeAll(AllTopics(), all)
	}
	close(stop)
	wg.Wait()

	if n := eb.TopicCount(TopicTaskFailed); n != 0 {
		t.Fatalf("TopicCount = %d, want 0", n)
	}
}
