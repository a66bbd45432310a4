package mcp

import (
	"context"
	"fmt"
	"testing"
)

func TestSessionRequestsReleaseEmptiesState(t *testing.T) {
	requests := newSessionRequests()

	for i := 0; i < 100; i++ {
		id := MustString(fmt.Sprintf("req-%d", i))
		_, cancel := context.WithCancel(context.Background())
		results := requests.register(id, cancel)
		if results == nil {
			t.Fatalf("register %s returned no results channel", id)
		}
		requests.release(id)
	}

	// A stdio session lives as long as the server, so completed requests must not
	// leave entries behind.
	if n := requests.len(); n != 0 {
		t.Errorf("%d entries left after all requests were released, want 0", n)
	}
}

func TestSessionRequestsCancel(t *testing.T) {
	requests := newSessionRequests()

	ctx, cancel := context.WithCancel(context.Background())
	requests.register("req-1", cancel)

	requests.cancel("req-1")
	select {
	case <-ctx.Done():
	default:
		t.Error("cancel left the request context alive")
	}

	requests.release("req-1")
	if _, ok := requests.result("req-1"); ok {
		t.Error("released request still has a results channel")
	}
	// Releasing an already released ID is a no-op.
	requests.release("req-1")
}
