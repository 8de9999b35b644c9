package flow

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/medtriage/MedTriage/internal/models"
)

func newConv(callID string, last time.Time) *Conversation {
	return &Conversation{
		ID:           "id-" + callID,
		CallID:       callID,
		State:        models.StateGreeting,
		PatientInfo:  map[string]string{},
		CreatedAt:    last,
		LastActivity: last,
	}
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	r := NewRegistry()
	r.put(newConv("a", time.Now()))

	snap, ok := r.Snapshot("a")
	if !ok {
		t.Fatal("snapshot missing")
	}
	snap.Symptoms = append(snap.Symptoms, "cough")
	snap.PatientInfo["age"] = "40"

	again, _ := r.Snapshot("a")
	if len(again.Symptoms) != 0 || len(again.PatientInfo) != 0 {
		t.Errorf("snapshot mutation leaked into registry: %+v", again)
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	r.put(newConv("a", time.Now()))
	r.put(newConv("b", time.Now()))

	conv, ok := r.remove("a")
	if !ok || conv.CallID != "a" {
		t.Fatalf("remove returned %+v, %v", conv, ok)
	}
	if _, ok := r.remove("a"); ok {
		t.Error("second remove should fail")
	}
	ids := r.CallIDs()
	sort.Strings(ids)
	if len(ids) != 1 || ids[0] != "b" {
		t.Errorf("unexpected ids %v", ids)
	}
}

func TestRegistryRemoveWaitsForTurn(t *testing.T) {
	r := NewRegistry()
	r.put(newConv("a", time.Now()))
	e, _ := r.lookup("a")

	e.turnMu.Lock()
	done := make(chan *Conversation)
	go func() {
		conv, _ := r.remove("a")
		done <- conv
	}()

	select {
	case <-done:
		t.Fatal("remove returned while a turn was in progress")
	case <-time.After(20 * time.Millisecond):
	}

	updated := e.current().clone()
	updated.InteractionCount = 7
	e.commit(updated)
	e.turnMu.Unlock()

	conv := <-done
	if conv.InteractionCount != 7 {
		t.Errorf("remove should see the committed turn, got %d", conv.InteractionCount)
	}
}

func TestRegistryIdleSince(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.put(newConv("old", base))
	r.put(newConv("new", base.Add(time.Hour)))

	ids := r.idleSince(base.Add(30 * time.Minute))
	if len(ids) != 1 || ids[0] != "old" {
		t.Errorf("unexpected idle ids %v", ids)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%26))
			r.put(newConv(id, time.Now()))
			r.Snapshot(id)
			r.Len()
		}(i)
	}
	wg.Wait()
	if r.Len() != 26 {
		t.Errorf("expected 26 entries, got %d", r.Len())
	}
}
