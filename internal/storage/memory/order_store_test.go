package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func newOrder(ref string) domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		Reference: ref,
		CreatedAt: now,
		UpdatedAt: now,
		Customer: domain.Customer{
			Name:           "Aminata",
			Phone:          "+23276123456",
			Address:        "12 Lumley Beach Rd",
			PaymentDetails: map[string]string{"txn": "OM-1"},
		},
		Items:         []domain.LineItem{{Title: "Mug", UnitPrice: 80, Quantity: 2}},
		Subtotal:      160,
		GrandTotal:    160,
		Status:        domain.OrderStatusNew,
		PaymentStatus: domain.PaymentStatusPending,
	}
}

func TestOrderStore_CreateFind(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOrderStore()

	id, err := store.Create(ctx, newOrder("LWG-AAA111"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}

	byRef, err := store.FindOne(ctx, domain.OrderFilter{Reference: "lwg-aaa111"})
	if err != nil {
		t.Fatalf("find by reference failed: %v", err)
	}
	if byRef.ID != id {
		t.Fatalf("expected id %s, got %s", id, byRef.ID)
	}

	byID, err := store.FindOne(ctx, domain.OrderFilter{ID: id})
	if err != nil {
		t.Fatalf("find by id failed: %v", err)
	}
	if byID.Reference != "LWG-AAA111" {
		t.Fatalf("unexpected reference %s", byID.Reference)
	}
}

func TestOrderStore_DuplicateReference(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOrderStore()

	if _, err := store.Create(ctx, newOrder("LWG-DUP001")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	_, err := store.Create(ctx, newOrder("lwg-dup001"))
	if !errors.Is(err, domain.ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}
}

func TestOrderStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOrderStore()

	if _, err := store.FindOne(ctx, domain.OrderFilter{Reference: "LWG-NONE00"}); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	status := domain.OrderStatusShipped
	if _, _, err := store.UpdateStatus(ctx, "missing", domain.StatusPatch{Status: &status}, time.Now()); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderStore_FilterByReferenceAndStatus(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOrderStore()
	if _, err := store.Create(ctx, newOrder("LWG-FLT001")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, err := store.FindOne(ctx, domain.OrderFilter{Reference: "LWG-FLT001", Status: domain.OrderStatusShipped})
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected status filter to exclude order, got %v", err)
	}
}

func TestOrderStore_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOrderStore()
	id, err := store.Create(ctx, newOrder("LWG-UPD001"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	status := domain.OrderStatusCompleted
	payment := domain.PaymentStatusPaid
	now := time.Now().UTC().Add(time.Hour)

	before, after, err := store.UpdateStatus(ctx, id, domain.StatusPatch{Status: &status, PaymentStatus: &payment}, now)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if before.Status != domain.OrderStatusNew || after.Status != domain.OrderStatusCompleted {
		t.Fatalf("unexpected transition %s -> %s", before.Status, after.Status)
	}
	if after.PaymentStatus != domain.PaymentStatusPaid || !after.UpdatedAt.Equal(now) {
		t.Fatalf("patch not applied: %+v", after)
	}

	stored, err := store.FindOne(ctx, domain.OrderFilter{ID: id})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if stored.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected stored status Completed, got %s", stored.Status)
	}
}

func TestOrderStore_Count(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOrderStore()
	for _, ref := range []string{"LWG-CNT001", "LWG-CNT002", "LWG-CNT003"} {
		if _, err := store.Create(ctx, newOrder(ref)); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	total, err := store.Count(ctx, domain.OrderFilter{})
	if err != nil || total != 3 {
		t.Fatalf("expected 3 orders, got %d (%v)", total, err)
	}
	shipped, err := store.Count(ctx, domain.OrderFilter{Status: domain.OrderStatusShipped})
	if err != nil || shipped != 0 {
		t.Fatalf("expected 0 shipped, got %d (%v)", shipped, err)
	}
}

func TestOrderStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOrderStore()
	order := newOrder("LWG-CPY001")
	id, err := store.Create(ctx, order)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	order.Items[0].Title = "mutated"
	order.Customer.PaymentDetails["txn"] = "mutated"

	stored, err := store.FindOne(ctx, domain.OrderFilter{ID: id})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if stored.Items[0].Title != "Mug" || stored.Customer.PaymentDetails["txn"] != "OM-1" {
		t.Fatalf("stored document was mutated through caller's copy: %+v", stored)
	}
}

func TestOrderStore_ConcurrentCreateSameReference(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOrderStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Create(ctx, newOrder("LWG-RACE01")); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one document, got %d", created)
	}
}

func TestTimelineRepository_AppendList(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTimelineRepository()
	now := time.Now().UTC()

	events := []domain.TimelineEvent{
		{Reference: "LWG-TL0001", Type: domain.TimelineNotification, Channel: "admin_email", Outcome: "sent", Occurred: now.Add(time.Second)},
		{Reference: "LWG-TL0001", Type: domain.TimelineOrderCreated, Occurred: now},
		{Reference: "LWG-OTHER1", Type: domain.TimelineOrderCreated, Occurred: now},
	}
	for _, e := range events {
		if err := repo.Append(ctx, e); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	list, err := repo.List(ctx, "lwg-tl0001")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 events, got %d", len(list))
	}
	if list[0].Type != domain.TimelineOrderCreated {
		t.Fatalf("events must be chronological, got %s first", list[0].Type)
	}
}
