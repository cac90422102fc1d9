package txnlog

import (
	"sync"
	"testing"
	"time"
)

func TestMemManagerCommitIsRecorded(t *testing.T) {
	m := NewMemManager()
	txn, err := m.NewTransaction([]string{"a", "b"})
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	if err := m.Commit(txn); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	ok, err := m.WasSuccessful(txn.ID)
	if err != nil || !ok {
		t.Fatalf("WasSuccessful(%d) = (%v, %v), want (true, nil)", txn.ID, ok, err)
	}
}

func TestMemManagerZeroIDAlwaysSuccessful(t *testing.T) {
	m := NewMemManager()
	ok, err := m.WasSuccessful(0)
	if err != nil || !ok {
		t.Fatalf("WasSuccessful(0) = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestMemManagerUncommittedTransactionIsNotSuccessful(t *testing.T) {
	m := NewMemManager()
	txn, err := m.NewTransaction([]string{"t"})
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	m.Unlock(txn)
	ok, err := m.WasSuccessful(txn.ID)
	if err != nil || ok {
		t.Fatalf("WasSuccessful(uncommitted) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestMemManagerSerializesOverlappingTransactions(t *testing.T) {
	m := NewMemManager()
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txn, err := m.NewTransaction([]string{"shared"})
			if err != nil {
				t.Errorf("NewTransaction: %v", err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			if err := m.Commit(txn); err != nil {
				t.Errorf("Commit: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if len(order) != 5 {
		t.Fatalf("observed %d transactions serialized, want 5", len(order))
	}
}
