package receipt

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestConcurrentAccumulation(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.AddFetched(10)
			r.AddUnchanged()
			r.AddError("scifi/x", errors.New("boom"))
		}()
	}
	wg.Wait()

	if r.Fetched != 50 || r.Unchanged != 50 || r.Failed != 50 {
		t.Errorf("counts = %d/%d/%d", r.Fetched, r.Unchanged, r.Failed)
	}
	if r.Bytes != 500 {
		t.Errorf("bytes = %d", r.Bytes)
	}
	if len(r.Errors) != 50 {
		t.Errorf("errors = %d", len(r.Errors))
	}
	if !r.HasFailures() {
		t.Error("HasFailures = false")
	}
}

func TestFinalizeStampsOnce(t *testing.T) {
	r := New()
	r.AddFetched(100)
	r.Finalize()
	if r.FinishedAt.IsZero() {
		t.Fatal("FinishedAt not stamped")
	}
	end := r.FinishedAt
	r.Finalize()
	if !r.FinishedAt.Equal(end) {
		t.Error("second Finalize moved the end time")
	}
	if r.ItemsPerSec <= 0 || r.BytesPerSec <= 0 {
		t.Errorf("rates = %f items/s, %f bytes/s", r.ItemsPerSec, r.BytesPerSec)
	}
}

func TestWrite(t *testing.T) {
	r := New()
	r.AddFetched(7)
	r.AddError("scifi/bad", errors.New("timeout"))
	r.Finalize()

	path := filepath.Join(t.TempDir(), "receipt.json")
	if err := r.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got Receipt
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Fetched != 1 || got.Bytes != 7 {
		t.Errorf("round trip = %+v", &got)
	}
	if len(got.Errors) != 1 || got.Errors[0].ID != "scifi/bad" {
		t.Errorf("errors = %+v", got.Errors)
	}
}
