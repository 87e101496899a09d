package authgate

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRotationConcurrencySingleWinner(t *testing.T) {
	serviceVariants(t, testConfig(), func(t *testing.T, s TokenService) {
		pair, err := s.CreateToken(context.Background(), Claims{Subject: "alice"})
		if err != nil {
			t.Fatalf("CreateToken failed: %v", err)
		}

		const n = 16
		var wg sync.WaitGroup
		wg.Add(n)

		results := make(chan error, n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				_, err := s.UpdateToken(context.Background(), Claims{}, pair.Access, pair.Refresh)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		success := 0
		fail := 0
		for err := range results {
			if err == nil {
				success++
				continue
			}
			if errors.Is(err, ErrTokenAlreadyRotated) {
				fail++
				continue
			}
			t.Fatalf("unexpected rotation error: %v", err)
		}

		if success != 1 {
			t.Fatalf("expected exactly one rotation success, got %d", success)
		}
		if fail != n-1 {
			t.Fatalf("expected %d rotation failures, got %d", n-1, fail)
		}
	})
}

func TestConcurrentCreateKeepsIndexConsistent(t *testing.T) {
	serviceVariants(t, testConfig(), func(t *testing.T, s TokenService) {
		const n = 8
		var wg sync.WaitGroup
		wg.Add(n)

		pairs := make(chan TokenPair, n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				pair, err := s.CreateToken(context.Background(), Claims{Subject: "alice"})
				if err != nil {
					t.Errorf("CreateToken failed: %v", err)
					return
				}
				pairs <- pair
			}()
		}
		wg.Wait()
		close(pairs)

		var probe TokenPair
		count := 0
		for pair := range pairs {
			probe = pair
			count++
		}
		if count != n {
			t.Fatalf("expected %d created sessions, got %d", n, count)
		}

		ids, err := s.ActiveSessions(context.Background(), probe.Access, probe.Refresh)
		if err != nil {
			t.Fatalf("ActiveSessions failed: %v", err)
		}
		if len(ids) != n {
			t.Fatalf("expected %d indexed sessions, got %d: %v", n, len(ids), ids)
		}
	})
}
