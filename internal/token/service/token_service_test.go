package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"access-core/internal/apperr"
	refreshdomain "access-core/internal/refreshtoken/domain"
	refreshrepo "access-core/internal/refreshtoken/repository"
	"access-core/internal/security"
)

func newTestService(t *testing.T, cfg Config) (*Service, *refreshrepo.MemoryRepository, *security.FixedClock) {
	t.Helper()
	clock := security.NewFixedClock(time.Unix(1_700_000_000, 0).UTC())
	tokens, err := security.NewTestHMACTokenProvider(security.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTestHMACTokenProvider: %v", err)
	}
	store := refreshrepo.NewMemoryRepository()
	return NewService(tokens, store, cfg, WithClock(clock.Now)), store, clock
}

func TestService_IssuePairAndVerify(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newTestService(t, Config{AccessTTL: 15 * time.Minute, RefreshTTL: time.Hour})

	pair, err := svc.IssuePair(ctx, "u1", "laptop")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if !pair.AccessExpiresAt.Equal(clock.Now().Add(15 * time.Minute)) {
		t.Errorf("AccessExpiresAt = %v", pair.AccessExpiresAt)
	}
	if sub, err := svc.Verify(ctx, pair.AccessToken, security.TokenTypeAccess); err != nil || sub != "u1" {
		t.Fatalf("Verify access = %q, %v", sub, err)
	}
	if sub, err := svc.Verify(ctx, pair.RefreshToken, security.TokenTypeRefresh); err != nil || sub != "u1" {
		t.Fatalf("Verify refresh = %q, %v", sub, err)
	}
	// A refresh value is not an access token and vice versa.
	if _, err := svc.Verify(ctx, pair.RefreshToken, security.TokenTypeAccess); !errors.Is(err, apperr.ErrInvalidToken) {
		t.Errorf("refresh as access: want ErrInvalidToken, got %v", err)
	}
	if _, err := svc.Verify(ctx, pair.AccessToken, security.TokenTypeRefresh); !errors.Is(err, apperr.ErrTokenNotFound) {
		t.Errorf("access as refresh: want ErrTokenNotFound, got %v", err)
	}

	rec, _ := store.FindByHash(ctx, security.HashRefreshToken(pair.RefreshToken))
	if rec == nil {
		t.Fatal("refresh record not stored")
	}
	if rec.TokenHash == pair.RefreshToken {
		t.Fatal("raw refresh value must not be stored")
	}
	if rec.Device != "laptop" || rec.ParentID != "" || !rec.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestService_RotateLineage(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t, Config{})

	first, err := svc.IssuePair(ctx, "u1", "")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	second, err := svc.Rotate(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("rotation must produce a new refresh value")
	}
	if sub, err := svc.Verify(ctx, second.AccessToken, security.TokenTypeAccess); err != nil || sub != "u1" {
		t.Fatalf("new access token: %q, %v", sub, err)
	}

	rec, _ := store.FindByHash(ctx, security.HashRefreshToken(second.RefreshToken))
	if rec.ParentID != first.RefreshID {
		t.Errorf("ParentID = %q, want %q", rec.ParentID, first.RefreshID)
	}

	// The old value is dead for good, before its natural expiry.
	if _, err := svc.Verify(ctx, first.RefreshToken, security.TokenTypeRefresh); !errors.Is(err, apperr.ErrTokenRevoked) {
		t.Errorf("Verify old refresh: want ErrTokenRevoked, got %v", err)
	}
	_, err = svc.Rotate(ctx, first.RefreshToken)
	if !errors.Is(err, apperr.ErrTokenRevoked) {
		t.Errorf("Rotate old refresh: want ErrTokenRevoked, got %v", err)
	}
	if got := apperr.SubjectOf(err); got != "u1" {
		t.Errorf("SubjectOf replay = %q, want u1", got)
	}
	if err.Error() != apperr.ErrInvalidToken.Error() {
		t.Errorf("replay message = %q, want uniform message", err.Error())
	}
	// Without reuse detection the successor survives.
	if _, err := svc.Verify(ctx, second.RefreshToken, security.TokenTypeRefresh); err != nil {
		t.Errorf("successor should stay valid: %v", err)
	}
}

func TestService_RotateConcurrentHasOneWinner(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, Config{})
	pair, err := svc.IssuePair(ctx, "u1", "")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	const n = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		failed int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Rotate(ctx, pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, apperr.ErrInvalidToken):
				failed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()
	if wins != 1 || failed != n-1 {
		t.Fatalf("wins = %d, failed = %d; want 1 and %d", wins, failed, n-1)
	}
}

func TestService_RotateRejections(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t, Config{RefreshTTL: time.Hour})

	if _, err := svc.Rotate(ctx, ""); !errors.Is(err, apperr.ErrTokenNotFound) {
		t.Errorf("empty: want ErrTokenNotFound, got %v", err)
	}
	if _, err := svc.Rotate(ctx, "never-issued"); !errors.Is(err, apperr.ErrTokenNotFound) {
		t.Errorf("unknown: want ErrTokenNotFound, got %v", err)
	}

	pair, _ := svc.IssuePair(ctx, "u1", "")
	clock.Advance(time.Hour)
	_, err := svc.Rotate(ctx, pair.RefreshToken)
	if !errors.Is(err, apperr.ErrTokenExpired) {
		t.Errorf("expired: want ErrTokenExpired, got %v", err)
	}
	if err.Error() != apperr.ErrInvalidToken.Error() {
		t.Errorf("message = %q, want uniform message", err.Error())
	}
}

func TestService_ReuseRevokesAllWhenEnabled(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, Config{RevokeAllOnReuse: true})

	first, _ := svc.IssuePair(ctx, "u1", "")
	other, _ := svc.IssuePair(ctx, "u1", "phone")
	second, err := svc.Rotate(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if _, err := svc.Rotate(ctx, first.RefreshToken); !errors.Is(err, apperr.ErrTokenRevoked) {
		t.Fatalf("replay: want ErrTokenRevoked, got %v", err)
	}
	for name, raw := range map[string]string{"successor": second.RefreshToken, "other device": other.RefreshToken} {
		if _, err := svc.Verify(ctx, raw, security.TokenTypeRefresh); !errors.Is(err, apperr.ErrTokenRevoked) {
			t.Errorf("%s after reuse: want ErrTokenRevoked, got %v", name, err)
		}
	}
}

func TestService_RevokeAllIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, Config{})
	a, _ := svc.IssuePair(ctx, "u1", "")
	b, _ := svc.IssuePair(ctx, "u1", "")
	keep, _ := svc.IssuePair(ctx, "u2", "")

	n, err := svc.RevokeAll(ctx, "u1")
	if err != nil || n != 2 {
		t.Fatalf("RevokeAll = %d, %v; want 2, nil", n, err)
	}
	n, err = svc.RevokeAll(ctx, "u1")
	if err != nil || n != 0 {
		t.Fatalf("second RevokeAll = %d, %v; want 0, nil", n, err)
	}
	for _, raw := range []string{a.RefreshToken, b.RefreshToken} {
		if _, err := svc.Rotate(ctx, raw); !errors.Is(err, apperr.ErrInvalidToken) {
			t.Errorf("Rotate after RevokeAll: want ErrInvalidToken, got %v", err)
		}
	}
	if _, err := svc.Verify(ctx, keep.RefreshToken, security.TokenTypeRefresh); err != nil {
		t.Errorf("other subject affected: %v", err)
	}
}

type failingStore struct{ err error }

func (f failingStore) FindByHash(context.Context, string) (*refreshdomain.Record, error) {
	return nil, f.err
}
func (f failingStore) Insert(context.Context, *refreshdomain.Record) error { return f.err }
func (f failingStore) Revoke(context.Context, string, time.Time) (bool, error) {
	return false, f.err
}
func (f failingStore) RevokeAllForSubject(context.Context, string, time.Time) (int64, error) {
	return 0, f.err
}

func TestService_StoreFailureIsBackendUnavailable(t *testing.T) {
	ctx := context.Background()
	tokens, _ := security.NewTestHMACTokenProvider()
	svc := NewService(tokens, failingStore{err: errors.New("connection reset")}, Config{})

	if _, err := svc.IssuePair(ctx, "u1", ""); !errors.Is(err, apperr.ErrBackendUnavailable) {
		t.Errorf("IssuePair: want ErrBackendUnavailable, got %v", err)
	}
	_, err := svc.Rotate(ctx, "raw")
	if !errors.Is(err, apperr.ErrBackendUnavailable) {
		t.Errorf("Rotate: want ErrBackendUnavailable, got %v", err)
	}
	if errors.Is(err, apperr.ErrInvalidToken) {
		t.Error("a store failure must not look like a token rejection")
	}
	if _, err := svc.RevokeAll(ctx, "u1"); !errors.Is(err, apperr.ErrBackendUnavailable) {
		t.Errorf("RevokeAll: want ErrBackendUnavailable, got %v", err)
	}
}

func TestService_Defaults(t *testing.T) {
	tokens, _ := security.NewTestHMACTokenProvider()
	svc := NewService(tokens, refreshrepo.NewMemoryRepository(), Config{})
	if svc.AccessTTL() != 30*time.Minute {
		t.Errorf("AccessTTL = %v, want 30m", svc.AccessTTL())
	}
	if svc.cfg.RefreshTTL != 7*24*time.Hour {
		t.Errorf("RefreshTTL = %v, want 168h", svc.cfg.RefreshTTL)
	}
}
