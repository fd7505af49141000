package health

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticChecker struct {
	name string
	err  error
}

func (c staticChecker) Name() string                  { return c.name }
func (c staticChecker) Check(ctx context.Context) error { return c.err }

type fakeBreaker struct {
	open, halfOpen bool
}

func (b fakeBreaker) Name() string     { return "delivery" }
func (b fakeBreaker) IsOpen() bool     { return b.open }
func (b fakeBreaker) IsHalfOpen() bool { return b.halfOpen }

func TestCheckerRegistry_Check(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{
			name:     "all healthy",
			checkers: []Checker{staticChecker{name: "a"}, NewCircuitBreakerChecker(fakeBreaker{})},
			want:     StatusHealthy,
		},
		{
			name:     "open breaker degrades",
			checkers: []Checker{staticChecker{name: "a"}, NewCircuitBreakerChecker(fakeBreaker{open: true})},
			want:     StatusDegraded,
		},
		{
			name: "failure wins over degraded",
			checkers: []Checker{
				staticChecker{name: "a", err: errors.New("down")},
				NewCircuitBreakerChecker(fakeBreaker{halfOpen: true}),
			},
			want: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry()
			for _, c := range tt.checkers {
				r.Register(c)
			}
			h := r.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Checks, len(tt.checkers))
		})
	}
}

func TestPostgreSQLChecker(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	checker := NewPostgreSQLChecker(db)
	assert.NoError(t, checker.Check(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.Error(t, checker.Check(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
