package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"payments-onboarding/internal/onboarding"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "sqlmock")), mock
}

func TestGetStep_ReturnsZeroProgressWhenAbsent(t *testing.T) {
	s, mock := newMockStore(t)

	query := regexp.QuoteMeta(`
		SELECT location, step_id, statuses, data, last_error
		FROM onboarding_steps
		WHERE location = $1 AND step_id = $2`)
	mock.ExpectQuery(query).
		WithArgs("US", "payment_methods").
		WillReturnRows(sqlmock.NewRows([]string{"location", "step_id", "statuses", "data", "last_error"}))

	progress, err := s.GetStep(context.Background(), "US", onboarding.StepPaymentMethods)
	if err != nil {
		t.Fatalf("GetStep returned error: %v", err)
	}
	if len(progress.Statuses) != 0 || len(progress.Data) != 0 || progress.Error != nil {
		t.Errorf("expected zero progress, got %+v", progress)
	}

	if mockErr := mock.ExpectationsWereMet(); mockErr != nil {
		t.Fatalf("unmet sqlmock expectations: %v", mockErr)
	}
}

func TestGetStep_ScansJSONBColumns(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"location", "step_id", "statuses", "data", "last_error"}).
		AddRow("US", "business_verification",
			[]byte(`{"started": 1700000000, "failed": 1700000100}`),
			[]byte(`{"self_assessment": {"mcc": "5734"}}`),
			[]byte(`{"code": "remote_request_failed", "message": "boom"}`))
	mock.ExpectQuery("SELECT location, step_id, statuses, data, last_error").
		WithArgs("US", "business_verification").
		WillReturnRows(rows)

	progress, err := s.GetStep(context.Background(), "US", onboarding.StepBusinessVerification)
	if err != nil {
		t.Fatalf("GetStep returned error: %v", err)
	}
	if ts := progress.Statuses[onboarding.StatusStarted]; ts != 1700000000 {
		t.Errorf("unexpected started timestamp: %d", ts)
	}
	if progress.Error == nil || progress.Error.Code != "remote_request_failed" {
		t.Errorf("unexpected error detail: %+v", progress.Error)
	}
	if _, ok := progress.Data["self_assessment"]; !ok {
		t.Errorf("expected self_assessment in data, got %v", progress.Data)
	}

	if mockErr := mock.ExpectationsWereMet(); mockErr != nil {
		t.Fatalf("unmet sqlmock expectations: %v", mockErr)
	}
}

func TestUpdateStep_InsertsUnderRowLockedTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT location, step_id, statuses, data, last_error").
		WithArgs("US", "payment_methods").
		WillReturnRows(sqlmock.NewRows([]string{"location", "step_id", "statuses", "data", "last_error"}))
	mock.ExpectExec("INSERT INTO onboarding_steps").
		WithArgs("US", "payment_methods", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.UpdateStep(context.Background(), "US", onboarding.StepPaymentMethods, func(p *onboarding.StepProgress) error {
		p.Statuses = map[onboarding.Status]int64{onboarding.StatusStarted: 1700000000}
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateStep returned error: %v", err)
	}

	if mockErr := mock.ExpectationsWereMet(); mockErr != nil {
		t.Fatalf("unmet sqlmock expectations: %v", mockErr)
	}
}

func TestUpdateStep_MutateErrorRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT location, step_id, statuses, data, last_error").
		WithArgs("US", "payment_methods").
		WillReturnRows(sqlmock.NewRows([]string{"location", "step_id", "statuses", "data", "last_error"}))
	mock.ExpectRollback()

	wantErr := errors.New("mutate failed")
	err := s.UpdateStep(context.Background(), "US", onboarding.StepPaymentMethods, func(p *onboarding.StepProgress) error {
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected mutate error back, got %v", err)
	}

	if mockErr := mock.ExpectationsWereMet(); mockErr != nil {
		t.Fatalf("unmet sqlmock expectations: %v", mockErr)
	}
}

func TestAcquire_ReturnsLeaseHeldWhenLive(t *testing.T) {
	s, mock := newMockStore(t)

	// ON CONFLICT ... WHERE expired yields no row while a live lease exists.
	mock.ExpectQuery("INSERT INTO onboarding_lease").
		WithArgs(sqlmock.AnyArg(), int64(90)).
		WillReturnRows(sqlmock.NewRows([]string{"token"}))

	_, err := s.Acquire(context.Background())
	if err != onboarding.ErrLeaseHeld {
		t.Fatalf("expected ErrLeaseHeld, got %v", err)
	}

	if mockErr := mock.ExpectationsWereMet(); mockErr != nil {
		t.Fatalf("unmet sqlmock expectations: %v", mockErr)
	}
}

func TestAcquire_ReturnsTokenWhenFree(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO onboarding_lease").
		WithArgs(sqlmock.AnyArg(), int64(90)).
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow("lease-token-1"))

	token, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if token != "lease-token-1" {
		t.Errorf("unexpected token: %s", token)
	}

	if mockErr := mock.ExpectationsWereMet(); mockErr != nil {
		t.Fatalf("unmet sqlmock expectations: %v", mockErr)
	}
}

func TestIsLocked_NoLeaseRowMeansUnlocked(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT expires_at >").
		WillReturnRows(sqlmock.NewRows([]string{"locked"}))

	locked, err := s.IsLocked(context.Background())
	if err != nil {
		t.Fatalf("IsLocked returned error: %v", err)
	}
	if locked {
		t.Error("expected unlocked with no lease row")
	}

	if mockErr := mock.ExpectationsWereMet(); mockErr != nil {
		t.Fatalf("unmet sqlmock expectations: %v", mockErr)
	}
}

func TestTestMode_DefaultsFalseWhenUnset(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT \\(value\\)::boolean FROM onboarding_options").
		WithArgs(testModeOption).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	enabled, err := s.TestMode(context.Background())
	if err != nil {
		t.Fatalf("TestMode returned error: %v", err)
	}
	if enabled {
		t.Error("expected test mode to default to false")
	}

	if mockErr := mock.ExpectationsWereMet(); mockErr != nil {
		t.Fatalf("unmet sqlmock expectations: %v", mockErr)
	}
}
