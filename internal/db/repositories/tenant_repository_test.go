package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

var tenantCols = []string{"id", "name", "display_name", "created_at", "updated_at"}

func newTenantRepo(t *testing.T) (*TenantRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewTenantRepository(db), mock
}

func TestTenantGetByID_Found(t *testing.T) {
	repo, mock := newTenantRepo(t)
	mock.ExpectQuery("SELECT.*FROM tenants.*WHERE id").
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows(tenantCols).AddRow("tenant-1", "acme", "Acme Learning", time.Now(), time.Now()))

	tenant, err := repo.GetByID(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenant == nil || tenant.Name != "acme" {
		t.Fatalf("unexpected tenant: %+v", tenant)
	}
}

func TestTenantGetByID_NotFound(t *testing.T) {
	repo, mock := newTenantRepo(t)
	mock.ExpectQuery("SELECT.*FROM tenants").
		WillReturnRows(sqlmock.NewRows(tenantCols))

	tenant, err := repo.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenant != nil {
		t.Error("expected nil, got non-nil")
	}
}

func TestTenantGetByID_DBError(t *testing.T) {
	repo, mock := newTenantRepo(t)
	mock.ExpectQuery("SELECT.*FROM tenants").
		WillReturnError(errDB)

	if _, err := repo.GetByID(context.Background(), "tenant-1"); err == nil {
		t.Error("expected error, got nil")
	}
}
