package db

import (
	"testing"
)

func TestDataSourceFor(t *testing.T) {
	tests := []struct {
		url        string
		wantDriver string
		wantDSN    string
	}{
		{"sqlite://data/fk.db", DriverSQLite, "file:data/fk.db?" + sqliteParams},
		{"sqlite:///var/lib/fk.db", DriverSQLite, "file:/var/lib/fk.db?" + sqliteParams},
		{"sqlite:///tmp/fk.db?cache=shared", DriverSQLite, "file:/tmp/fk.db?cache=shared&" + sqliteParams},
		{"postgres://u:p@localhost:5432/fk?sslmode=disable", DriverPostgres, "postgres://u:p@localhost:5432/fk?sslmode=disable"},
		{"postgresql://localhost/fk", DriverPostgres, "postgresql://localhost/fk"},
	}
	for _, tt := range tests {
		driver, dsn, err := dataSourceFor(tt.url)
		if err != nil {
			t.Fatalf("dataSourceFor(%q) error = %v, want nil", tt.url, err)
		}
		if driver != tt.wantDriver || dsn != tt.wantDSN {
			t.Errorf("dataSourceFor(%q) = (%q, %q), want (%q, %q)", tt.url, driver, dsn, tt.wantDriver, tt.wantDSN)
		}
	}
}

func TestDataSourceFor_Errors(t *testing.T) {
	for _, u := range []string{"mysql://localhost/fk", "sqlite://", "::not a url"} {
		if _, _, err := dataSourceFor(u); err == nil {
			t.Errorf("dataSourceFor(%q) error = nil, want error", u)
		}
	}
}
