package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/mailslot/internal/config"
	"github.com/zulandar/mailslot/internal/models"
)

func TestMySQLDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MySQLConfig
		want []string
	}{
		{
			name: "default local",
			cfg:  config.MySQLConfig{Host: "127.0.0.1", Port: 3306, User: "root", Database: "mailslot"},
			want: []string{"root@tcp(127.0.0.1:3306)/mailslot?", "parseTime=true"},
		},
		{
			name: "with password",
			cfg:  config.MySQLConfig{Host: "10.0.0.5", Port: 3307, User: "relay", Password: "s3cret", Database: "prod"},
			want: []string{"relay:s3cret@tcp(10.0.0.5:3307)/prod?", "parseTime=true"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MySQLDSN(tt.cfg)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("MySQLDSN() = %q, want to contain %q", got, w)
				}
			}
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	if got := SQLiteDSN("mailslot.db"); got != "mailslot.db?_busy_timeout=5000" {
		t.Errorf("SQLiteDSN() = %q", got)
	}
	if got := SQLiteDSN("file:x.db?cache=shared"); got != "file:x.db?cache=shared&_busy_timeout=5000" {
		t.Errorf("SQLiteDSN() = %q", got)
	}
}

func TestOpen_FileDriverRejected(t *testing.T) {
	_, err := Open(config.StorageConfig{Driver: config.DriverFile})
	if err == nil {
		t.Fatal("expected error for file driver")
	}
	if !strings.Contains(err.Error(), "not a SQL driver") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "not a SQL driver")
	}
}

func TestConnectMySQL_Error(t *testing.T) {
	// Port 1 is unlikely to have a MySQL server; expect connection error.
	_, err := ConnectMySQL(config.MySQLConfig{Host: "127.0.0.1", Port: 1, User: "root", Database: "nonexistent"})
	if err == nil {
		t.Fatal("expected error connecting to invalid port")
	}
	if !strings.Contains(err.Error(), "db: connect to") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db: connect to")
	}
}

func TestAllModels_Count(t *testing.T) {
	if got := len(AllModels()); got != 3 {
		t.Errorf("AllModels() returned %d models, want 3", got)
	}
}

func TestAutoMigrate_SeedsCounterOnce(t *testing.T) {
	gdb, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer Close(gdb)

	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	gdb.Model(&models.Counter{}).Where("id = ?", models.CounterRowID).Update("total_messages", 41)

	// A second migration must not reset existing counters.
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("second AutoMigrate: %v", err)
	}

	var rows []models.Counter
	if err := gdb.Find(&rows).Error; err != nil {
		t.Fatalf("find counters: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("counter rows = %d, want 1", len(rows))
	}
	if rows[0].TotalMessages != 41 {
		t.Errorf("TotalMessages = %d, want 41", rows[0].TotalMessages)
	}
}
