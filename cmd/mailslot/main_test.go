package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zulandar/mailslot/internal/config"
	discordadapter "github.com/zulandar/mailslot/internal/relay/discord"
	slackadapter "github.com/zulandar/mailslot/internal/relay/slack"
	telegramadapter "github.com/zulandar/mailslot/internal/relay/telegram"
	"github.com/zulandar/mailslot/internal/store"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeConfig writes a sqlite-backed config into a temp dir and returns its path.
func writeConfig(t *testing.T, storage string) string {
	t.Helper()
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("CHANNEL_ID", "")
	dir := t.TempDir()
	if storage == "" {
		storage = "storage:\n  driver: sqlite\n  path: " + filepath.Join(dir, "mailslot.db") + "\n"
	}
	yaml := "channel: \"@gossip\"\ntelegram:\n  token: tg-token\n" + storage
	path := filepath.Join(dir, "mailslot.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "mailslot dev") {
		t.Errorf("expected output to contain 'mailslot dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	for _, want := range []string{"mailslot 1.0.0", "commit: abc123", "built: 2026-01-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}
}

func TestRootCmdHelp(t *testing.T) {
	out, err := runCmd(t, "--help")
	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	for _, sub := range []string{"start", "db", "stats", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing %q subcommand", sub)
		}
	}
}

func TestExecute_ReturnsExitCode(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"no-such-command"})
	if code := execute(cmd); code != 1 {
		t.Errorf("execute = %d, want 1", code)
	}
}

func TestLoadConfig_FallsBackToEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("CHANNEL_ID", "@env_channel")

	cmd := &cobra.Command{}
	var path string
	addConfigFlag(cmd, &path)
	cfg, err := loadConfig(cmd, path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Channel != "@env_channel" || cfg.Telegram.Token != "env-token" {
		t.Errorf("cfg = %+v, want values from environment", cfg)
	}
}

func TestLoadConfig_ExplicitMissingFile(t *testing.T) {
	cmd := &cobra.Command{}
	var path string
	addConfigFlag(cmd, &path)
	cmd.Flags().Set("config", "/nonexistent/mailslot.yaml")
	if _, err := loadConfig(cmd, path); err == nil {
		t.Error("expected error for explicit missing config file")
	}
}

func TestCreateAdapter(t *testing.T) {
	logger := zerolog.Nop()
	tests := []struct {
		name  string
		cfg   config.Config
		check func(any) bool
	}{
		{"telegram", config.Config{Platform: config.PlatformTelegram, Telegram: config.TelegramConfig{Token: "t"}},
			func(a any) bool { _, ok := a.(*telegramadapter.Adapter); return ok }},
		{"discord", config.Config{Platform: config.PlatformDiscord, Discord: config.DiscordConfig{BotToken: "d"}},
			func(a any) bool { _, ok := a.(*discordadapter.Adapter); return ok }},
		{"slack", config.Config{Platform: config.PlatformSlack, Slack: config.SlackConfig{AppToken: "xapp", BotToken: "xoxb"}},
			func(a any) bool { _, ok := a.(*slackadapter.Adapter); return ok }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := createAdapter(&tt.cfg, &logger)
			if err != nil {
				t.Fatalf("createAdapter: %v", err)
			}
			if !tt.check(a) {
				t.Errorf("createAdapter returned %T", a)
			}
		})
	}

	if _, err := createAdapter(&config.Config{Platform: "irc"}, &logger); err == nil {
		t.Error("expected error for unknown platform")
	}
}

func TestOpenBackend_SQLite(t *testing.T) {
	be, err := openBackend(config.StorageConfig{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "m.db")})
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	defer be.close()

	ctx := context.Background()
	n, err := be.store.NextMessageNumber(ctx)
	if err != nil || n != 1 {
		t.Errorf("NextMessageNumber = %d, %v; want 1", n, err)
	}
	if _, err := be.sessions.State(ctx, "u1"); err != nil {
		t.Errorf("sessions.State: %v", err)
	}
}

func TestOpenBackend_File(t *testing.T) {
	dir := t.TempDir()
	be, err := openBackend(config.StorageConfig{Driver: config.DriverFile, Dir: dir})
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	defer be.close()
	if err := be.store.SetNickname(context.Background(), "u1", "neo"); err != nil {
		t.Fatalf("SetNickname: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, store.UsersFileName)); err != nil {
		t.Errorf("user_data.json not written: %v", err)
	}
}

func TestDBMigrateCmd(t *testing.T) {
	path := writeConfig(t, "")
	out, err := runCmd(t, "db", "migrate", "-c", path)
	if err != nil {
		t.Fatalf("db migrate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Migrated 3 tables") {
		t.Errorf("output = %q", out)
	}
}

func TestDBMigrateCmd_FileDriver(t *testing.T) {
	path := writeConfig(t, "storage:\n  driver: file\n  dir: "+t.TempDir()+"\n")
	if _, err := runCmd(t, "db", "migrate", "-c", path); err == nil {
		t.Error("expected error for file driver")
	}
}

func TestDBImportAndStatsCmd(t *testing.T) {
	src := t.TempDir()
	users := `{"111": {"nickname": "neo", "created_at": "2024-05-01T12:30:00.123456"}, "222": {}}`
	if err := os.WriteFile(filepath.Join(src, store.UsersFileName), []byte(users), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, store.StatsFileName), []byte(`{"total_messages": 41, "total_users": 2}`), 0644); err != nil {
		t.Fatal(err)
	}

	path := writeConfig(t, "")
	out, err := runCmd(t, "db", "import", "-c", path, "--dir", src)
	if err != nil {
		t.Fatalf("db import: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Imported 2 identities") {
		t.Errorf("import output = %q", out)
	}

	out, err = runCmd(t, "stats", "-c", path)
	if err != nil {
		t.Fatalf("stats: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Total messages: 41") || !strings.Contains(out, "Total users:    2") {
		t.Errorf("stats output = %q", out)
	}
}
