package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/schemactl/schemactl/internal/backup"
	"github.com/schemactl/schemactl/internal/config"
	"github.com/schemactl/schemactl/internal/db"
	"github.com/schemactl/schemactl/internal/engine"
	"github.com/schemactl/schemactl/internal/lock"
	"github.com/schemactl/schemactl/internal/logger"
	"github.com/schemactl/schemactl/internal/source"
	"github.com/schemactl/schemactl/internal/state"
	"github.com/schemactl/schemactl/internal/validate"
	"github.com/schemactl/schemactl/internal/verify"
	"github.com/schemactl/schemactl/internal/version"
)

const (
	exitOK   = 0
	exitFail = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" || os.Args[1] == "help" {
		usage()
		return exitOK
	}
	cmd := os.Args[1]

	global := flag.NewFlagSet("global", flag.ContinueOnError)
	dsn := global.String("dsn", "", "Database DSN (or SCHEMACTL_DSN)")
	provider := global.String("provider", "", "Database provider: mysql | postgres (or SCHEMACTL_PROVIDER)")
	dir := global.String("dir", "", "Migration scripts directory (or SCHEMACTL_DIR)")
	changelog := global.String("changelog", "", "YAML changelog file; overrides --dir (or SCHEMACTL_CHANGELOG)")
	conf := global.String("config", "", "Optional YAML config path")
	table := global.String("table", "", "State table name (default schema_migrations)")
	jsonOut := global.Bool("json", false, "JSON output")
	dryRun := global.Bool("dry-run", false, "Plan only; do not execute")
	lockTimeout := global.Int("lock-timeout", 0, "Advisory lock timeout seconds (default 30)")
	backupDir := global.String("backup-dir", "", "Snapshot directory (default ./backups)")
	appliedBy := global.String("applied-by", "", "Override applied_by value")
	disabledRules := global.String("disable-rules", "", "Comma-separated validation rules to skip")
	skipVerify := global.Bool("skip-verify", false, "Skip post-run schema verification")
	yes := global.Bool("yes", false, "Confirm rollback without prompting")

	argStart := 2
	switch cmd {
	case "apply", "status", "validate":
	case "rollback":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "rollback requires a target version, e.g. rollback 1.2-001")
			return exitFail
		}
		argStart = 3
	case "create":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "create requires <version-id> <name>, e.g. create 1.3-001 add_orders")
			return exitFail
		}
		argStart = 4
	default:
		usage()
		return exitFail
	}
	if err := global.Parse(os.Args[argStart:]); err != nil {
		return exitFail
	}

	cfg, err := config.LoadYAML(*conf)
	if err != nil && *conf != "" {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitFail
	}
	cfg = config.MergeEnv(cfg)
	if *dsn != "" {
		cfg.DSN = *dsn
	}
	if *provider != "" {
		cfg.Provider = *provider
	}
	if *dir != "" {
		cfg.Dir = *dir
	}
	if *changelog != "" {
		cfg.Changelog = *changelog
	}
	if *table != "" {
		cfg.StateTable = *table
	}
	if *lockTimeout > 0 {
		cfg.LockTimeoutSec = *lockTimeout
	}
	if *backupDir != "" {
		cfg.BackupDir = *backupDir
	}
	if *appliedBy != "" {
		cfg.AppliedBy = *appliedBy
	}
	if *disabledRules != "" {
		cfg.DisabledRules = splitRules(*disabledRules)
	}
	if *jsonOut {
		cfg.JSON = true
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if *skipVerify {
		cfg.SkipVerify = true
	}
	if cfg.AppliedBy == "" {
		cfg.AppliedBy = defaultAppliedBy()
	}

	log := logger.New(cfg.JSON)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "create":
		id, name := os.Args[2], os.Args[3]
		if err := createPair(cfg.Dir, id, name); err != nil {
			log.Error("create failed", map[string]any{"error": err.Error()})
			return exitFail
		}
		log.Info("created migration pair", map[string]any{"dir": cfg.Dir, "id": id, "name": name})
		return exitOK
	case "validate":
		return runValidate(ctx, cfg, log)
	}

	if cfg.DSN == "" {
		fmt.Fprintln(os.Stderr, "--dsn or SCHEMACTL_DSN is required")
		return exitFail
	}
	database, dialect, err := db.Open(cfg.Provider, cfg.DSN)
	if err != nil {
		log.Error("db open failed", map[string]any{"error": err.Error()})
		return exitFail
	}
	defer database.Close()

	tracker := &state.SQLTracker{DB: database, Dialect: dialect, Table: cfg.StateTable}
	if err := tracker.Ensure(ctx); err != nil {
		log.Error("ensure state table failed", map[string]any{"error": err.Error()})
		return exitFail
	}

	switch cmd {
	case "status":
		return runStatus(ctx, cfg, log, tracker)
	case "apply", "rollback":
		dbName := db.DatabaseName(cfg.Provider, cfg.DSN)
		eng := &engine.Engine{
			Source:     buildSource(cfg),
			Validator:  validate.New(cfg.DisabledRules),
			Tracker:    tracker,
			Backup:     backup.NewDumper(cfg.BackupDir, cfg.Provider, cfg.DSN),
			Verifier:   &verify.SchemaVerifier{DB: database, Dialect: dialect},
			Executor:   &engine.SQLExecutor{DB: database},
			Locker:     &advisoryLocker{adv: lock.New(dialect, lock.KeyFor(dbName, cfg.StateTable)), db: database, timeout: cfg.LockTimeout()},
			Log:        log,
			TargetID:   dbName,
			AppliedBy:  cfg.AppliedBy,
			SkipVerify: cfg.SkipVerify,
		}
		if cmd == "apply" {
			return runApply(ctx, cfg, log, eng)
		}
		return runRollback(ctx, cfg, log, eng, os.Args[2], *yes)
	}
	return exitOK
}

// advisoryLocker adapts the connection-scoped advisory lock to the
// engine's Locker.
type advisoryLocker struct {
	adv     *lock.Advisory
	db      *sql.DB
	timeout time.Duration
}

func (l *advisoryLocker) Acquire(ctx context.Context) error {
	return l.adv.Acquire(ctx, l.db, l.timeout)
}

func (l *advisoryLocker) Release(ctx context.Context) error {
	return l.adv.Release(ctx)
}

func buildSource(cfg *config.Config) source.Source {
	if cfg.Changelog != "" {
		return source.ChangesetSource{Path: cfg.Changelog}
	}
	return source.ScriptSource{RootDir: cfg.Dir}
}

func runApply(ctx context.Context, cfg *config.Config, log *logger.Logger, eng *engine.Engine) int {
	res, err := eng.Apply(ctx, engine.ApplyOptions{DryRun: cfg.DryRun})
	if err != nil {
		return reportRunError(log, "apply", err)
	}
	if cfg.DryRun {
		for _, id := range res.Plan {
			log.Info("would apply", map[string]any{"unit": id.String()})
		}
		log.Info("dry run complete", map[string]any{"pending": len(res.Plan)})
		return exitOK
	}
	fields := map[string]any{"applied": len(res.Applied), "warnings": len(res.Warnings)}
	if res.Backup != nil {
		fields["backup"] = res.Backup.Path
	}
	log.Info("apply complete", fields)
	return exitOK
}

func runRollback(ctx context.Context, cfg *config.Config, log *logger.Logger, eng *engine.Engine, targetArg string, confirmed bool) int {
	target, err := version.ParseID(targetArg)
	if err != nil {
		log.Error("invalid rollback target", map[string]any{"target": targetArg, "error": err.Error()})
		return exitFail
	}
	res, err := eng.Rollback(ctx, target, engine.RollbackOptions{Confirmed: confirmed, DryRun: cfg.DryRun})
	if err != nil {
		if errors.Is(err, engine.ErrConfirmationRequired) {
			fmt.Fprintln(os.Stderr, "rollback is destructive; re-run with --yes to confirm")
			return exitFail
		}
		return reportRunError(log, "rollback", err)
	}
	if cfg.DryRun {
		for _, id := range res.Plan {
			log.Info("would revert", map[string]any{"unit": id.String()})
		}
		log.Info("dry run complete", map[string]any{"to_revert": len(res.Plan)})
		return exitOK
	}
	fields := map[string]any{"reverted": len(res.RolledBack), "target": target.String()}
	if res.Backup != nil {
		fields["backup"] = res.Backup.Path
	}
	log.Info("rollback complete", fields)
	return exitOK
}

func reportRunError(log *logger.Logger, op string, err error) int {
	fields := map[string]any{"error": err.Error()}
	switch {
	case errors.Is(err, lock.ErrContention):
		log.Error(op+" blocked: another run holds the lock", fields)
	case errors.Is(err, state.ErrDrift):
		log.Error(op+" blocked: applied unit content drifted", fields)
	case errors.Is(err, engine.ErrValidation):
		log.Error(op+" blocked: validation failed", fields)
	case errors.Is(err, engine.ErrBackupRequired):
		log.Error(op+" blocked: snapshot could not be taken", fields)
	case errors.Is(err, engine.ErrNotRevertible):
		log.Error(op+" refused: a selected unit has no down script", fields)
	case errors.Is(err, context.Canceled):
		log.Warn(op+" cancelled; completed units stay applied", fields)
	default:
		log.Error(op+" failed", fields)
	}
	return exitFail
}

func runValidate(ctx context.Context, cfg *config.Config, log *logger.Logger) int {
	units, err := buildSource(cfg).Load(ctx)
	if err != nil {
		log.Error("discovery failed", map[string]any{"error": err.Error()})
		return exitFail
	}
	v := validate.New(cfg.DisabledRules)
	var issues []validate.Issue
	for _, u := range units {
		issues = append(issues, v.Validate(u)...)
	}
	if cfg.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(issues)
	} else {
		for _, is := range issues {
			fmt.Printf("%-7s %-12s %-28s %s\n", is.Severity, is.UnitID, is.Rule, is.Message)
		}
		fmt.Printf("%d unit(s), %d issue(s)\n", len(units), len(issues))
	}
	if validate.HasError(issues) {
		return exitFail
	}
	return exitOK
}

func runStatus(ctx context.Context, cfg *config.Config, log *logger.Logger, tracker state.Tracker) int {
	units, err := buildSource(cfg).Load(ctx)
	if err != nil {
		log.Error("discovery failed", map[string]any{"error": err.Error()})
		return exitFail
	}
	st, err := tracker.Load(ctx)
	if err != nil {
		log.Error("state load failed", map[string]any{"error": err.Error()})
		return exitFail
	}

	type row struct {
		ID          string `json:"id"`
		Description string `json:"description"`
		Status      string `json:"status"`
		AppliedAt   string `json:"applied_at,omitempty"`
		AppliedBy   string `json:"applied_by,omitempty"`
		DurationMS  int64  `json:"duration_ms,omitempty"`
	}
	var rows []row
	pending := 0
	for _, u := range units {
		r := row{ID: u.ID.String(), Description: u.Description, Status: "pending"}
		if rec, ok := st.Lookup(u.ID); ok {
			r.Status = string(rec.Outcome)
			r.AppliedAt = rec.AppliedAt.UTC().Format(time.RFC3339)
			r.AppliedBy = rec.AppliedBy
			r.DurationMS = rec.DurationMS
		}
		if r.Status != string(state.OutcomeSuccess) {
			pending++
		}
		rows = append(rows, r)
	}

	current := ""
	if st.Current != nil {
		current = st.Current.String()
	}
	if cfg.JSON {
		out := struct {
			Current string `json:"current"`
			Pending int    `json:"pending"`
			Units   []row  `json:"units"`
		}{Current: current, Pending: pending, Units: rows}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return exitOK
	}
	for _, r := range rows {
		fmt.Printf("%-10s %-32s %-8s %s\n", r.ID, r.Description, r.Status, r.AppliedAt)
	}
	fmt.Printf("current: %s, pending: %d\n", orDash(current), pending)
	return exitOK
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func createPair(dir, idArg, name string) error {
	id, err := version.ParseID(idArg)
	if err != nil {
		return err
	}
	if id.Sequence == "" {
		return fmt.Errorf("create needs a sequenced id like 1.3-001, got %q", idArg)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	base := fmt.Sprintf("%s_%s", id.String(), sanitize(name))
	up := filepath.Join(dir, base+".up.sql")
	down := filepath.Join(dir, base+".down.sql")
	if err := os.WriteFile(up, []byte("-- forward migration\n"), 0o644); err != nil {
		return err
	}
	return os.WriteFile(down, []byte("-- reverse migration\n"), 0o644)
}

func sanitize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ReplaceAll(s, "-", "_")
}

func defaultAppliedBy() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	host, err := os.Hostname()
	if err != nil {
		return "schemactl"
	}
	return host
}

func splitRules(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func usage() {
	fmt.Println(`schemactl - versioned schema migration runner

USAGE:
  schemactl <command> [args] [--flags]

COMMANDS:
  apply                      Validate and apply all pending units
  rollback <target>          Revert applied units above <target> (e.g. 1.2-001 or 1.2)
  status                     Show applied/pending state
  validate                   Run validation rules only; exit 1 on any ERROR
  create <id> <name>         Scaffold <id>_<name>.{up,down}.sql (id like 1.3-001)

GLOBAL FLAGS:
  --dsn <dsn>                Database DSN (or SCHEMACTL_DSN)
  --provider <name>          mysql (default) or postgres
  --dir <path>               Migration scripts directory (default ./migrations)
  --changelog <path>         YAML changelog file; overrides --dir
  --config <path>            Optional YAML config path
  --table <name>             State table (default schema_migrations)
  --json                     JSON output
  --dry-run                  Plan only; don't execute SQL
  --lock-timeout <sec>       Advisory lock timeout (default 30)
  --backup-dir <path>        Snapshot directory (default ./backups)
  --applied-by <name>        Override applied_by
  --disable-rules <a,b>      Validation rules to skip
  --skip-verify              Skip post-run schema verification
  --yes                      Confirm rollback

EXAMPLES:
  schemactl apply --dsn "$DSN" --dir ./migrations
  schemactl rollback 1.2 --dsn "$DSN" --yes
  schemactl status --dsn "$DSN" --json
  schemactl validate --changelog ./changelog.yaml
  schemactl create 1.3-001 add_orders --dir ./migrations`)
}
