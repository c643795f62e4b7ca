// Package preflight runs the primary-readiness checks against the
// primary's session before any stage starts: grants, replication-related
// global variables, read-only access, a throwaway binlog probe, and the
// presence of every configured table.
package preflight

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/siddontang/loggers"
)

// Resources bundles everything a check needs: the primary connection and
// the configuration the engine was started with.
type Resources struct {
	DB       *sql.DB
	Schema   string
	Tables   []string
	Host     string
	Port     uint16
	User     string
	Password string
	ServerID uint32
}

var requiredGrants = []string{"REPLICATION SLAVE"}

var allowedOptionalGrants = []string{"REPLICATION CLIENT", "BINLOG MONITOR"}

var forbiddenGrants = []string{
	"SUPER", "ALL PRIVILEGES",
	"INSERT", "UPDATE", "DELETE",
	"DROP", "ALTER", "CREATE", "TRUNCATE",
}

type checkFunc func(ctx context.Context, r Resources, log loggers.Advanced) error

// Run executes every check in order and returns the first failure. Any
// failure here is fatal before any stage is entered.
func Run(ctx context.Context, r Resources, log loggers.Advanced) error {
	checks := []checkFunc{
		grantsCheck,
		variablesCheck,
		readonlyCheck,
		binlogProbeCheck,
		tablesCheck,
	}
	for _, check := range checks {
		if err := check(ctx, r, log); err != nil {
			return err
		}
	}
	return nil
}

func grantsCheck(ctx context.Context, r Resources, log loggers.Advanced) error {
	rows, err := r.DB.QueryContext(ctx, "SHOW GRANTS FOR CURRENT_USER")
	if err != nil {
		return fmt.Errorf("preflight: SHOW GRANTS: %w", err)
	}
	defer rows.Close()

	var grants []string
	for rows.Next() {
		var grant string
		if err := rows.Scan(&grant); err != nil {
			return fmt.Errorf("preflight: SHOW GRANTS: %w", err)
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("preflight: SHOW GRANTS: %w", err)
	}

	joined := strings.ToUpper(strings.Join(grants, " "))

	var missing []string
	for _, g := range requiredGrants {
		if !strings.Contains(joined, g) {
			missing = append(missing, g)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("preflight: missing required privileges: %s", strings.Join(missing, ", "))
	}

	hasOptional := false
	for _, g := range allowedOptionalGrants {
		if strings.Contains(joined, g) {
			hasOptional = true
			break
		}
	}
	if !hasOptional {
		return fmt.Errorf("preflight: missing one of required privileges: %s", strings.Join(allowedOptionalGrants, ", "))
	}

	var forbidden []string
	for _, g := range forbiddenGrants {
		if strings.Contains(joined, g) {
			forbidden = append(forbidden, g)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("preflight: forbidden privileges detected: %s", strings.Join(forbidden, ", "))
	}
	log.Infof("preflight: grants ok")
	return nil
}

func variablesCheck(ctx context.Context, r Resources, log loggers.Advanced) error {
	rows, err := r.DB.QueryContext(ctx, "SHOW GLOBAL VARIABLES WHERE Variable_name IN "+
		"('log_bin','binlog_format','binlog_row_metadata','binlog_row_image','server_id','binlog_gtid_index','gtid_strict_mode')")
	if err != nil {
		return fmt.Errorf("preflight: SHOW GLOBAL VARIABLES: %w", err)
	}
	defer rows.Close()

	vars := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return fmt.Errorf("preflight: SHOW GLOBAL VARIABLES: %w", err)
		}
		vars[strings.ToLower(name)] = value
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("preflight: SHOW GLOBAL VARIABLES: %w", err)
	}

	var errs []string
	if vars["log_bin"] != "ON" {
		errs = append(errs, "log_bin is OFF")
	}
	if vars["binlog_format"] != "ROW" {
		errs = append(errs, "binlog_format != ROW")
	}
	if vars["binlog_row_image"] != "FULL" {
		errs = append(errs, "binlog_row_image != FULL")
	}
	if vars["binlog_row_metadata"] != "FULL" {
		errs = append(errs, "binlog_row_metadata != FULL")
	}
	if vars["binlog_gtid_index"] != "ON" {
		errs = append(errs, "binlog_gtid_index != ON")
	}
	if vars["gtid_strict_mode"] != "ON" {
		errs = append(errs, "gtid_strict_mode != ON")
	}
	if id, convErr := strconv.Atoi(vars["server_id"]); convErr != nil || id <= 0 {
		errs = append(errs, "server_id not set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("preflight: %s", strings.Join(errs, "; "))
	}
	log.Infof("preflight: variables ok")
	return nil
}

func readonlyCheck(ctx context.Context, r Resources, log loggers.Advanced) error {
	_, err := r.DB.ExecContext(ctx, "CREATE TEMPORARY TABLE preflight_readonly_probe (id INT)")
	if err == nil {
		_, _ = r.DB.ExecContext(ctx, "DROP TEMPORARY TABLE preflight_readonly_probe")
		return fmt.Errorf("preflight: user can CREATE tables, expected read-only access")
	}
	log.Infof("preflight: read-only confirmed")
	return nil
}

func tablesCheck(ctx context.Context, r Resources, log loggers.Advanced) error {
	if len(r.Tables) == 0 {
		return nil
	}
	rows, err := r.DB.QueryContext(ctx, "SHOW TABLES FROM "+r.Schema)
	if err != nil {
		return fmt.Errorf("preflight: SHOW TABLES FROM %s: %w", r.Schema, err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("preflight: SHOW TABLES FROM %s: %w", r.Schema, err)
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("preflight: SHOW TABLES FROM %s: %w", r.Schema, err)
	}

	var missing []string
	for _, t := range r.Tables {
		if !existing[t] {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("preflight: tables not found in %s: %s", r.Schema, strings.Join(missing, ", "))
	}
	log.Infof("preflight: all %d configured tables present", len(r.Tables))
	return nil
}

// binlogProbeCheck opens a throwaway replication connection with a fake
// server id and confirms it can open and iterate once without error. It
// neither resumes from nor advances any persisted position.
func binlogProbeCheck(ctx context.Context, r Resources, log loggers.Advanced) error {
	var file string
	var pos uint32
	row := r.DB.QueryRowContext(ctx, "SHOW MASTER STATUS")
	if err := row.Scan(&file, &pos, new(sql.NullString), new(sql.NullString), new(sql.NullString)); err != nil {
		return fmt.Errorf("preflight: SHOW MASTER STATUS: %w", err)
	}

	syncer := replication.NewBinlogSyncer(replication.BinlogSyncerConfig{
		ServerID: 999999,
		Flavor:   mysql.MariaDBFlavor,
		Host:     r.Host,
		Port:     r.Port,
		User:     r.User,
		Password: r.Password,
	})
	defer syncer.Close()

	streamer, err := syncer.StartSync(mysql.Position{Name: file, Pos: pos})
	if err != nil {
		return fmt.Errorf("preflight: probing binlog stream: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = streamer.GetEvent(probeCtx)
	if err != nil && probeCtx.Err() == nil {
		return fmt.Errorf("preflight: probing binlog stream: %w", err)
	}
	log.Infof("preflight: binlog probe ok")
	return nil
}
